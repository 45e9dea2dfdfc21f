package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pushsub-go/internal/config"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.FromEnv(mapEnv(nil))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreBackend != config.BackendPostgres {
		t.Errorf("StoreBackend = %q, want postgres", cfg.StoreBackend)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.PushTTL != 30*time.Second {
		t.Errorf("PushTTL = %v, want 30s", cfg.PushTTL)
	}
	if cfg.PushWorkers != 8 {
		t.Errorf("PushWorkers = %d, want 8", cfg.PushWorkers)
	}
	if cfg.AdminUsername != "admin" {
		t.Errorf("AdminUsername = %q", cfg.AdminUsername)
	}
}

func TestFromEnvParsesValues(t *testing.T) {
	t.Parallel()

	cfg, err := config.FromEnv(mapEnv(map[string]string{
		"STORE_BACKEND": "Redis",
		"REDIS_DB":      "3",
		"PUSH_TTL":      "2m",
		"PUSH_WORKERS":  "4",
		"BASE_URL":      "https://push.example.com/",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.StoreBackend != config.BackendRedis {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.RedisDB != 3 || cfg.PushTTL != 2*time.Minute || cfg.PushWorkers != 4 {
		t.Errorf("unexpected parsed values: %+v", cfg)
	}
	if cfg.BaseURL != "https://push.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
}

func TestFromEnvReportsAllBadNumbers(t *testing.T) {
	t.Parallel()

	_, err := config.FromEnv(mapEnv(map[string]string{
		"REDIS_DB":     "x",
		"PUSH_TTL":     "soon",
		"PUSH_WORKERS": "many",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"REDIS_DB", "PUSH_TTL", "PUSH_WORKERS"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestEnsureVAPIDKeysGeneratesPair(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if err := cfg.EnsureVAPIDKeys(); err != nil {
		t.Fatalf("EnsureVAPIDKeys: %v", err)
	}
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" || !cfg.VAPIDGenerated {
		t.Fatalf("keys not generated: %+v", cfg)
	}

	kept := &config.Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}
	if err := kept.EnsureVAPIDKeys(); err != nil {
		t.Fatalf("EnsureVAPIDKeys: %v", err)
	}
	if kept.VAPIDPublicKey != "pub" || kept.VAPIDGenerated {
		t.Fatal("existing keys were replaced")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	good := config.Config{
		StoreBackend:    config.BackendPostgres,
		DatabaseURL:     "postgres://localhost/push",
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
		VAPIDSubject:    "mailto:ops@example.com",
		PushWorkers:     1,
		SessionSecret:   strings.Repeat("k", 32),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate(good) = %v", err)
	}

	bad := good
	bad.StoreBackend = "mongo"
	bad.VAPIDSubject = "ops@example.com"
	bad.SessionSecret = "short"
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"STORE_BACKEND", "VAPID_SUBJECT", "SESSION_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("PORT=9191\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9191" {
		t.Fatalf("Port = %q, want 9191 from env file", cfg.Port)
	}
}

func TestLoadIgnoresMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}
