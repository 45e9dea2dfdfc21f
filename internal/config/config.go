// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port    string
	BaseURL string

	StoreBackend  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	// VAPIDGenerated is set when the key pair was created at startup and
	// will not survive a restart.
	VAPIDGenerated bool

	PushTTL     time.Duration
	PushWorkers int

	SessionSecret     string
	AdminUsername     string
	AdminPasswordHash string
	AdminTOTPSecret   string
	NotifySecret      string

	LogLevel  string
	LogFormat string
}

// Load reads the optional env files (".env" when none are given) and then the
// process environment. Missing files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:              withDefault(getenv("PORT"), "8080"),
		BaseURL:           strings.TrimRight(getenv("BASE_URL"), "/"),
		StoreBackend:      strings.ToLower(withDefault(getenv("STORE_BACKEND"), BackendPostgres)),
		DatabaseURL:       getenv("DATABASE_URL"),
		RedisAddr:         withDefault(getenv("REDIS_ADDR"), "localhost:6379"),
		RedisPassword:     getenv("REDIS_PASSWORD"),
		VAPIDPublicKey:    getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:   getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:      withDefault(getenv("VAPID_SUBJECT"), "mailto:admin@example.com"),
		PushTTL:           30 * time.Second,
		PushWorkers:       8,
		SessionSecret:     getenv("SESSION_SECRET"),
		AdminUsername:     withDefault(getenv("ADMIN_USERNAME"), "admin"),
		AdminPasswordHash: getenv("ADMIN_PASSWORD_HASH"),
		AdminTOTPSecret:   getenv("ADMIN_TOTP_SECRET"),
		NotifySecret:      getenv("NOTIFY_SECRET"),
		LogLevel:          withDefault(getenv("LOG_LEVEL"), "info"),
		LogFormat:         withDefault(getenv("LOG_FORMAT"), "json"),
	}

	var errs []error
	if v := getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		}
		cfg.RedisDB = db
	}
	if v := getenv("PUSH_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PUSH_TTL: %w", err))
		}
		cfg.PushTTL = ttl
	}
	if v := getenv("PUSH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PUSH_WORKERS: %w", err))
		}
		cfg.PushWorkers = n
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// EnsureVAPIDKeys generates a key pair when either half is missing.
func (c *Config) EnsureVAPIDKeys() error {
	if c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != "" {
		return nil
	}
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate VAPID keys: %w", err)
	}
	c.VAPIDPrivateKey = privateKey
	c.VAPIDPublicKey = publicKey
	c.VAPIDGenerated = true
	return nil
}

// Validate checks settings required to serve.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not supported", c.StoreBackend))
	}
	if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required"))
	}
	if !strings.HasPrefix(c.VAPIDSubject, "mailto:") && !strings.HasPrefix(c.VAPIDSubject, "https://") {
		errs = append(errs, errors.New("VAPID_SUBJECT must be a mailto: or https:// URL"))
	}
	if c.PushTTL < 0 {
		errs = append(errs, errors.New("PUSH_TTL must not be negative"))
	}
	if c.PushWorkers < 1 {
		errs = append(errs, errors.New("PUSH_WORKERS must be at least 1"))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
