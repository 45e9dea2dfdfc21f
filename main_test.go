package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"pushsub-go/internal/metrics"
	"pushsub-go/internal/models"
	"pushsub-go/internal/notify"
	"pushsub-go/internal/pushclient"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func envValue(t *testing.T, out, name string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, name+"="); ok {
			return v
		}
	}
	t.Fatalf("%s not found in output:\n%s", name, out)
	return ""
}

func TestVAPIDKeysCommand(t *testing.T) {
	out, err := runCommand(t, "", "vapid-keys")
	if err != nil {
		t.Fatalf("vapid-keys: %v", err)
	}
	pub := envValue(t, out, "VAPID_PUBLIC_KEY")
	envValue(t, out, "VAPID_PRIVATE_KEY")

	key, err := pushclient.URLBase64ToBytes(pub)
	if err != nil {
		t.Fatalf("public key does not decode: %v", err)
	}
	if len(key) != 65 {
		t.Fatalf("public key is %d bytes, want 65", len(key))
	}
}

func TestAdminHashCommand(t *testing.T) {
	out, err := runCommand(t, "correct horse\n", "admin-hash")
	if err != nil {
		t.Fatalf("admin-hash: %v", err)
	}
	admin := models.Admin{PasswordHash: envValue(t, out, "ADMIN_PASSWORD_HASH")}
	if !admin.CheckPassword("correct horse") {
		t.Fatal("printed hash does not match the password")
	}

	if _, err := runCommand(t, "\n", "admin-hash"); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestTOTPSetupCommand(t *testing.T) {
	out, err := runCommand(t, "", "totp-setup", "--account", "ops")
	if err != nil {
		t.Fatalf("totp-setup: %v", err)
	}
	if envValue(t, out, "ADMIN_TOTP_SECRET") == "" {
		t.Fatal("empty secret")
	}
	if !strings.Contains(out, "otpauth://totp/pushsub:ops") {
		t.Fatalf("missing otpauth URL:\n%s", out)
	}
}

func TestNotifyCommandRequiresTitle(t *testing.T) {
	_, err := runCommand(t, "", "notify")
	if err == nil || !strings.Contains(err.Error(), "--title") {
		t.Fatalf("err = %v, want missing title", err)
	}
}

func TestNotifyCommandRejectsUnknownEvent(t *testing.T) {
	_, err := runCommand(t, "", "notify", "--event", "like", "--subject", "Go Tips")
	if !errors.Is(err, notify.ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestBuildNotification(t *testing.T) {
	t.Parallel()

	n, err := buildNotification("post", "Go Tips", "ignored", "ignored", "/post/7")
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	if want := notify.NewPostNotification("Go Tips", "/post/7"); n != want {
		t.Fatalf("post event = %+v, want %+v", n, want)
	}

	n, err = buildNotification("", "", "Hello", "World", "/")
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	if n.Title != "Hello" || n.Body != "World" || n.URL != "/" {
		t.Fatalf("plain = %+v", n)
	}

	if _, err := buildNotification("comment", "", "", "", "/"); !errors.Is(err, notify.ErrMissingSubject) {
		t.Fatalf("comment without subject = %v", err)
	}
}

func TestLogNewSubscriptionsCountsEvents(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	events := make(chan string, 2)
	events <- "https://push.example.com/a"
	events <- "https://push.example.com/b"
	close(events)

	logNewSubscriptions(events, zap.NewNop(), m)

	if got := testutil.ToFloat64(m.SubscriptionsAnnounced); got != 2 {
		t.Fatalf("announced = %v, want 2", got)
	}
}
