package logging_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"pushsub-go/internal/logging"
)

func TestNewHonoursLevel(t *testing.T) {
	t.Parallel()

	logger, err := logging.New("warn", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info enabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("error disabled at warn level")
	}
}

func TestNewRejectsUnknownInput(t *testing.T) {
	t.Parallel()

	if _, err := logging.New("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := logging.New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
