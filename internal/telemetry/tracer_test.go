package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/chronicle-run/chronicle/internal/config"
)

func TestInitTracer_Disabled_NoOpShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := InitTracer(config.TelemetryConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v, want nil", err)
	}
}

func TestInitTracer_Enabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := InitTracer(config.TelemetryConfig{Enabled: true, ServiceName: "chronicle-test"}, logger)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	}()
}
