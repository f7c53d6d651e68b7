// Package telemetry wires Chronicle's distributed tracing: every dispatcher
// call and codec round trip already threads a context.Context, so minting a
// tracer provider here is what makes otelhttp's server-side spans and the
// dispatcher's outbound otel.GetTextMapPropagator().Inject calls connect
// into one trace end to end. Grounded on the teacher's
// internal/telemetry.InitTracer (stdout exporter, batched span processor).
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/chronicle-run/chronicle/internal/config"
)

// InitTracer installs a global TracerProvider per cfg and returns its
// shutdown function. When cfg.Enabled is false it installs nothing and
// returns a no-op shutdown, so callers can defer the result unconditionally.
func InitTracer(cfg config.TelemetryConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "chronicle"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}
