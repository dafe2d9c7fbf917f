// Package telemetry configures OpenTelemetry tracing for the process.
package telemetry

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/go-scripts/examcrawl/internal/duration"
)

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a global tracer provider exporting over OTLP/gRPC to
// endpoint. With an empty endpoint tracing stays a no-op.
func Setup(ctx context.Context, serviceName, endpoint string, logger *log.Logger) (ShutdownFunc, error) {
	if endpoint == "" {
		return noop, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, duration.ExporterConnect)
	defer cancel()

	exporter, err := otlptracegrpc.New(connectCtx, otlptracegrpc.WithEndpointURL(endpoint))
	if err != nil {
		return noop, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	shutdown := Install(serviceName, sdktrace.WithBatcher(exporter))
	if logger != nil {
		logger.Info("tracing enabled", "endpoint", endpoint, "service", serviceName)
	}
	return shutdown, nil
}

// Install sets a global tracer provider built from opts and returns its
// shutdown. Tests pass a syncer around an in-memory exporter.
func Install(serviceName string, opts ...sdktrace.TracerProviderOption) ShutdownFunc {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
	provider := sdktrace.NewTracerProvider(append(opts, sdktrace.WithResource(res))...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown
}
