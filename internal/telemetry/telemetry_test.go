package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "examcrawl-test", "", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInstallRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown := Install("examcrawl-test", sdktrace.WithSyncer(exporter))

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "unit")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "unit", spans[0].Name)
	assert.NoError(t, shutdown(context.Background()))
}
