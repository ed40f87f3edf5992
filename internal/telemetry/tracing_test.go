package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProviderPropagatesTraceContext(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "fincompliance-test", SampleRatio: 1})
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(ctx)) }()

	require.Empty(t, TraceID(ctx))

	spanCtx, span := otel.Tracer("test").Start(ctx, "crawl.cycle")
	defer span.End()
	traceID := TraceID(spanCtx)
	require.Len(t, traceID, 32)

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	require.Contains(t, carrier.Get("traceparent"), traceID)
}

func TestInitTracerProviderRatioSampler(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{SampleRatio: 0})
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(ctx)) }()

	_, span := tp.Tracer("test").Start(ctx, "ingest")
	defer span.End()
	require.False(t, span.SpanContext().IsSampled())
}
