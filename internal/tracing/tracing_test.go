package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errBoom = errors.New("boom")

// These tests swap the package-level Tracer and therefore do not run in parallel.

func setupExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := Tracer
	Tracer = tp.Tracer(tracerName)

	t.Cleanup(func() {
		Tracer = original
		_ = tp.Shutdown(context.Background())
	})

	return exporter
}

func TestStartReconcileSpan(t *testing.T) {
	exporter := setupExporter(t)

	_, span := StartReconcileSpan(context.Background(), "Application.Reconcile", "web", "default", 3)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Application.Reconcile", spans[0].Name)

	attrs := make(map[string]string)
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.Emit()
	}

	assert.Equal(t, "web", attrs["k8s.resource.name"])
	assert.Equal(t, "default", attrs["k8s.namespace"])
	assert.Equal(t, "Application", attrs["k8s.resource.kind"])
	assert.Equal(t, "3", attrs["k8s.resource.generation"])
}

func TestStartChildSpan_SharesTrace(t *testing.T) {
	exporter := setupExporter(t)

	ctx, parent := StartSweepSpan(context.Background(), "")
	_, child := StartChildSpan(ctx, "ListResources")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext.TraceID(), spans[1].SpanContext.TraceID())
}

func TestRecordSpanError(t *testing.T) {
	exporter := setupExporter(t)

	_, span := StartChildSpan(context.Background(), "op")
	RecordSpanError(span, errBoom)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
}

func TestRecordSpanError_Nil(t *testing.T) {
	exporter := setupExporter(t)

	_, span := StartChildSpan(context.Background(), "op")
	RecordSpanError(span, nil)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
}
