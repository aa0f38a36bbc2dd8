// Package tracing wraps OpenTelemetry span handling for reconcile and sweep work.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name registered with OTel.
const tracerName = "application-operator"

// Tracer is the package-level OTel tracer. It is a noop until a
// TracerProvider is registered.
//
//nolint:gochecknoglobals // package-level tracer
var Tracer = otel.Tracer(tracerName)

// StartReconcileSpan starts a span for one reconcile attempt of a resource.
// Callers must call span.End().
func StartReconcileSpan(ctx context.Context, spanName, name, namespace string, generation int64) (context.Context, trace.Span) {
	return Tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("k8s.resource.name", name),
			attribute.String("k8s.namespace", namespace),
			attribute.String("k8s.resource.kind", "Application"),
			attribute.Int64("k8s.resource.generation", generation),
		),
	)
}

// StartSweepSpan starts a span covering one sweep.
func StartSweepSpan(ctx context.Context, namespace string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "Sweep",
		trace.WithAttributes(attribute.String("k8s.namespace", namespace)),
	)
}

// StartChildSpan starts a child span under the current trace context.
func StartChildSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, spanName)
}

// RecordSpanError records err on span and marks it failed. Nil is ignored.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
