// Package tracing holds the process-wide tracer the repositories and engines
// start their spans from. Until SetTracer is called every span is a no-op, so
// instrumented code needs no enabled/disabled branching.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the tracer used for all spans
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a named span and returns the context carrying it. With no
// tracer configured the returned span is the context's existing (no-op) span.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}
