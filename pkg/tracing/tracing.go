// Package tracing wraps OpenTelemetry span creation and carries W3C trace
// context across Kafka messages
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// W3C trace context header names
const (
	HeaderTraceParent = "traceparent"
	HeaderTraceState  = "tracestate"
)

var tracer trace.Tracer

// SetTracer installs the package tracer. A nil tracer turns spans into no-ops.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span named pkg.Type.Method
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

func spanContext(ctx context.Context) (trace.SpanContext, bool) {
	if tracer == nil {
		return trace.SpanContext{}, false
	}
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

// TraceContext returns the traceparent and tracestate of the span on ctx,
// or empty strings when there is none
func TraceContext(ctx context.Context) (traceParent, traceState string) {
	if _, ok := spanContext(ctx); !ok {
		return "", ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get(HeaderTraceParent), carrier.Get(HeaderTraceState)
}

func GetTraceParent(ctx context.Context) string {
	traceParent, _ := TraceContext(ctx)
	return traceParent
}

// GetTraceID returns the hex trace id of the span on ctx
func GetTraceID(ctx context.Context) string {
	sc, ok := spanContext(ctx)
	if !ok {
		return ""
	}
	return sc.TraceID().String()
}

// WithRemoteParent returns a context whose span parent is the remote span
// described by a traceparent/tracestate pair. An empty traceparent returns
// ctx unchanged.
func WithRemoteParent(ctx context.Context, traceParent, traceState string) context.Context {
	if traceParent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{HeaderTraceParent: traceParent}
	if traceState != "" {
		carrier.Set(HeaderTraceState, traceState)
	}
	return propagation.TraceContext{}.Extract(ctx, carrier)
}
