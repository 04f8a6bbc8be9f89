package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the frontdesk tracer.
const tracerName = "github.com/MrWong99/frontdesk"

// AttrCallID is the span attribute and log key carrying the console call id.
const AttrCallID = "call.id"

// Tracer returns the frontdesk tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Propagator is the W3C trace-context and baggage propagator installed by
// [InitProvider] and used by [Middleware]. Outbound REST clients pick it up
// through the global provider.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// StartSpan starts a span on the frontdesk tracer. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

type callIDKey struct{}

// StartCallSpan starts a span for one step of a call and tags it with the
// call id. The id is also stored in the returned context for [Logger].
func StartCallSpan(ctx context.Context, callID, name string) (context.Context, trace.Span) {
	if callID != "" {
		ctx = context.WithValue(ctx, callIDKey{}, callID)
	}
	return StartSpan(ctx, name, trace.WithAttributes(attribute.String(AttrCallID, callID)))
}

// CallID returns the call id stored by [StartCallSpan], or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// It doubles as the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id, span_id and call_id
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := CallID(ctx); id != "" {
		l = l.With(slog.String("call_id", id))
	}
	return l
}
