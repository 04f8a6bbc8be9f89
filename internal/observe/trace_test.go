package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// useGlobalTracerProvider installs tp for the duration of the test. Tests
// calling it must not be parallel.
func useGlobalTracerProvider(t *testing.T, tp trace.TracerProvider) {
	t.Helper()
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestPropagator_CarriesTraceAndBaggage(t *testing.T) {
	t.Parallel()

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "inbound")
	defer span.End()
	member, err := baggage.NewMember("caller", "5551234567")
	if err != nil {
		t.Fatal(err)
	}
	bag, err := baggage.New(member)
	if err != nil {
		t.Fatal(err)
	}
	ctx = baggage.ContextWithBaggage(ctx, bag)

	h := http.Header{}
	Propagator().Inject(ctx, propagation.HeaderCarrier(h))

	tp0 := h.Get("traceparent")
	if !strings.Contains(tp0, span.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q, want trace id %s", tp0, span.SpanContext().TraceID())
	}

	out := Propagator().Extract(context.Background(), propagation.HeaderCarrier(h))
	if got := CorrelationID(trace.ContextWithSpanContext(out, trace.SpanContextFromContext(out))); got != span.SpanContext().TraceID().String() {
		t.Errorf("extracted trace id = %q", got)
	}
	if v := baggage.FromContext(out).Member("caller").Value(); v != "5551234567" {
		t.Errorf("baggage caller = %q", v)
	}
	if fields := Propagator().Fields(); !slices.Contains(fields, "traceparent") || !slices.Contains(fields, "baggage") {
		t.Errorf("fields = %v", fields)
	}
}

func TestStartCallSpan_TagsCallAndRecordsFailure(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	useGlobalTracerProvider(t, tp)

	ctx, span := StartCallSpan(context.Background(), "call-7", "call.start")
	if got := CallID(ctx); got != "call-7" {
		t.Errorf("CallID = %q", got)
	}
	if CorrelationID(ctx) == "" {
		t.Error("call span has no trace id")
	}
	EndSpan(span, errors.New("transport refused"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "call.start" {
		t.Errorf("name = %q", s.Name)
	}
	if s.Status.Code != codes.Error || s.Status.Description != "transport refused" {
		t.Errorf("status = %+v", s.Status)
	}
	found := false
	for _, a := range s.Attributes {
		if string(a.Key) == AttrCallID && a.Value.AsString() == "call-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("attributes = %v, missing %s", s.Attributes, AttrCallID)
	}
}

func TestEndSpan_SuccessLeavesStatusUnset(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	useGlobalTracerProvider(t, tp)

	_, span := StartCallSpan(context.Background(), "", "call.end")
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Unset {
		t.Errorf("spans = %+v", spans)
	}
}

func TestLogger_Attributes(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	spanCtx, span := tp.Tracer("test").Start(context.Background(), "log")
	defer span.End()
	callCtx := context.WithValue(spanCtx, callIDKey{}, "call-3")

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{name: "no span", ctx: context.Background(), notWant: []string{"trace_id", "call_id"}},
		{name: "span", ctx: spanCtx, want: []string{"trace_id=", "span_id="}, notWant: []string{"call_id"}},
		{name: "call", ctx: callCtx, want: []string{"trace_id=", "call_id=call-3"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tc.ctx).Info("hello")
			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "cid")
	defer span.End()
	if got := CorrelationID(ctx); got != span.SpanContext().TraceID().String() || len(got) != 32 {
		t.Errorf("CorrelationID = %q", got)
	}
}

func TestInitProvider(t *testing.T) {
	origProp := otel.GetTextMapPropagator()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTextMapPropagator(origProp)
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	if _, err := InitProvider(t.Context(), ProviderConfig{SampleRatio: 2}); err == nil {
		t.Error("sample ratio above 1 accepted")
	}

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(t.Context(), ProviderConfig{ServiceName: "frontdesk-test", Registerer: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	if fields := otel.GetTextMapPropagator().Fields(); !slices.Contains(fields, "traceparent") {
		t.Errorf("global propagator fields = %v", fields)
	}

	ctx, span := StartSpan(context.Background(), "sampled")
	if !span.SpanContext().IsSampled() {
		t.Error("span from installed provider is not sampled")
	}
	span.End()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	m.RecordCallTransition(ctx, "idle", "acquiring_credential")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("no metrics exposed through the registerer")
	}
}
