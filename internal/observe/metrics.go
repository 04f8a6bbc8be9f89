// Package observe provides application-wide observability primitives for
// frontdesk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// All Record* helpers are safe to call on a nil *Metrics, so components can
// treat metrics as optional.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all frontdesk metrics.
const meterName = "github.com/MrWong99/frontdesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CredentialMintDuration tracks how long signing a credential takes.
	CredentialMintDuration metric.Float64Histogram

	// CallSetupDuration tracks the time from start to Connected.
	CallSetupDuration metric.Float64Histogram

	// CallDuration tracks how long calls stayed Connected, in seconds.
	CallDuration metric.Float64Histogram

	// BackendRequestDuration tracks outbound REST latency. Use with attribute:
	//   attribute.String("endpoint", ...)
	BackendRequestDuration metric.Float64Histogram

	// --- Counters ---

	// CredentialMints counts mint attempts. Use with attribute:
	//   attribute.String("status", ...)
	CredentialMints metric.Int64Counter

	// RegistrarOperations counts registrar calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	RegistrarOperations metric.Int64Counter

	// CallTransitions counts state machine transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	CallTransitions metric.Int64Counter

	// TranscriptEntries counts accepted transcript entries. Use with attribute:
	//   attribute.String("channel", ...)
	TranscriptEntries metric.Int64Counter

	// TranscriptDropped counts discarded transcript events. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("reason", ...)
	TranscriptDropped metric.Int64Counter

	// CacheLookups counts dashboard cache reads. Use with attributes:
	//   attribute.String("key", ...), attribute.String("result", ...)
	CacheLookups metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts failed outbound REST calls. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of calls currently in Connected state.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for call
// lengths.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CredentialMintDuration, err = m.Float64Histogram("frontdesk.credential.mint.duration",
		metric.WithDescription("Latency of signing a call credential."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallSetupDuration, err = m.Float64Histogram("frontdesk.call.setup.duration",
		metric.WithDescription("Time from call start until the transport is connected."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("frontdesk.call.duration",
		metric.WithDescription("Connected time of finished calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequestDuration, err = m.Float64Histogram("frontdesk.backend.request.duration",
		metric.WithDescription("Latency of outbound REST requests by endpoint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CredentialMints, err = m.Int64Counter("frontdesk.credential.mints",
		metric.WithDescription("Total credential mint attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.RegistrarOperations, err = m.Int64Counter("frontdesk.registrar.operations",
		metric.WithDescription("Total customer session registrar operations by op and status."),
	); err != nil {
		return nil, err
	}
	if met.CallTransitions, err = m.Int64Counter("frontdesk.call.transitions",
		metric.WithDescription("Total call state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("frontdesk.transcript.entries",
		metric.WithDescription("Total transcript entries accepted by channel."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDropped, err = m.Int64Counter("frontdesk.transcript.dropped",
		metric.WithDescription("Total transcript events discarded by channel and reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("frontdesk.cache.lookups",
		metric.WithDescription("Total dashboard cache lookups by key family and result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("frontdesk.backend.errors",
		metric.WithDescription("Total failed outbound REST requests by endpoint and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("frontdesk.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("frontdesk.active_calls",
		metric.WithDescription("Number of calls currently connected."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("frontdesk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// statusOf maps an error to the "status" attribute value.
func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordCredentialMint records one mint attempt and its latency.
func (m *Metrics) RecordCredentialMint(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := metric.WithAttributes(attribute.String("status", statusOf(err)))
	m.CredentialMints.Add(ctx, 1, status)
	m.CredentialMintDuration.Record(ctx, d.Seconds(), status)
}

// RecordRegistrarOp records one registrar operation.
func (m *Metrics) RecordRegistrarOp(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	m.RegistrarOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", statusOf(err)),
		),
	)
}

// RecordCallTransition records a state machine transition and keeps the
// active-call gauge in step with entering and leaving the connected state.
func (m *Metrics) RecordCallTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.CallTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	const connected = "connected"
	switch {
	case to == connected && from != connected:
		m.ActiveCalls.Add(ctx, 1)
	case from == connected && to != connected:
		m.ActiveCalls.Add(ctx, -1)
	}
}

// RecordCallSetup records the time it took a call to connect.
func (m *Metrics) RecordCallSetup(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.CallSetupDuration.Record(ctx, d.Seconds())
}

// RecordCallDuration records the connected time of a finished call.
func (m *Metrics) RecordCallDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.Record(ctx, d.Seconds())
}

// RecordTranscriptEntry records an accepted transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordTranscriptDrop records a discarded transcript event.
func (m *Metrics) RecordTranscriptDrop(ctx context.Context, channel, reason string) {
	if m == nil {
		return
	}
	m.TranscriptDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("reason", reason),
		),
	)
}

// RecordCacheLookup records a dashboard cache lookup. result is one of
// "hit", "miss" or "stale".
func (m *Metrics) RecordCacheLookup(ctx context.Context, key, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("key", key),
			attribute.String("result", result),
		),
	)
}

// RecordBackendRequest records an outbound REST request. kind classifies the
// failure and is ignored when err is nil.
func (m *Metrics) RecordBackendRequest(ctx context.Context, endpoint string, d time.Duration, kind string, err error) {
	if m == nil {
		return
	}
	m.BackendRequestDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
	if err != nil {
		m.BackendErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("endpoint", endpoint),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
