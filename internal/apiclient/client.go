// Package apiclient holds the REST clients for the services a call console
// talks to: the supervisor backend ([Supervisor]) and a remote frontdesk
// console API ([Console]).
//
// Every request goes through a circuit breaker per configured base URL, with
// fallback URLs tried in order when the primary fails. Only transport errors
// and 5xx/429 responses count as breaker failures; any other non-2xx status
// is returned at once as a [*StatusError]. Requests are traced with
// otelhttp, which also propagates the caller's trace context.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/internal/resilience"
	"github.com/MrWong99/frontdesk/pkg/types"
)

const (
	// DefaultTimeout bounds one HTTP round trip when [Config.Timeout] is zero.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Config configures a client.
type Config struct {
	// BaseURL is the primary endpoint, e.g. "http://localhost:8001". Required.
	BaseURL string

	// FallbackURLs are tried in order when BaseURL is failing.
	FallbackURLs []string

	// Timeout bounds a single request attempt. Default: [DefaultTimeout].
	Timeout time.Duration

	// MaxFailures and ResetTimeout tune the per-endpoint circuit breakers.
	MaxFailures  int
	ResetTimeout time.Duration

	// HTTPClient overrides the HTTP client. Its Timeout is left untouched.
	HTTPClient *http.Client

	Metrics *observe.Metrics
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int

	// Message is the server's error text, taken from an {"error": ...} or
	// {"detail": ...} body when present.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API Error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("API Error: %d %s", e.StatusCode, e.Message)
}

// Unwrap maps the status to the shared error kinds: 400 and 422 to a
// [*types.ValidationError] carrying the server's message, 404 to
// [types.ErrNotFound].
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return types.NewValidationError("", e.Message)
	case http.StatusNotFound:
		return types.ErrNotFound
	}
	return nil
}

// isFailure decides which errors count against a circuit breaker.
func isFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// errorKind classifies err for the backend error counter.
func errorKind(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se) && se.StatusCode >= 500:
		return "status_5xx"
	case errors.As(err, &se):
		return "status_4xx"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "network"
	}
}

// client is the transport shared by [Supervisor] and [Console].
type client struct {
	name      string
	http      *http.Client
	endpoints *resilience.FallbackGroup[string]
	metrics   *observe.Metrics
}

// request describes one API call. route is the low-cardinality form of path
// used in metrics.
type request struct {
	method string
	route  string
	path   string
	query  url.Values
	body   any
}

func newClient(name string, cfg Config) (*client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("apiclient: %s: %w: base url is required", name, types.ErrConfiguration)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("apiclient: %s: parse base url: %w", name, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	metrics := cfg.Metrics
	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		IsFailure:    isFailure,
		OnStateChange: func(breaker string, from, to resilience.State) {
			slog.Info("apiclient: breaker state changed", "breaker", breaker, "from", from, "to", to)
			metrics.RecordBreakerTransition(context.Background(), breaker, to.String())
		},
	}}
	group := resilience.NewFallbackGroup(base, name+" "+base, fb)
	for _, u := range cfg.FallbackURLs {
		if u = strings.TrimRight(u, "/"); u != "" {
			group.AddFallback(name+" "+u, u)
		}
	}

	return &client{name: name, http: hc, endpoints: group, metrics: metrics}, nil
}

// Breakers exposes the per-endpoint breakers for readiness checks.
func (c *client) Breakers() []*resilience.CircuitBreaker {
	return c.endpoints.Breakers()
}

// do sends req and decodes a JSON response into out, which may be nil.
func (c *client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return fmt.Errorf("apiclient: %s %s: encode body: %w", req.method, req.route, err)
		}
	}

	start := time.Now()
	raw, err := resilience.ExecuteWithResult(ctx, c.endpoints, func(ctx context.Context, base string) ([]byte, error) {
		return c.roundTrip(ctx, base, req, payload)
	})
	c.metrics.RecordBackendRequest(ctx, req.route, time.Since(start), errorKind(err), err)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", req.method, req.route, err)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("apiclient: %s %s: decode response: %w", req.method, req.route, err)
	}
	return nil
}

func (c *client) roundTrip(ctx context.Context, base string, req request, payload []byte) ([]byte, error) {
	target := base + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Accept", "application/json")
	if payload != nil {
		hr.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}
	return raw, nil
}

// errorMessage extracts the human-readable message from an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(raw, &body) != nil {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return msg
	}
	if body.Error != "" {
		return body.Error
	}
	if s, ok := body.Detail.(string); ok {
		return s
	}
	return ""
}
