package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MrWong99/frontdesk/internal/resilience"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// DefaultKnowledgeBaseLimit is the page size used when none is given.
const DefaultKnowledgeBaseLimit = 100

// Supervisor is the client of the supervisor backend.
type Supervisor struct {
	c *client
}

// NewSupervisor creates a Supervisor client.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	c, err := newClient("supervisor", cfg)
	if err != nil {
		return nil, err
	}
	return &Supervisor{c: c}, nil
}

// Dashboard lists the open help requests.
func (s *Supervisor) Dashboard(ctx context.Context) ([]types.HelpRequest, error) {
	var out []types.HelpRequest
	err := s.c.do(ctx, request{method: http.MethodGet, route: "/supervisor/dashboard", path: "/supervisor/dashboard"}, &out)
	return out, err
}

// ResolveHelpRequest answers help request id.
func (s *Supervisor) ResolveHelpRequest(ctx context.Context, id string, req types.ResolveRequest) (types.HelpRequest, error) {
	addToKB := true
	if req.AddToKnowledgeBase != nil {
		addToKB = *req.AddToKnowledgeBase
	}
	q := url.Values{}
	q.Set("supervisor_id", req.SupervisorID)
	q.Set("add_to_kb", strconv.FormatBool(addToKB))

	var out types.HelpRequest
	err := s.c.do(ctx, request{
		method: http.MethodPatch,
		route:  "/supervisor/requests/{id}/resolve",
		path:   "/supervisor/requests/" + url.PathEscape(id) + "/resolve",
		query:  q,
		body: struct {
			SupervisorResponse string `json:"supervisor_response"`
		}{req.SupervisorResponse},
	}, &out)
	return out, err
}

// KnowledgeBase lists knowledge base entries, optionally filtered by
// category. A non-positive limit selects [DefaultKnowledgeBaseLimit].
func (s *Supervisor) KnowledgeBase(ctx context.Context, category string, limit int) ([]types.KnowledgeBaseEntry, error) {
	if limit <= 0 {
		limit = DefaultKnowledgeBaseLimit
	}
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	q.Set("limit", strconv.Itoa(limit))

	var out []types.KnowledgeBaseEntry
	err := s.c.do(ctx, request{method: http.MethodGet, route: "/supervisor/knowledge-base", path: "/supervisor/knowledge-base", query: q}, &out)
	return out, err
}

// AddKnowledgeEntry stores a new question/answer pair.
func (s *Supervisor) AddKnowledgeEntry(ctx context.Context, e types.NewKnowledgeEntry) (types.KnowledgeBaseEntry, error) {
	var out types.KnowledgeBaseEntry
	err := s.c.do(ctx, request{method: http.MethodPost, route: "/supervisor/knowledge-base", path: "/supervisor/knowledge-base", body: e}, &out)
	return out, err
}

// Analytics returns the activity summary.
func (s *Supervisor) Analytics(ctx context.Context) (types.Analytics, error) {
	var out types.Analytics
	err := s.c.do(ctx, request{method: http.MethodGet, route: "/supervisor/analytics", path: "/supervisor/analytics"}, &out)
	return out, err
}

// CleanupTimeouts marks overdue help requests as timed out.
func (s *Supervisor) CleanupTimeouts(ctx context.Context) (types.CleanupResult, error) {
	var out types.CleanupResult
	err := s.c.do(ctx, request{method: http.MethodPost, route: "/supervisor/cleanup-timeouts", path: "/supervisor/cleanup-timeouts"}, &out)
	return out, err
}

// Health returns the backend's health report.
func (s *Supervisor) Health(ctx context.Context) (types.BackendHealth, error) {
	var out types.BackendHealth
	err := s.c.do(ctx, request{method: http.MethodGet, route: "/health", path: "/health"}, &out)
	return out, err
}

// Ping reports whether the backend answers its health endpoint.
func (s *Supervisor) Ping(ctx context.Context) error {
	_, err := s.Health(ctx)
	return err
}

// Breakers returns the circuit breaker of every configured endpoint.
func (s *Supervisor) Breakers() []*resilience.CircuitBreaker { return s.c.Breakers() }
