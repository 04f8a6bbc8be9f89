package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/frontdesk/internal/credential"
	"github.com/MrWong99/frontdesk/internal/registrar"
	"github.com/MrWong99/frontdesk/internal/resilience"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Console is the client of a frontdesk console API. It satisfies the
// credential source and session registrar dependencies of a call machine,
// so a call can be driven from a process that holds no signing keys.
type Console struct {
	c *client
}

// NewConsole creates a Console client.
func NewConsole(cfg Config) (*Console, error) {
	c, err := newClient("console", cfg)
	if err != nil {
		return nil, err
	}
	return &Console{c: c}, nil
}

// Mint requests a transport credential via POST /api/token.
func (c *Console) Mint(ctx context.Context, req credential.Request) (credential.Grant, error) {
	var out credential.Grant
	err := c.c.do(ctx, request{method: http.MethodPost, route: "/api/token", path: "/api/token", body: req}, &out)
	return out, err
}

// Create registers a customer session via POST /api/customer-session.
func (c *Console) Create(ctx context.Context, phone, name string) (types.CustomerSession, error) {
	var out registrar.Response
	err := c.c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/customer-session",
		path:   "/api/customer-session",
		body:   registrar.CreateRequest{CustomerPhone: phone, CustomerName: name},
	}, &out)
	return out.Session.CustomerSession, err
}

// End marks a customer session ended via PUT /api/customer-session. A nil
// endTime lets the server stamp the current time.
func (c *Console) End(ctx context.Context, sessionID string, endTime *time.Time) (types.CustomerSession, error) {
	var out registrar.Response
	err := c.c.do(ctx, request{
		method: http.MethodPut,
		route:  "/api/customer-session",
		path:   "/api/customer-session",
		body:   registrar.Update{SessionID: sessionID, Status: types.SessionEnded, EndTime: endTime},
	}, &out)
	return out.Session.CustomerSession, err
}

// Session fetches a customer session via GET /api/customer-session.
func (c *Console) Session(ctx context.Context, l registrar.Lookup) (registrar.SessionView, error) {
	q := url.Values{}
	if l.SessionID != "" {
		q.Set("sessionId", l.SessionID)
	}
	if l.Phone != "" {
		q.Set("customerPhone", l.Phone)
	}
	var out registrar.Response
	err := c.c.do(ctx, request{method: http.MethodGet, route: "/api/customer-session", path: "/api/customer-session", query: q}, &out)
	return out.Session, err
}

// Breakers returns the circuit breaker of every configured endpoint.
func (c *Console) Breakers() []*resilience.CircuitBreaker { return c.c.Breakers() }
