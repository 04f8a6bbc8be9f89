package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/frontdesk/pkg/types"
)

// Cache keys. Knowledge base entries are keyed per category below
// keyKnowledgeBase so one prefix invalidates every category.
const (
	keyDashboard     = "dashboard"
	keyKnowledgeBase = "knowledge_base"
	keyAnalytics     = "analytics"
	keyHealth        = "health"
)

func knowledgeBaseKey(category string) string {
	return keyKnowledgeBase + ":" + category
}

// Backend is the supervisor API the service reads from and writes to.
// Implemented by [apiclient.Supervisor].
type Backend interface {
	Dashboard(ctx context.Context) ([]types.HelpRequest, error)
	ResolveHelpRequest(ctx context.Context, id string, req types.ResolveRequest) (types.HelpRequest, error)
	KnowledgeBase(ctx context.Context, category string, limit int) ([]types.KnowledgeBaseEntry, error)
	AddKnowledgeEntry(ctx context.Context, e types.NewKnowledgeEntry) (types.KnowledgeBaseEntry, error)
	Analytics(ctx context.Context) (types.Analytics, error)
	CleanupTimeouts(ctx context.Context) (types.CleanupResult, error)
	Health(ctx context.Context) (types.BackendHealth, error)
}

// Windows are the freshness and background refetch intervals. A
// non-positive refetch interval disables that background loop.
type Windows struct {
	DashboardStale     time.Duration
	DashboardRefetch   time.Duration
	KnowledgeBaseStale time.Duration
	AnalyticsStale     time.Duration
	AnalyticsRefetch   time.Duration
	HealthRefetch      time.Duration
}

// DefaultWindows returns the intervals the supervisor views were designed
// around.
func DefaultWindows() Windows {
	return Windows{
		DashboardStale:     10 * time.Second,
		DashboardRefetch:   30 * time.Second,
		KnowledgeBaseStale: 5 * time.Minute,
		AnalyticsStale:     30 * time.Second,
		AnalyticsRefetch:   time.Minute,
		HealthRefetch:      time.Minute,
	}
}

// Service is the cached view of the supervisor backend.
type Service struct {
	backend Backend
	cache   *Cache

	mu      sync.RWMutex
	windows Windows
}

// Option configures a [Service].
type Option func(*Service)

// WithWindows overrides [DefaultWindows].
func WithWindows(w Windows) Option {
	return func(s *Service) { s.windows = w }
}

// WithCache supplies the cache. Tests use it to control time.
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// NewService creates a Service reading from backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{backend: backend, windows: DefaultWindows()}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	return s
}

// Windows returns the current intervals.
func (s *Service) Windows() Windows {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows
}

// SetWindows replaces the intervals. Running refetch loops pick the new
// values up after their current wait.
func (s *Service) SetWindows(w Windows) {
	s.mu.Lock()
	s.windows = w
	s.mu.Unlock()
}

// Dashboard returns the open help requests.
func (s *Service) Dashboard(ctx context.Context) ([]types.HelpRequest, error) {
	return Get(ctx, s.cache, keyDashboard, s.Windows().DashboardStale, s.backend.Dashboard)
}

// KnowledgeBase returns the entries of category, or of every category when
// it is empty.
func (s *Service) KnowledgeBase(ctx context.Context, category string) ([]types.KnowledgeBaseEntry, error) {
	return Get(ctx, s.cache, knowledgeBaseKey(category), s.Windows().KnowledgeBaseStale,
		func(ctx context.Context) ([]types.KnowledgeBaseEntry, error) {
			return s.backend.KnowledgeBase(ctx, category, 0)
		})
}

// Analytics returns the activity summary.
func (s *Service) Analytics(ctx context.Context) (types.Analytics, error) {
	return Get(ctx, s.cache, keyAnalytics, s.Windows().AnalyticsStale, s.backend.Analytics)
}

// Health returns the backend's health report. It is considered fresh for one
// refetch interval.
func (s *Service) Health(ctx context.Context) (types.BackendHealth, error) {
	return Get(ctx, s.cache, keyHealth, s.Windows().HealthRefetch, s.backend.Health)
}

// ResolveHelpRequest answers a help request. The dashboard, analytics and
// knowledge base are invalidated on success.
func (s *Service) ResolveHelpRequest(ctx context.Context, id string, req types.ResolveRequest) (types.HelpRequest, error) {
	if req.SupervisorResponse == "" {
		return types.HelpRequest{}, types.NewValidationError("supervisorResponse", MsgResponseRequired)
	}
	hr, err := s.backend.ResolveHelpRequest(ctx, id, req)
	if err != nil {
		return types.HelpRequest{}, fmt.Errorf("dashboard: resolve %s: %w", id, err)
	}
	s.cache.Invalidate(keyDashboard, keyAnalytics, keyKnowledgeBase)
	return hr, nil
}

// AddKnowledgeEntry stores a new entry. The knowledge base and analytics
// are invalidated on success.
func (s *Service) AddKnowledgeEntry(ctx context.Context, e types.NewKnowledgeEntry) (types.KnowledgeBaseEntry, error) {
	switch {
	case e.Question == "":
		return types.KnowledgeBaseEntry{}, types.NewValidationError("question", MsgQuestionRequired)
	case e.Answer == "":
		return types.KnowledgeBaseEntry{}, types.NewValidationError("answer", MsgAnswerRequired)
	}
	out, err := s.backend.AddKnowledgeEntry(ctx, e)
	if err != nil {
		return types.KnowledgeBaseEntry{}, fmt.Errorf("dashboard: add knowledge entry: %w", err)
	}
	s.cache.Invalidate(keyKnowledgeBase, keyAnalytics)
	return out, nil
}

// CleanupTimeouts times out overdue help requests. The dashboard and
// analytics are invalidated on success.
func (s *Service) CleanupTimeouts(ctx context.Context) (types.CleanupResult, error) {
	out, err := s.backend.CleanupTimeouts(ctx)
	if err != nil {
		return types.CleanupResult{}, fmt.Errorf("dashboard: cleanup timeouts: %w", err)
	}
	s.cache.Invalidate(keyDashboard, keyAnalytics)
	return out, nil
}

// Run keeps the dashboard, analytics and health warm by refetching them on
// their refetch intervals until ctx is cancelled. Fetch failures are logged
// and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx, keyDashboard, func(w Windows) time.Duration { return w.DashboardRefetch },
			func(ctx context.Context) error { _, err := Refresh(ctx, s.cache, keyDashboard, s.backend.Dashboard); return err })
	})
	g.Go(func() error {
		return s.loop(ctx, keyAnalytics, func(w Windows) time.Duration { return w.AnalyticsRefetch },
			func(ctx context.Context) error { _, err := Refresh(ctx, s.cache, keyAnalytics, s.backend.Analytics); return err })
	})
	g.Go(func() error {
		return s.loop(ctx, keyHealth, func(w Windows) time.Duration { return w.HealthRefetch },
			func(ctx context.Context) error { _, err := Refresh(ctx, s.cache, keyHealth, s.backend.Health); return err })
	})
	return g.Wait()
}

// idlePoll is how often a disabled loop re-reads its interval.
const idlePoll = 5 * time.Second

func (s *Service) loop(ctx context.Context, name string, interval func(Windows) time.Duration, refresh func(context.Context) error) error {
	for {
		d := interval(s.Windows())
		wait := d
		if d <= 0 {
			wait = idlePoll
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if d <= 0 {
			continue
		}
		if err := refresh(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("dashboard: background refetch failed", "key", name, "err", err)
		}
	}
}
