// Package app wires the frontdesk subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithTransport,
// WithRegistrarStore, WithSupervisorBackend). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/frontdesk/internal/apiclient"
	"github.com/MrWong99/frontdesk/internal/config"
	"github.com/MrWong99/frontdesk/internal/credential"
	"github.com/MrWong99/frontdesk/internal/dashboard"
	"github.com/MrWong99/frontdesk/internal/health"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/internal/registrar"
	"github.com/MrWong99/frontdesk/internal/resilience"
	"github.com/MrWong99/frontdesk/pkg/transport"
	"github.com/MrWong99/frontdesk/pkg/transport/ws"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	minter    credential.Minter
	transport transport.Transport
	store     registrar.Store
	registrar *registrar.Registrar
	backend   dashboard.Backend
	dashboard *dashboard.Service
	calls     *CallManager
	handler   http.Handler
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTransport injects the voice transport instead of the WebSocket one.
func WithTransport(t transport.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithRegistrarStore injects a customer session store instead of creating
// one from config.
func WithRegistrarStore(s registrar.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSupervisorBackend injects the supervisor backend instead of the REST
// client.
func WithSupervisorBackend(b dashboard.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reloads adjust the level of the handler behind lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initCredentials()

	if err := a.initRegistrar(ctx); err != nil {
		return nil, fmt.Errorf("app: init registrar: %w", err)
	}

	if err := a.initDashboard(); err != nil {
		return nil, fmt.Errorf("app: init dashboard: %w", err)
	}

	if a.transport == nil {
		a.transport = ws.New()
	}
	a.calls = NewCallManager(CallManagerConfig{
		Credentials:    a.minter,
		Transport:      a.transport,
		Registrar:      a.registrar,
		Profile:        cfg.CallProfile(),
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		Retention:      cfg.Calls.Retention,
		Metrics:        a.metrics,
	})

	a.handler = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// unconfiguredMinter stands in for the gateway when no signing material is
// configured, so that every mint fails with a configuration error.
type unconfiguredMinter struct{}

func (unconfiguredMinter) Mint(context.Context, credential.Request) (credential.Grant, error) {
	return credential.Grant{}, fmt.Errorf("credential: %w: transport api key and secret must be set", types.ErrConfiguration)
}

func (a *App) initCredentials() {
	gw, err := credential.New(credential.Config{
		APIKey:    a.cfg.Transport.APIKey,
		APISecret: a.cfg.Transport.APISecret,
		URL:       a.cfg.Transport.URL,
		TTL:       a.cfg.Transport.TokenTTL,
	}, credential.WithMetrics(a.metrics))
	if err != nil {
		slog.Warn("credential gateway disabled", "err", err)
		a.minter = unconfiguredMinter{}
		return
	}
	a.minter = gw
}

// initRegistrar sets up the PostgreSQL session store or an in-memory one.
func (a *App) initRegistrar(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Registrar.PostgresDSN; dsn != "" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			ps := registrar.NewPostgresStore(pool)
			if err := ps.Migrate(ctx); err != nil {
				pool.Close()
				return err
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			a.store = ps
			slog.Info("registrar: using postgres store")
		} else {
			a.store = registrar.NewMemStore()
		}
	}
	a.registrar = registrar.New(
		registrar.WithStore(a.store),
		registrar.WithMetrics(a.metrics),
	)
	return nil
}

// initDashboard builds the supervisor REST client and the cached service in
// front of it. Without a backend the supervisor views are not served.
func (a *App) initDashboard() error {
	if a.backend == nil {
		if a.cfg.Backend.BaseURL == "" {
			return nil
		}
		sup, err := apiclient.NewSupervisor(apiclient.Config{
			BaseURL:      a.cfg.Backend.BaseURL,
			FallbackURLs: a.cfg.Backend.FallbackURLs,
			Timeout:      a.cfg.Backend.Timeout,
			MaxFailures:  a.cfg.Backend.MaxFailures,
			ResetTimeout: a.cfg.Backend.ResetTimeout,
			Metrics:      a.metrics,
		})
		if err != nil {
			return err
		}
		a.backend = sup
	}
	a.dashboard = dashboard.NewService(a.backend,
		dashboard.WithWindows(dashboardWindows(a.cfg.Dashboard)),
		dashboard.WithCache(dashboard.NewCache(dashboard.WithCacheMetrics(a.metrics))),
	)
	return nil
}

// dashboardWindows maps the config onto the service windows. Zero fields
// keep the service defaults.
func dashboardWindows(c config.DashboardConfig) dashboard.Windows {
	w := dashboard.DefaultWindows()
	set := func(dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
	}
	set(&w.DashboardStale, c.DashboardStale)
	set(&w.DashboardRefetch, c.DashboardRefetch)
	set(&w.KnowledgeBaseStale, c.KnowledgeBaseStale)
	set(&w.AnalyticsStale, c.AnalyticsStale)
	set(&w.AnalyticsRefetch, c.AnalyticsRefetch)
	set(&w.HealthRefetch, c.HealthRefetch)
	return w
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler)
	r.Use(observe.Middleware(a.metrics))

	checkers := []health.Checker{health.PingChecker("registrar", a.store)}
	if b, ok := a.backend.(interface {
		Breakers() []*resilience.CircuitBreaker
	}); ok {
		checkers = append(checkers, health.BreakerChecker("backend", b.Breakers()...))
	}
	health.New(checkers...).Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/token", credential.NewHandler(a.minter))
		r.Route("/customer-session", registrar.NewHandler(a.registrar).Routes)
		r.Route("/calls", (&callsHandler{calls: a.calls}).Routes)
		if a.dashboard != nil {
			dashboard.NewHandler(a.dashboard).Routes(r)
		}
	})
	return r
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Calls returns the call manager.
func (a *App) Calls() *CallManager { return a.calls }

// Dashboard returns the supervisor view service, or nil when no backend is
// configured.
func (a *App) Dashboard() *dashboard.Service { return a.dashboard }

// Run serves HTTP on the configured address and runs the background loops
// until ctx is cancelled. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.calls.Run(gctx) })
	if a.dashboard != nil {
		g.Go(func() error { return a.dashboard.Run(gctx) })
	}

	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a config change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ProfileChanged {
		a.calls.SetProfile(d.NewProfile)
		slog.Info("call profile updated; applies to new calls")
	}
	if d.RetentionChanged {
		a.calls.SetRetention(d.NewRetention)
	}
	if d.DashboardChanged && a.dashboard != nil {
		a.dashboard.SetWindows(dashboardWindows(d.NewDashboard))
		slog.Info("dashboard windows updated")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config level to a slog level. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown ends every call and releases the stores. It respects the context
// deadline: if ctx expires before all closers ran, the remaining ones are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.calls.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
