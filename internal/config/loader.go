package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays the environment
// (see [ApplyEnv]) and returns a validated [Config]. An empty path starts
// from an empty document so that a deployment can be configured from the
// environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return build(strings.NewReader(""), os.LookupEnv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := build(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// The environment is not consulted. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return build(r, nil)
}

func build(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Transport
	if cfg.Transport.APIKey == "" || cfg.Transport.APISecret == "" {
		slog.Warn("transport.api_key or transport.api_secret is empty; calls cannot be started until signing material is configured")
	}
	if cfg.Transport.URL == "" {
		slog.Warn("transport.url is empty; credentials will not tell callers where to connect")
	} else if err := checkURL(cfg.Transport.URL, "ws", "wss", "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("transport.url: %w", err))
	}
	errs = appendNegative(errs, "transport.token_ttl", cfg.Transport.TokenTTL)
	errs = appendNegative(errs, "transport.connect_timeout", cfg.Transport.ConnectTimeout)

	// Registrar
	if cfg.Registrar.PostgresDSN == "" {
		slog.Warn("registrar.postgres_dsn is empty; customer sessions are kept in memory only")
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		if len(cfg.Backend.FallbackURLs) > 0 {
			errs = append(errs, errors.New("backend.fallback_urls requires backend.base_url"))
		}
		slog.Warn("backend.base_url is empty; supervisor views are disabled")
	} else if err := checkURL(cfg.Backend.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	for i, u := range cfg.Backend.FallbackURLs {
		if err := checkURL(u, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("backend.fallback_urls[%d]: %w", i, err))
		}
	}
	errs = appendNegative(errs, "backend.timeout", cfg.Backend.Timeout)
	errs = appendNegative(errs, "backend.reset_timeout", cfg.Backend.ResetTimeout)
	if cfg.Backend.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("backend.max_failures %d must not be negative", cfg.Backend.MaxFailures))
	}

	// Dashboard. Refetch intervals may be negative to disable a loop.
	errs = appendNegative(errs, "dashboard.dashboard_stale", cfg.Dashboard.DashboardStale)
	errs = appendNegative(errs, "dashboard.knowledge_base_stale", cfg.Dashboard.KnowledgeBaseStale)
	errs = appendNegative(errs, "dashboard.analytics_stale", cfg.Dashboard.AnalyticsStale)

	// Calls
	errs = appendNegative(errs, "calls.retention", cfg.Calls.Retention)
	if p := cfg.Calls.Profile; p != nil {
		if strings.TrimSpace(p.Instructions) == "" {
			errs = append(errs, errors.New("calls.profile.instructions is required when a profile is set"))
		}
		if t := p.SessionConfig.Temperature; t < 0 || t > 2 {
			errs = append(errs, fmt.Errorf("calls.profile.session_config.temperature %.2f is out of range [0, 2]", t))
		}
		if n := p.SessionConfig.MaxOutputTokens; n != nil && *n <= 0 {
			errs = append(errs, fmt.Errorf("calls.profile.session_config.max_output_tokens %d must be positive", *n))
		}
	}

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %s must not be negative", field, d))
	}
	return errs
}

// checkURL reports whether raw is an absolute URL with one of schemes.
func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q has unsupported scheme %q; valid schemes: %s", raw, u.Scheme, strings.Join(schemes, ", "))
}
