// Package config provides the configuration schema and loader for the
// frontdesk console server.
package config

import (
	"time"

	"github.com/MrWong99/frontdesk/pkg/types"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultConnectTimeout = 15 * time.Second
	DefaultRetention      = 10 * time.Minute
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Registrar RegistrarConfig `yaml:"registrar"`
	Backend   BackendConfig   `yaml:"backend"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Calls     CallsConfig     `yaml:"calls"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists the browser origins allowed by CORS. Empty allows
	// every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TransportConfig locates the voice transport and holds the material used
// to sign session credentials.
type TransportConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// TokenTTL is the credential lifetime. Zero uses the gateway default.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// ConnectTimeout bounds joining the room after a credential was minted.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RegistrarConfig selects the customer session store.
type RegistrarConfig struct {
	// PostgresDSN is the PostgreSQL connection string. When empty, sessions
	// are kept in memory and lost on restart.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BackendConfig points at the supervisor REST backend.
type BackendConfig struct {
	// BaseURL is the primary endpoint. When empty, the supervisor views are
	// not served.
	BaseURL string `yaml:"base_url"`

	// FallbackURLs are tried in order while BaseURL is failing.
	FallbackURLs []string `yaml:"fallback_urls"`

	Timeout      time.Duration `yaml:"timeout"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DashboardConfig holds the cache windows of the supervisor views. Zero
// values use the built-in defaults; a negative refetch interval disables
// that background loop.
type DashboardConfig struct {
	DashboardStale     time.Duration `yaml:"dashboard_stale"`
	DashboardRefetch   time.Duration `yaml:"dashboard_refetch"`
	KnowledgeBaseStale time.Duration `yaml:"knowledge_base_stale"`
	AnalyticsStale     time.Duration `yaml:"analytics_stale"`
	AnalyticsRefetch   time.Duration `yaml:"analytics_refetch"`
	HealthRefetch      time.Duration `yaml:"health_refetch"`
}

// CallsConfig configures the console-driven calls.
type CallsConfig struct {
	// Retention is how long ended and failed calls stay listed.
	Retention time.Duration `yaml:"retention"`

	// Profile is the agent behaviour handed to every new call. A nil
	// profile uses [types.DefaultCallProfile].
	Profile *types.CallProfile `yaml:"profile"`
}

// CallProfile returns the configured profile or the default one.
func (c *Config) CallProfile() types.CallProfile {
	if c.Calls.Profile == nil {
		return types.DefaultCallProfile()
	}
	return *c.Calls.Profile
}

// ApplyDefaults fills zero-valued fields that have a fixed default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transport.ConnectTimeout == 0 {
		cfg.Transport.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Calls.Retention == 0 {
		cfg.Calls.Retention = DefaultRetention
	}
}
