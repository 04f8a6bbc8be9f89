package config

import (
	"slices"
	"time"

	"github.com/MrWong99/frontdesk/pkg/types"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProfileChanged bool
	NewProfile     types.CallProfile

	DashboardChanged bool
	NewDashboard     DashboardConfig

	RetentionChanged bool
	NewRetention     time.Duration

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ProfileChanged || d.DashboardChanged ||
		d.RetentionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !profileEqual(old.CallProfile(), new.CallProfile()) {
		d.ProfileChanged = true
		d.NewProfile = new.CallProfile()
	}

	if old.Dashboard != new.Dashboard {
		d.DashboardChanged = true
		d.NewDashboard = new.Dashboard
	}

	if old.Calls.Retention != new.Calls.Retention {
		d.RetentionChanged = true
		d.NewRetention = new.Calls.Retention
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Transport != new.Transport {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if old.Registrar != new.Registrar {
		d.RestartRequired = append(d.RestartRequired, "registrar")
	}
	if !backendEqual(old.Backend, new.Backend) {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}

	return d
}

func profileEqual(a, b types.CallProfile) bool {
	if a.Instructions != b.Instructions {
		return false
	}
	as, bs := a.SessionConfig, b.SessionConfig
	if as.Model != bs.Model || as.Modalities != bs.Modalities ||
		as.Voice != bs.Voice || as.Temperature != bs.Temperature {
		return false
	}
	switch {
	case as.MaxOutputTokens == nil && bs.MaxOutputTokens == nil:
		return true
	case as.MaxOutputTokens == nil || bs.MaxOutputTokens == nil:
		return false
	}
	return *as.MaxOutputTokens == *bs.MaxOutputTokens
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func backendEqual(a, b BackendConfig) bool {
	return a.BaseURL == b.BaseURL &&
		slices.Equal(a.FallbackURLs, b.FallbackURLs) &&
		a.Timeout == b.Timeout &&
		a.MaxFailures == b.MaxFailures &&
		a.ResetTimeout == b.ResetTimeout
}
