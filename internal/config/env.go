package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables overlaid onto the file configuration by [ApplyEnv].
const (
	EnvTransportURL       = "VOICE_TRANSPORT_URL"
	EnvTransportAPIKey    = "VOICE_TRANSPORT_API_KEY"
	EnvTransportAPISecret = "VOICE_TRANSPORT_API_SECRET"
	EnvRegistrarDSN       = "REGISTRAR_POSTGRES_DSN"
	EnvBackendBaseURL     = "SUPERVISOR_API_BASE_URL"
)

// DefaultEnvFiles are loaded by [LoadDotEnv] when no files are named.
// Earlier files win over later ones.
var DefaultEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads variables from the given dotenv files into the process
// environment. Variables already set in the environment are never
// overwritten and missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with every variable lookup reports as set and
// non-empty. Secrets usually reach the server this way rather than through
// the YAML file.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Transport.URL, EnvTransportURL)
	set(&cfg.Transport.APIKey, EnvTransportAPIKey)
	set(&cfg.Transport.APISecret, EnvTransportAPISecret)
	set(&cfg.Registrar.PostgresDSN, EnvRegistrarDSN)
	set(&cfg.Backend.BaseURL, EnvBackendBaseURL)
}
