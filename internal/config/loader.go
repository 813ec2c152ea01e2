package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "INOBRIDGE_"

// Load builds the effective configuration: defaults, then the TOML file at
// path (skipped when path is empty), then environment overrides, then
// validation. Precedence is environment > file > defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays INOBRIDGE_* variables onto cfg.
func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	setString("LISTEN", &cfg.Server.Listen)
	setString("LSP_COMMAND", &cfg.LSP.Command)
	setString("PROJECTS_ROOT", &cfg.LSP.ProjectsRoot)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	if v, ok := os.LookupEnv(envPrefix + "REQUEST_TIMEOUT"); ok {
		if err := cfg.LSP.RequestTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sREQUEST_TIMEOUT: %w", envPrefix, err)
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "COMPLETION_RESOLVE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sCOMPLETION_RESOLVE: %w", envPrefix, err)
		}
		cfg.LSP.SupportsCompletionResolve = b
	}
	return nil
}
