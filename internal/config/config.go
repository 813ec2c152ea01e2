// Package config loads and watches the inobridge configuration: a TOML file
// overlaid with INOBRIDGE_-prefixed environment variables, validated before
// use, and hot-reloadable so new connections pick up changes without a
// restart.
package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Duration is a time.Duration that unmarshals from TOML strings like "15s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	LSP    LSPConfig    `toml:"lsp"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// LSPConfig covers the language-server side.
type LSPConfig struct {
	// Command is the full launch line for the language server, split
	// quote-aware at connection time. Empty means connections are refused
	// with an application close code.
	Command string `toml:"command"`

	// ProjectsRoot confines per-connection project directories. Empty
	// disables the project query parameter.
	ProjectsRoot string `toml:"projects_root"`

	// RequestTimeout bounds each client request including the initialize
	// handshake.
	RequestTimeout Duration `toml:"request_timeout"`

	// SupportsCompletionResolve enables completionItem/resolve round
	// trips. Leave off for servers that fault on the method.
	SupportsCompletionResolve bool `toml:"supports_completion_resolve"`
}

// LogConfig covers logging output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:9256",
		},
		LSP: LSPConfig{
			RequestTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values that cannot work. An empty
// LSP command is allowed here; the bridge refuses connections for it with a
// dedicated close code, which is more visible to the browser than a failed
// startup.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.LSP.RequestTimeout <= 0 {
		return fmt.Errorf("lsp.request_timeout must be positive, got %s", c.LSP.RequestTimeout.Std())
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
