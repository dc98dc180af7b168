// Package config handles daemon configuration: loading YAML files,
// expanding environment variables, validating, and converting sections into
// the options of the components they configure.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/mobility/internal/engine"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/handler"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/server"
	"github.com/xtxerr/mobility/internal/store/archive"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Fields the file leaves out
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration after expanding ${VAR} references.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	}

	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		errs.AddField("tls", "cert_file and key_file must be set together")
	}

	if cfg.Platform.Name == "" {
		errs.AddField("platform.name", "cannot be empty")
	}
	if _, err := metric.ParseVersion(cfg.Platform.Version); err != nil {
		errs.AddField("platform.version", err.Error())
	}

	switch cfg.Store.Backend {
	case BackendMemory:
		if cfg.Store.Capacity <= 0 {
			errs.AddField("store.capacity", "must be positive")
		}
		if cfg.Store.Preload && cfg.Store.DataDir == "" {
			errs.AddField("store.data_dir", "cannot be empty when preload is set")
		}
	case BackendDuckDB, BackendPebble:
		if cfg.Store.DataDir == "" {
			errs.AddField("store.data_dir", fmt.Sprintf("cannot be empty for backend %s", cfg.Store.Backend))
		}
	default:
		errs.AddField("store.backend", fmt.Sprintf("unknown backend %q", cfg.Store.Backend))
	}

	switch cfg.Store.Compression {
	case "", "zstd", "snappy", "lz4", "gzip", "none":
	default:
		errs.AddField("store.compression", fmt.Sprintf("unknown compression %q", cfg.Store.Compression))
	}

	if cfg.Engine.QueryTimeout < 0 {
		errs.AddField("engine.query_timeout", "cannot be negative")
	}
	if a := cfg.Engine.SummaryAccuracy; a <= 0 || a >= 1 {
		errs.AddField("engine.summary_accuracy", "must be in (0, 1)")
	}

	if cfg.Server.MaxInFlight <= 0 {
		errs.AddField("server.max_in_flight", "must be positive")
	}
	if cfg.Server.MaxMessageSize <= 0 {
		errs.AddField("server.max_message_size", "must be positive")
	}
	if cfg.Server.DrainTimeout < 0 {
		errs.AddField("server.drain_timeout", "cannot be negative")
	}

	if cfg.Session.SendBufferSize <= 0 {
		errs.AddField("session.send_buffer_size", "must be positive")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}

	return errs.Err()
}

// =============================================================================
// Conversion: Config -> component options
// =============================================================================

// PlatformVersion returns the configured capability tier.
func (c *Config) PlatformVersion() (metric.Version, error) {
	return metric.ParseVersion(c.Platform.Version)
}

// LogLevel returns the configured level, or info if it does not parse.
func (c *Config) LogLevel() slog.Level {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// EngineOptions converts the engine section.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		PlatformName:      c.Platform.Name,
		IgnoreUnavailable: c.Engine.IgnoreUnavailable,
		QueryTimeout:      c.Engine.QueryTimeout.Duration(),
		SummaryAccuracy:   c.Engine.SummaryAccuracy,
	}
}

// HandlerOptions converts the dispatcher-facing parts of the engine section.
func (c *Config) HandlerOptions() handler.Options {
	return handler.Options{PartialResults: c.Engine.PartialResults}
}

// ServerConfig converts the listen, tls, server and session sections.
func (c *Config) ServerConfig(h *handler.Handler) *server.Config {
	return &server.Config{
		Handler:        h,
		Listen:         c.Listen,
		TLSCertFile:    c.TLS.CertFile,
		TLSKeyFile:     c.TLS.KeyFile,
		MaxInFlight:    c.Server.MaxInFlight,
		MaxMessageSize: int(c.Server.MaxMessageSize.Bytes()),
		DrainTimeout:   c.Server.DrainTimeout.Duration(),
		Session: &handler.SessionConfig{
			SendBufferSize: c.Session.SendBufferSize,
			SendTimeoutMs:  int(c.Session.SendTimeout.Duration().Milliseconds()),
		},
	}
}

// ArchiveOptions returns the Parquet options for archives the daemon writes.
func (c *Config) ArchiveOptions() archive.Options {
	return archive.Options{Compression: archive.ParseCompressionType(c.Store.Compression)}
}
