// Package config - Configuration Types
//
// Defines the YAML configuration structure for mobilityd.
//
//	listen:    server address
//	tls:       certificate and key
//	platform:  name and capability tier reported by the store
//	store:     sample store backend (memory, duckdb, pebble)
//	engine:    request behaviour (timeouts, partial results)
//	server:    dispatch limits and shutdown drain
//	session:   per-connection send buffering
//	logging:   level and format
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/mobility/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for mobilityd.
type Config struct {
	// Listen is the server listen address.
	// Format: "host:port" or ":port"
	// Default: "127.0.0.1:9170"
	Listen string `yaml:"listen"`

	// TLS configures transport layer security.
	TLS TLSConfig `yaml:"tls"`

	// Platform describes the device the samples come from.
	Platform PlatformConfig `yaml:"platform"`

	// Store selects and configures the sample store.
	Store StoreConfig `yaml:"store"`

	// Engine configures request handling.
	Engine EngineConfig `yaml:"engine"`

	// Server configures dispatch limits.
	Server ServerConfig `yaml:"server"`

	// Session configures per-connection buffering.
	Session SessionConfig `yaml:"session"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// TLSConfig configures transport layer security. Both files empty means
// plain TCP.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled returns true if a certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// PlatformConfig describes the device platform.
type PlatformConfig struct {
	// Name prefixes getPlatformVersion results.
	// Default: "iOS"
	Name string `yaml:"name"`

	// Version is the capability tier, e.g. "17.0". It decides which
	// metrics are available.
	// Default: "17.0"
	Version string `yaml:"version"`
}

// =============================================================================
// Store Configuration
// =============================================================================

// Store backends.
const (
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
	BackendPebble = "pebble"
)

// StoreConfig configures the sample store.
type StoreConfig struct {
	// Backend is one of "memory", "duckdb", "pebble".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// DataDir holds Parquet archives (duckdb, memory preload) or the
	// Pebble database (pebble).
	// Default: "/var/lib/mobility"
	DataDir string `yaml:"data_dir"`

	// Capacity is the per-metric sample capacity of the memory store.
	// Default: 100000
	Capacity int `yaml:"capacity"`

	// Preload fills the memory store from the Parquet archives in DataDir
	// at startup.
	// Default: false
	Preload bool `yaml:"preload"`

	// MemoryLimit bounds the DuckDB engine.
	// Default: "512MB"
	MemoryLimit string `yaml:"memory_limit"`

	// Compression of archives written by the duckdb store.
	// Values: "zstd", "snappy", "lz4", "gzip", "none"
	// Default: "zstd"
	Compression string `yaml:"compression"`

	// Sync makes every Pebble write durable before it returns.
	// Default: false
	Sync bool `yaml:"sync"`

	// RequireAuthorization denies reads from the memory store until
	// requestAuthorization succeeds.
	// Default: false
	RequireAuthorization bool `yaml:"require_authorization"`
}

// =============================================================================
// Engine and Server Configuration
// =============================================================================

// EngineConfig configures request handling.
type EngineConfig struct {
	// IgnoreUnavailable drops metrics the store reports as unsupported
	// instead of failing the request.
	// Default: false
	IgnoreUnavailable bool `yaml:"ignore_unavailable"`

	// PartialResults makes requestMetrics report per-metric failures next
	// to the metrics that succeeded.
	// Default: false
	PartialResults bool `yaml:"partial_results"`

	// QueryTimeout bounds one request. Zero disables it.
	// Default: 0
	QueryTimeout Duration `yaml:"query_timeout"`

	// SummaryAccuracy is the relative accuracy of summary percentiles.
	// Default: 0.01
	SummaryAccuracy float64 `yaml:"summary_accuracy"`
}

// ServerConfig configures dispatch limits.
type ServerConfig struct {
	// MaxInFlight bounds concurrently dispatched requests.
	// Default: 64
	MaxInFlight int `yaml:"max_in_flight"`

	// MaxMessageSize bounds one request envelope.
	// Default: "16MB"
	MaxMessageSize ByteSize `yaml:"max_message_size"`

	// DrainTimeout is how long shutdown waits for in-flight requests.
	// Default: 10s
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// SessionConfig configures per-connection send buffering.
type SessionConfig struct {
	// SendBufferSize is the number of queued responses per connection.
	// Default: 256
	SendBufferSize int `yaml:"send_buffer_size"`

	// SendTimeout is how long a response waits on a full buffer before it
	// is dropped.
	// Default: 5s
	SendTimeout Duration `yaml:"send_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	// Default: false
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Listen: config.DefaultListenAddress,
		Platform: PlatformConfig{
			Name:    config.DefaultPlatformName,
			Version: config.DefaultPlatformVersion,
		},
		Store: StoreConfig{
			Backend:     config.DefaultStoreBackend,
			DataDir:     config.DefaultStoreDataDir,
			Capacity:    config.DefaultMemoryCapacity,
			MemoryLimit: config.DefaultDuckDBMemoryLimit,
			Compression: "zstd",
		},
		Engine: EngineConfig{
			QueryTimeout:    Duration(config.DefaultQueryTimeout),
			SummaryAccuracy: config.DefaultSummaryAccuracy,
		},
		Server: ServerConfig{
			MaxInFlight:    config.DefaultMaxInFlight,
			MaxMessageSize: ByteSize(config.DefaultMaxMessageSize),
			DrainTimeout:   Duration(time.Duration(config.DefaultDrainTimeoutSec) * time.Second),
		},
		Session: SessionConfig{
			SendBufferSize: config.DefaultSessionSendBufferSize,
			SendTimeout:    Duration(time.Duration(config.DefaultSessionSendTimeoutMs) * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts "30s", "5m" or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var i int64
		if err := value.Decode(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "16MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var i int64
		if err := value.Decode(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	size, err := parseByteSize(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(size)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return int64(b), nil
}

// byteUnits is ordered longest suffix first so "MB" is not read as "B".
var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize parses a size string like "16MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.mult, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
