// Package config provides configuration defaults and utilities
// for the mobility daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default server listen address.
	// Override via config: listen
	DefaultListenAddress = "127.0.0.1:9170"

	// DefaultMaxMessageSize limits envelope size to prevent OOM.
	// A full unbounded history for all five metrics fits well below this.
	// Override via config: server.max_message_size
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// DefaultMaxInFlight is the number of requests dispatched concurrently
	// across all connections. Further requests wait for a free slot.
	// Override via config: server.max_in_flight
	DefaultMaxInFlight = 64

	// DefaultDrainTimeoutSec is how long to wait for in-flight requests during shutdown.
	// Override via config: server.drain_timeout_sec
	DefaultDrainTimeoutSec = 10
)

// =============================================================================
// Platform Defaults
// =============================================================================

const (
	// DefaultPlatformName is reported by getPlatformVersion.
	// Override via config: platform.name
	DefaultPlatformName = "iOS"

	// DefaultPlatformVersion is the capability tier of the sample store.
	// Override via config: platform.version
	DefaultPlatformVersion = "17.0"
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultStoreBackend selects the sample store implementation.
	// One of: memory, duckdb, pebble.
	// Override via config: store.backend
	DefaultStoreBackend = "memory"

	// DefaultStoreDataDir is where duckdb reads archives and pebble keeps its files.
	// Override via config: store.data_dir
	DefaultStoreDataDir = "/var/lib/mobility"

	// DefaultMemoryCapacity is the per-metric sample capacity of the memory store.
	// Oldest samples are overwritten once a metric reaches capacity.
	// Override via config: store.capacity
	DefaultMemoryCapacity = 100000

	// DefaultDuckDBMemoryLimit bounds the DuckDB query engine.
	// Override via config: store.memory_limit
	DefaultDuckDBMemoryLimit = "512MB"
)

// =============================================================================
// Engine Defaults
// =============================================================================

const (
	// DefaultQueryTimeout bounds one requestMetrics call. Zero leaves timeouts
	// to the sample store.
	// Override via config: engine.query_timeout
	DefaultQueryTimeout time.Duration = 0

	// DefaultSummaryAccuracy is the DDSketch relative accuracy (0.01 = 1% error).
	// Override via config: engine.summary_accuracy
	DefaultSummaryAccuracy = 0.01
)

// =============================================================================
// Session Defaults
// =============================================================================

const (
	// DefaultSessionSendBufferSize is the number of responses queued per
	// connection before Send starts waiting.
	DefaultSessionSendBufferSize = 256

	// DefaultSessionSendTimeoutMs is how long Send waits on a full buffer
	// before dropping the response.
	DefaultSessionSendTimeoutMs = 5000

	// DefaultSessionCleanupIntervalSec is how often closed sessions are
	// removed from the session table.
	DefaultSessionCleanupIntervalSec = 60
)
