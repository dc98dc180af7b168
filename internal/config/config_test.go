package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/store/archive"
	"github.com/xtxerr/mobility/internal/testutil"
	"github.com/xtxerr/mobility/internal/unit"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	v, err := cfg.PlatformVersion()
	require.NoError(t, err)
	assert.Equal(t, metric.V(17, 0), v)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoad(t *testing.T) {
	t.Setenv("MOBILITY_TEST_DIR", "/srv/mobility")

	path := writeFile(t, t.TempDir(), "mobilityd.yaml", `
listen: ":9999"
platform:
  version: "15.4"
store:
  backend: duckdb
  data_dir: ${MOBILITY_TEST_DIR}/archive
  compression: snappy
engine:
  ignore_unavailable: true
  partial_results: true
  query_timeout: 30s
server:
  max_in_flight: 8
  max_message_size: 4MB
  drain_timeout: 3
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "iOS", cfg.Platform.Name, "unset fields keep defaults")
	assert.Equal(t, "15.4", cfg.Platform.Version)
	assert.Equal(t, BackendDuckDB, cfg.Store.Backend)
	assert.Equal(t, "/srv/mobility/archive", cfg.Store.DataDir)
	assert.Equal(t, 30*time.Second, cfg.Engine.QueryTimeout.Duration())
	assert.Equal(t, int64(4<<20), cfg.Server.MaxMessageSize.Bytes())
	assert.Equal(t, 3*time.Second, cfg.Server.DrainTimeout.Duration())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.True(t, cfg.Logging.JSON)

	eo := cfg.EngineOptions()
	assert.Equal(t, "iOS", eo.PlatformName)
	assert.True(t, eo.IgnoreUnavailable)
	assert.Equal(t, 30*time.Second, eo.QueryTimeout)
	assert.True(t, cfg.HandlerOptions().PartialResults)

	sc := cfg.ServerConfig(nil)
	assert.Equal(t, 8, sc.MaxInFlight)
	assert.Equal(t, 4<<20, sc.MaxMessageSize)
	assert.Equal(t, 5000, sc.Session.SendTimeoutMs)

	assert.Equal(t, archive.CompressionSnappy, cfg.ArchiveOptions().Compression)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, dir, "bad.yaml", "listen: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "dur.yaml", "engine:\n  query_timeout: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"half tls", func(c *Config) { c.TLS.CertFile = "cert.pem" }, "tls"},
		{"bad version", func(c *Config) { c.Platform.Version = "seventeen" }, "platform.version"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"pebble without dir", func(c *Config) { c.Store.Backend = BackendPebble; c.Store.DataDir = "" }, "store.data_dir"},
		{"zero capacity", func(c *Config) { c.Store.Capacity = 0 }, "store.capacity"},
		{"bad compression", func(c *Config) { c.Store.Compression = "brotli" }, "store.compression"},
		{"accuracy out of range", func(c *Config) { c.Engine.SummaryAccuracy = 1 }, "engine.summary_accuracy"},
		{"zero in flight", func(c *Config) { c.Server.MaxInFlight = 0 }, "server.max_in_flight"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.Server.MaxInFlight = -1

	err := Validate(cfg)
	var verrs *errors.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs.Errors, 2)
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512", 512},
		{"10B", 10},
		{"4KB", 4 << 10},
		{"16MB", 16 << 20},
		{" 2 gb ", 2 << 30},
		{"1TB", 1 << 40},
	}
	for _, tt := range tests {
		got, err := parseByteSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseByteSize("lots")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, backend := range []string{BackendMemory, BackendDuckDB, BackendPebble} {
		t.Run(backend, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Store.Backend = backend
			cfg.Store.DataDir = t.TempDir()
			cfg.Platform.Version = "14.5"

			s, err := cfg.OpenStore(ctx)
			require.NoError(t, err)
			defer s.Close()

			v, err := s.CapabilityVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, metric.V(14, 5), v)

			app, ok := s.(store.Appender)
			require.True(t, ok, "%s accepts samples", backend)
			require.NoError(t, app.Append(ctx, metric.WalkingSpeed, []store.RawSample{
				{Value: 1.3, Unit: unit.MetersPerSecond, StartMs: 100, EndMs: 200},
			}))

			got, err := s.Query(ctx, store.Query{Kind: metric.WalkingSpeed})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 1.3, got[0].Value)
		})
	}
}

func TestOpenStore_Preload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, archive.WriteFile(archive.NewFileName(dir, time.Unix(1, 0)), metric.StepLength,
		[]store.RawSample{
			testutil.Raw(0.7, unit.Meter, 1000, 1100),
			testutil.Raw(71, unit.Centimeter, 2000, 2100),
		}, archive.DefaultOptions()))
	require.NoError(t, archive.WriteFile(archive.NewFileName(dir, time.Unix(2, 0)), metric.WalkingSpeed,
		[]store.RawSample{testutil.Raw(1.1, unit.MetersPerSecond, 1500, 1600)}, archive.DefaultOptions()))

	cfg := DefaultConfig()
	cfg.Store.DataDir = dir
	cfg.Store.Preload = true

	s, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Query(ctx, store.Query{Kind: metric.StepLength})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, store.Query{Kind: metric.WalkingSpeed})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mobilityd.yaml", "logging:\n  level: info\n")

	reloaded := make(chan *Config, 4)
	failed := make(chan error, 4)
	w := NewWatcher(path, 10*time.Millisecond, func(cfg *Config, err error) {
		if err != nil {
			failed <- err
			return
		}
		reloaded <- cfg
	})
	w.Start()
	defer w.Stop()

	// Modification times can be coarse; move the clock explicitly.
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	cfg := testutil.Recv(t, reloaded, 5*time.Second)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(2*time.Second)))

	err := testutil.Recv(t, failed, 5*time.Second)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
