package config

import (
	"context"
	"fmt"
	"io"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/store/archive"
	"github.com/xtxerr/mobility/internal/store/duckdb"
	"github.com/xtxerr/mobility/internal/store/memory"
	"github.com/xtxerr/mobility/internal/store/pebble"
)

var log = logging.Component("config")

// Store is an opened sample store backend.
type Store interface {
	store.SampleStore
	io.Closer
}

// OpenStore opens the backend the store section selects.
func (c *Config) OpenStore(ctx context.Context) (Store, error) {
	version, err := c.PlatformVersion()
	if err != nil {
		return nil, fmt.Errorf("platform version: %w", err)
	}

	switch c.Store.Backend {
	case BackendMemory:
		s := memory.New(memory.Config{
			Version:              version,
			Capacity:             c.Store.Capacity,
			RequireAuthorization: c.Store.RequireAuthorization,
		})
		if c.Store.Preload {
			n, err := Preload(ctx, s, c.Store.DataDir)
			if err != nil {
				s.Close()
				return nil, err
			}
			log.Info("memory store preloaded", "data_dir", c.Store.DataDir, "samples", n)
		}
		return s, nil

	case BackendDuckDB:
		s, err := duckdb.Open(duckdb.Config{
			Version:     version,
			DataDir:     c.Store.DataDir,
			MemoryLimit: c.Store.MemoryLimit,
			Archive:     c.ArchiveOptions(),
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendPebble:
		s, err := pebble.Open(pebble.Config{
			Version: version,
			DataDir: c.Store.DataDir,
			Sync:    c.Store.Sync,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, errors.NewValidation("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}
}

// Preload appends every sample of the Parquet archives in dir to dst. It
// returns the number of samples appended.
func Preload(ctx context.Context, dst store.Appender, dir string) (int, error) {
	files, err := archive.Files(dir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, path := range files {
		records, err := archive.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("preload %s: %w", path, err)
		}

		byKind := make(map[metric.Kind][]store.RawSample)
		for _, r := range records {
			byKind[r.Kind] = append(byKind[r.Kind], r.Sample)
		}
		for _, k := range metric.AllKinds() {
			samples := byKind[k]
			if len(samples) == 0 {
				continue
			}
			if err := dst.Append(ctx, k, samples); err != nil {
				return total, fmt.Errorf("preload %s: %w", path, err)
			}
			total += len(samples)
		}
	}
	return total, nil
}
