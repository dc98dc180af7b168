// Package duckdb implements a sample store that queries Parquet archives
// with an embedded DuckDB engine.
//
// Appended batches become new archive files in the data directory; queries
// read every archive through read_parquet and push the window, ordering and
// limit down into SQL.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/store/archive"
	"github.com/xtxerr/mobility/internal/unit"
)

var log = logging.Component("store.duckdb")

// Config configures the store.
type Config struct {
	// Version is the capability tier the store reports.
	Version metric.Version

	// DataDir holds the Parquet archives.
	DataDir string

	// MemoryLimit bounds the DuckDB engine, e.g. "512MB". Empty keeps the
	// DuckDB default.
	MemoryLimit string

	// Archive configures files written by Append.
	Archive archive.Options
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
	FilesWritten    int64
}

// Store is a DuckDB-backed store.SampleStore.
type Store struct {
	store.PlatformVersion

	cfg Config
	db  *sql.DB

	// appendMu serializes archive file creation.
	appendMu sync.Mutex

	queries      atomic.Int64
	rows         atomic.Int64
	errs         atomic.Int64
	filesWritten atomic.Int64
}

// Open opens an in-memory DuckDB database over cfg.DataDir.
func Open(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.NewMissingField("data_dir")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", quote(cfg.MemoryLimit))); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	log.Info("duckdb store opened", "data_dir", cfg.DataDir, "memory_limit", cfg.MemoryLimit)

	return &Store{
		PlatformVersion: store.PlatformVersion{Version: cfg.Version},
		cfg:             cfg,
		db:              db,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Stats returns query statistics.
func (s *Store) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errs.Load(),
		FilesWritten:    s.filesWritten.Load(),
	}
}

// Query implements store.SampleStore. Samples come back newest first.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.RawSample, error) {
	if err := store.CheckAvailable(q.Kind, s.Version); err != nil {
		return nil, err
	}

	files, err := archive.Files(s.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []store.RawSample{}, nil
	}

	query, args := buildQuery(archive.Glob(s.cfg.DataDir), q)

	s.queries.Add(1)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.errs.Add(1)
		return nil, fmt.Errorf("query %s: %w", q.Kind.Key(), err)
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		s.errs.Add(1)
		return nil, fmt.Errorf("query %s: %w", q.Kind.Key(), err)
	}

	s.rows.Add(int64(len(samples)))
	return samples, nil
}

// buildQuery renders the SQL for q over the archives matching pattern.
func buildQuery(pattern string, q store.Query) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT value, unit, start_ms, end_ms FROM read_parquet('")
	b.WriteString(quote(pattern))
	b.WriteString("') WHERE metric = ?")
	args := []any{q.Kind.Key()}

	if q.Window.HasStart {
		b.WriteString(" AND start_ms >= ?")
		args = append(args, q.Window.Start)
	}
	if q.Window.HasEnd {
		b.WriteString(" AND start_ms < ?")
		args = append(args, q.Window.End)
	}

	b.WriteString(" ORDER BY end_ms DESC, start_ms DESC")

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args
}

func scanSamples(rows *sql.Rows) ([]store.RawSample, error) {
	samples := []store.RawSample{}

	for rows.Next() {
		var s store.RawSample
		var symbol string

		if err := rows.Scan(&s.Value, &symbol, &s.StartMs, &s.EndMs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		u, err := unit.Parse(symbol)
		if err != nil {
			return nil, err
		}
		s.Unit = u
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// Append implements store.Appender by writing the batch as a new archive.
func (s *Store) Append(ctx context.Context, kind metric.Kind, samples []store.RawSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	now := time.Now()
	path := archive.NewFileName(s.cfg.DataDir, now)
	for exists(path) {
		now = now.Add(time.Nanosecond)
		path = archive.NewFileName(s.cfg.DataDir, now)
	}
	if err := archive.WriteFile(path, kind, samples, s.cfg.Archive); err != nil {
		return errors.Wrapf(err, "append %s", kind.Key())
	}

	s.filesWritten.Add(1)
	log.Debug("archive written", "path", path, "metric", kind.Key(), "samples", len(samples))
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// quote escapes a value for a single-quoted SQL literal.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
