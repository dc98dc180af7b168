// Package archive stores raw samples as Parquet files.
//
// Each file holds rows of any metric kind. Files live under one directory and
// are named so that a glob over the directory selects all of them; the duckdb
// store queries that glob directly.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

// FileExt is the archive file extension.
const FileExt = ".parquet"

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd", "":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func codec(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SampleRow is one sample in Parquet format. Column names are part of the
// on-disk format and are referenced by the duckdb store's SQL.
type SampleRow struct {
	Metric  string  `parquet:"metric,dict,zstd"`
	Value   float64 `parquet:"value"`
	Unit    string  `parquet:"unit,dict,zstd"`
	StartMs int64   `parquet:"start_ms"`
	EndMs   int64   `parquet:"end_ms"`
}

// Record is a decoded row.
type Record struct {
	Kind   metric.Kind
	Sample store.RawSample
}

// ToRow converts a raw sample of kind to a row.
func ToRow(kind metric.Kind, s store.RawSample) SampleRow {
	return SampleRow{
		Metric:  kind.Key(),
		Value:   s.Value,
		Unit:    s.Unit.String(),
		StartMs: s.StartMs,
		EndMs:   s.EndMs,
	}
}

// FromRow decodes a row.
func FromRow(r SampleRow) (Record, error) {
	kind, err := metric.ParseKind(r.Metric)
	if err != nil {
		return Record{}, err
	}
	u, err := unit.Parse(r.Unit)
	if err != nil {
		return Record{}, fmt.Errorf("row of %s: %w", r.Metric, err)
	}
	return Record{
		Kind:   kind,
		Sample: store.RawSample{Value: r.Value, Unit: u, StartMs: r.StartMs, EndMs: r.EndMs},
	}, nil
}

// Glob returns the pattern matching every archive file in dir.
func Glob(dir string) string {
	return filepath.Join(dir, "*"+FileExt)
}

// NewFileName returns a unique archive file name for a batch written at t.
func NewFileName(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("samples-%s-%09d%s", t.UTC().Format("20060102T150405"), t.Nanosecond(), FileExt))
}

// Files lists the archive files in dir in name order. A missing directory
// holds no files.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(Glob(dir))
	if err != nil {
		return nil, errors.Wrap(err, "list archives")
	}
	return matches, nil
}

// ensureDir creates dir if needed.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}
