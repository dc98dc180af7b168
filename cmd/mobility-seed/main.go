// mobility-seed writes synthetic walking history for mobilityd to serve.
//
// The archive and duckdb backends produce Parquet files that the duckdb
// store queries and the memory store can preload; the pebble backend fills
// a Pebble database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/store/archive"
	"github.com/xtxerr/mobility/internal/store/duckdb"
	"github.com/xtxerr/mobility/internal/store/pebble"
)

var log = logging.Component("seed")

// options holds parsed flags.
type options struct {
	backend     string
	dir         string
	days        int
	walks       int
	seed        uint64
	end         time.Time
	compression string
}

func main() {
	var opts options
	var endStr string

	flag.StringVar(&opts.backend, "backend", "archive", "output: archive, duckdb, pebble")
	flag.StringVar(&opts.dir, "dir", config.DefaultStoreDataDir, "output directory")
	flag.IntVar(&opts.days, "days", 90, "days of history")
	flag.IntVar(&opts.walks, "walks", 6, "walks per day")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flag.StringVar(&endStr, "end", "", "last day of history, YYYY-MM-DD (default today)")
	flag.StringVar(&opts.compression, "compression", "zstd", "Parquet compression")
	flag.Parse()

	logging.Init(slog.LevelInfo, false)

	opts.end = time.Now()
	if endStr != "" {
		t, err := time.ParseInLocation("2006-01-02", endStr, time.Local)
		if err != nil {
			fatal(fmt.Errorf("-end: %w", err))
		}
		opts.end = t
	}

	n, err := seed(context.Background(), opts)
	if err != nil {
		fatal(err)
	}
	log.Info("seeded", "backend", opts.backend, "dir", opts.dir, "samples", n)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "mobility-seed: %v\n", err)
	os.Exit(1)
}

// seed generates every metric and writes it to the selected backend. It
// returns the number of samples written.
func seed(ctx context.Context, opts options) (int, error) {
	if opts.days <= 0 || opts.walks <= 0 {
		return 0, fmt.Errorf("days and walks must be positive")
	}

	end := time.Date(opts.end.Year(), opts.end.Month(), opts.end.Day(), 0, 0, 0, 0, opts.end.Location())
	start := end.AddDate(0, 0, -(opts.days - 1))
	gen := NewGenerator(opts.seed, start, opts.days, opts.walks)
	aopts := archive.Options{Compression: archive.ParseCompressionType(opts.compression)}

	switch opts.backend {
	case "archive":
		w, err := archive.NewWriter(archive.NewFileName(opts.dir, time.Now()), aopts)
		if err != nil {
			return 0, err
		}
		for _, k := range metric.AllKinds() {
			if err := w.Write(k, gen.Generate(k)); err != nil {
				w.Close()
				return 0, err
			}
		}
		if err := w.Close(); err != nil {
			return 0, err
		}
		return int(w.RowCount()), nil

	case "duckdb":
		s, err := duckdb.Open(duckdb.Config{DataDir: opts.dir, Archive: aopts})
		if err != nil {
			return 0, err
		}
		defer s.Close()
		return appendAll(ctx, s, gen)

	case "pebble":
		s, err := pebble.Open(pebble.Config{DataDir: opts.dir, Sync: true})
		if err != nil {
			return 0, err
		}
		defer s.Close()
		return appendAll(ctx, s, gen)

	default:
		return 0, fmt.Errorf("unknown backend %q", opts.backend)
	}
}

func appendAll(ctx context.Context, dst store.Appender, gen *Generator) (int, error) {
	total := 0
	for _, k := range metric.AllKinds() {
		samples := gen.Generate(k)
		if err := dst.Append(ctx, k, samples); err != nil {
			return total, fmt.Errorf("append %s: %w", k, err)
		}
		total += len(samples)
	}
	return total, nil
}
