package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// Writer writes samples to one Parquet file.
//
// The file is written to a temporary name and renamed into place on Close,
// so readers globbing the directory never see a partial file.
type Writer struct {
	mu       sync.Mutex
	path     string
	tmpPath  string
	file     *os.File
	writer   *parquet.GenericWriter[SampleRow]
	rowCount int64
	closed   bool
}

// NewWriter creates a writer for path.
func NewWriter(path string, opts Options) (*Writer, error) {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[SampleRow](f, parquet.Compression(codec(opts.Compression)))

	return &Writer{
		path:    path,
		tmpPath: tmp,
		file:    f,
		writer:  writer,
	}, nil
}

// Write appends samples of one kind.
func (w *Writer) Write(kind metric.Kind, samples []store.RawSample) error {
	if len(samples) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]SampleRow, len(samples))
	for i, s := range samples {
		rows[i] = ToRow(kind, s)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the file and moves it into place.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("close writer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the final file path.
func (w *Writer) Path() string {
	return w.path
}

// WriteFile writes one batch of samples of kind to a new file at path.
func WriteFile(path string, kind metric.Kind, samples []store.RawSample, opts Options) error {
	w, err := NewWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(kind, samples); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
