package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// readBatch is the number of rows decoded per Read call.
const readBatch = 4096

// Reader reads samples from one Parquet file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[SampleRow]
	path   string
}

// NewReader opens path for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[SampleRow](f, parquet.ReadBufferSize(1024*1024))

	return &Reader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll decodes every row in the file.
func (r *Reader) ReadAll() ([]Record, error) {
	out := make([]Record, 0, r.reader.NumRows())
	rows := make([]SampleRow, readBatch)

	for {
		n, err := r.reader.Read(rows)
		for i := 0; i < n; i++ {
			rec, derr := FromRow(rows[i])
			if derr != nil {
				return nil, fmt.Errorf("%s: %w", r.path, derr)
			}
			out = append(out, rec)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", r.path, err)
		}
		if n == 0 {
			return out, nil
		}
	}
}

// NumRows returns the total number of rows in the file.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// ReadFile decodes every row of the file at path.
func ReadFile(path string) ([]Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}
