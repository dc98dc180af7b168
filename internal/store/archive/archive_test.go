package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.parquet")

	w, err := NewWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	speed := []store.RawSample{
		{Value: 1.2, Unit: unit.MetersPerSecond, StartMs: 1000, EndMs: 2000},
		{Value: 4.5, Unit: unit.KilometersPerHour, StartMs: 3000, EndMs: 4000},
	}
	asym := []store.RawSample{
		{Value: 0.04, Unit: unit.Fraction, StartMs: 1500, EndMs: 2500},
	}

	if err := w.Write(metric.WalkingSpeed, speed); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(metric.AsymmetryPercentage, asym); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.RowCount() != 3 {
		t.Errorf("expected 3 rows, got %d", w.RowCount())
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should not be visible before Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(metric.WalkingSpeed, speed); err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	want := []Record{
		{Kind: metric.WalkingSpeed, Sample: speed[0]},
		{Kind: metric.WalkingSpeed, Sample: speed[1]},
		{Kind: metric.AsymmetryPercentage, Sample: asym[0]},
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("record %d: got %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestReadAll_ManyBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.parquet")

	samples := make([]store.RawSample, readBatch*2+17)
	for i := range samples {
		samples[i] = store.RawSample{Value: float64(i), Unit: unit.Meter, StartMs: int64(i), EndMs: int64(i + 1)}
	}
	if err := WriteFile(path, metric.StepLength, samples, Options{Compression: CompressionSnappy}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != len(samples) {
		t.Fatalf("expected %d records, got %d", len(samples), len(records))
	}
	if last := records[len(records)-1].Sample.Value; last != float64(len(samples)-1) {
		t.Errorf("last value = %v", last)
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		path := NewFileName(dir, now.Add(time.Duration(i)*time.Second))
		if err := WriteFile(path, metric.StepLength, []store.RawSample{{Value: 0.7, Unit: unit.Meter}}, DefaultOptions()); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("expected 3 archive files, got %v", files)
	}

	missing, err := Files(filepath.Join(dir, "missing"))
	if err != nil || len(missing) != 0 {
		t.Errorf("missing directory should list nothing, got %v, %v", missing, err)
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":       CompressionZstd,
		"zstd":   CompressionZstd,
		"snappy": CompressionSnappy,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
		"bogus":  CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromRow_Invalid(t *testing.T) {
	if _, err := FromRow(SampleRow{Metric: "heartRate", Unit: "m"}); err == nil {
		t.Error("expected error for unknown metric")
	}
	if _, err := FromRow(SampleRow{Metric: "stepLength", Unit: "furlong"}); err == nil {
		t.Error("expected error for unknown unit")
	}
}
