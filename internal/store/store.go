// Package store defines the interface between the query core and the
// sample store that holds the device's measurement history.
//
// Implementations:
//   - memory: ring buffers per metric kind, for tests and live ingestion
//   - duckdb: SQL over Parquet archives written by the archive package
//   - pebble: embedded key/value history
//
// Query is a blocking call; the aggregator issues one per descriptor from
// its own goroutine, so implementations must be safe for concurrent use.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/unit"
)

// NoLimit requests every matching sample.
const NoLimit = 0

// Query selects the samples of one kind.
type Query struct {
	Kind   metric.Kind
	Window metric.TimeWindow

	// Limit caps the number of samples. NoLimit (or any value <= 0)
	// returns all matches. With a limit, stores return the newest samples
	// first by end time.
	Limit int
}

// String returns a compact representation for logs.
func (q Query) String() string {
	return fmt.Sprintf("%s %s limit=%d", q.Kind, q.Window, q.Limit)
}

// RawSample is a sample as the store holds it, in the store's own unit.
type RawSample struct {
	Value   float64
	Unit    unit.Unit
	StartMs int64
	EndMs   int64
}

// Convert returns the sample in the kind's canonical unit.
func (r RawSample) Convert(kind metric.Kind) (metric.Sample, error) {
	v, err := unit.Convert(r.Value, r.Unit, kind.Unit())
	if err != nil {
		return metric.Sample{}, fmt.Errorf("convert %s sample: %w", kind, err)
	}
	return metric.Sample{Value: v, StartMs: r.StartMs, EndMs: r.EndMs}, nil
}

// SampleStore is the external sample store the core queries.
type SampleStore interface {
	// CapabilityVersion returns the platform tier the store runs on.
	CapabilityVersion(ctx context.Context) (metric.Version, error)

	// Query returns raw samples for q. Errors wrap errors.ErrTypeUnsupported
	// when the kind is not available on this tier and
	// errors.ErrPermissionDenied when read access was not granted.
	Query(ctx context.Context, q Query) ([]RawSample, error)
}

// Authorizer is implemented by stores that gate reads behind a one-time
// consent step.
type Authorizer interface {
	// RequestAuthorization asks for read access to kinds. It returns an
	// error wrapping errors.ErrAuthorizationFailed when access is refused.
	RequestAuthorization(ctx context.Context, kinds []metric.Kind) error
}

// Appender is implemented by stores that accept new samples.
type Appender interface {
	Append(ctx context.Context, kind metric.Kind, samples []RawSample) error
}

// PlatformVersion is a fixed capability tier, embedded by stores whose tier
// comes from configuration.
type PlatformVersion struct {
	Version metric.Version
}

// CapabilityVersion returns the configured tier.
func (p PlatformVersion) CapabilityVersion(ctx context.Context) (metric.Version, error) {
	if err := ctx.Err(); err != nil {
		return metric.Version{}, err
	}
	return p.Version, nil
}

// CheckAvailable returns an error wrapping errors.ErrTypeUnsupported if kind
// is not queryable on tier v.
func CheckAvailable(kind metric.Kind, v metric.Version) error {
	if !kind.AvailableOn(v) {
		return fmt.Errorf("%s requires %s, platform is %s: %w",
			kind, kind.MinVersion(), v, errors.ErrTypeUnsupported)
	}
	return nil
}

// Limit truncates samples to q's limit. Callers sort first.
func Limit(samples []RawSample, limit int) []RawSample {
	if limit > 0 && len(samples) > limit {
		return samples[:limit]
	}
	return samples
}

// SortNewestFirst orders raw samples by end time descending, then start
// time descending.
func SortNewestFirst(samples []RawSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].EndMs != samples[j].EndMs {
			return samples[i].EndMs > samples[j].EndMs
		}
		return samples[i].StartMs > samples[j].StartMs
	})
}
