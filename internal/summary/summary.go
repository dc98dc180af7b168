// Package summary computes per-metric summary statistics over a ResultSet.
//
// Percentiles come from a DDSketch, so they carry the sketch's relative
// accuracy rather than being exact order statistics.
package summary

import (
	"fmt"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
)

// DefaultAccuracy is the sketch's relative accuracy when none is configured.
const DefaultAccuracy = 0.01

// Stats summarizes the samples of one metric.
type Stats struct {
	Metric string  `json:"metric"`
	Unit   string  `json:"unit"`
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`

	// FirstMs and LastMs bound the covered period: earliest start and
	// latest end.
	FirstMs int64 `json:"firstDate"`
	LastMs  int64 `json:"lastDate"`
}

// Accumulator builds Stats for one metric. It is not safe for concurrent use.
type Accumulator struct {
	kind     metric.Kind
	accuracy float64

	count   int64
	sum     float64
	min     float64
	max     float64
	firstMs int64
	lastMs  int64

	sketch *ddsketch.DDSketch
}

// NewAccumulator creates an accumulator for kind with the given relative
// accuracy, which must be in (0, 1).
func NewAccumulator(kind metric.Kind, accuracy float64) (*Accumulator, error) {
	if accuracy <= 0 || accuracy >= 1 {
		return nil, errors.NewInvalidArgument("accuracy", fmt.Sprintf("%v not in (0, 1)", accuracy))
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}
	return &Accumulator{
		kind:     kind,
		accuracy: accuracy,
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
		sketch:   sketch,
	}, nil
}

// Add adds one sample. NaN, infinite and values beyond the sketch's
// indexable range are skipped.
func (a *Accumulator) Add(s metric.Sample) {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return
	}
	if err := a.sketch.Add(s.Value); err != nil {
		return
	}

	a.count++
	a.sum += s.Value
	if s.Value < a.min {
		a.min = s.Value
	}
	if s.Value > a.max {
		a.max = s.Value
	}
	if a.count == 1 || s.StartMs < a.firstMs {
		a.firstMs = s.StartMs
	}
	if s.EndMs > a.lastMs {
		a.lastMs = s.EndMs
	}
}

// Merge folds other into a. Both must summarize the same kind.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other == nil || other.count == 0 {
		return nil
	}
	if other.kind != a.kind {
		return errors.NewInvalidArgument("merge", fmt.Sprintf("%s into %s", other.kind, a.kind))
	}
	if err := a.sketch.MergeWith(other.sketch); err != nil {
		return fmt.Errorf("merge sketch: %w", err)
	}

	if a.count == 0 || other.firstMs < a.firstMs {
		a.firstMs = other.firstMs
	}
	if other.lastMs > a.lastMs {
		a.lastMs = other.lastMs
	}
	a.count += other.count
	a.sum += other.sum
	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}
	return nil
}

// Count returns the number of samples added.
func (a *Accumulator) Count() int64 {
	return a.count
}

// Result returns the statistics. All value fields are zero when no samples
// were added.
func (a *Accumulator) Result() Stats {
	st := Stats{
		Metric: a.kind.Key(),
		Unit:   a.kind.Unit().String(),
		Count:  a.count,
	}
	if a.count == 0 {
		return st
	}

	st.Min = a.min
	st.Max = a.max
	st.Mean = a.sum / float64(a.count)
	st.FirstMs = a.firstMs
	st.LastMs = a.lastMs

	st.P50 = a.quantile(0.50)
	st.P90 = a.quantile(0.90)
	st.P95 = a.quantile(0.95)
	st.P99 = a.quantile(0.99)
	return st
}

// quantile clamps the sketch estimate into [min, max].
func (a *Accumulator) quantile(q float64) float64 {
	v, err := a.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return math.Min(math.Max(v, a.min), a.max)
}

// Summarize returns one Stats per kind in rs, in canonical kind order.
// Kinds with no samples are included with a zero count.
func Summarize(rs *metric.ResultSet, accuracy float64) ([]Stats, error) {
	if accuracy == 0 {
		accuracy = DefaultAccuracy
	}

	kinds := rs.Kinds()
	out := make([]Stats, 0, len(kinds))
	for _, k := range kinds {
		acc, err := NewAccumulator(k, accuracy)
		if err != nil {
			return nil, err
		}
		samples, _ := rs.Get(k)
		for _, s := range samples {
			acc.Add(s)
		}
		out = append(out, acc.Result())
	}
	return out, nil
}
