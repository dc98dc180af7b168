package metric

import (
	"sort"
	"time"
)

// Sample is a single unit-converted measurement.
type Sample struct {
	// Value in the kind's canonical unit.
	Value float64 `json:"value"`

	// StartMs and EndMs are Unix timestamps in milliseconds.
	StartMs int64 `json:"startDate"`
	EndMs   int64 `json:"endDate"`
}

// StartTime returns the start timestamp as a time.Time.
func (s Sample) StartTime() time.Time {
	return time.UnixMilli(s.StartMs)
}

// EndTime returns the end timestamp as a time.Time.
func (s Sample) EndTime() time.Time {
	return time.UnixMilli(s.EndMs)
}

// Duration returns the time the sample covers.
func (s Sample) Duration() time.Duration {
	return time.Duration(s.EndMs-s.StartMs) * time.Millisecond
}

// SortNewestFirst orders samples by end time descending, then start time
// descending, then value descending, so equal inputs always sort the same.
func SortNewestFirst(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.EndMs != b.EndMs {
			return a.EndMs > b.EndMs
		}
		if a.StartMs != b.StartMs {
			return a.StartMs > b.StartMs
		}
		return a.Value > b.Value
	})
}

// ResultSet maps each queried kind to its samples, newest first.
// A ResultSet is immutable once returned; accessors return copies.
type ResultSet struct {
	series map[Kind][]Sample
}

// NewResultSet takes ownership of series and returns it as a ResultSet.
// A nil slice for a kind is stored as an empty sequence.
func NewResultSet(series map[Kind][]Sample) *ResultSet {
	rs := &ResultSet{series: make(map[Kind][]Sample, len(series))}
	for k, s := range series {
		if s == nil {
			s = []Sample{}
		}
		rs.series[k] = s
	}
	return rs
}

// Len returns the number of kinds in the result.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.series)
}

// Has returns true if k has an entry, possibly empty.
func (r *ResultSet) Has(k Kind) bool {
	if r == nil {
		return false
	}
	_, ok := r.series[k]
	return ok
}

// Get returns a copy of the samples for k.
func (r *ResultSet) Get(k Kind) ([]Sample, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.series[k]
	if !ok {
		return nil, false
	}
	out := make([]Sample, len(s))
	copy(out, s)
	return out, true
}

// Kinds returns the kinds present, in canonical order.
func (r *ResultSet) Kinds() []Kind {
	if r == nil {
		return nil
	}
	out := make([]Kind, 0, len(r.series))
	for k := range r.series {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SampleCount returns the total number of samples across all kinds.
func (r *ResultSet) SampleCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, s := range r.series {
		n += len(s)
	}
	return n
}

// Map returns the boundary shape: metric key to samples.
func (r *ResultSet) Map() map[string][]Sample {
	out := make(map[string][]Sample, r.Len())
	if r == nil {
		return out
	}
	for k, s := range r.series {
		cp := make([]Sample, len(s))
		copy(cp, s)
		out[k.Key()] = cp
	}
	return out
}
