package metric

import (
	"fmt"
	"time"

	"github.com/xtxerr/mobility/internal/errors"
)

// TimeWindow is an optional half-open interval [Start, End) in epoch
// milliseconds. An absent bound leaves that side unbounded; the zero
// TimeWindow matches everything.
//
// A sample falls in the window when its start time does.
type TimeWindow struct {
	Start    int64
	End      int64
	HasStart bool
	HasEnd   bool
}

// Unbounded returns a window matching every sample.
func Unbounded() TimeWindow {
	return TimeWindow{}
}

// Between returns the window [start, end).
func Between(start, end int64) TimeWindow {
	return TimeWindow{Start: start, End: end, HasStart: true, HasEnd: true}
}

// Since returns the window [start, +inf).
func Since(start int64) TimeWindow {
	return TimeWindow{Start: start, HasStart: true}
}

// Until returns the window (-inf, end).
func Until(end int64) TimeWindow {
	return TimeWindow{End: end, HasEnd: true}
}

// BetweenTimes returns the window [start, end) from time values.
func BetweenTimes(start, end time.Time) TimeWindow {
	return Between(start.UnixMilli(), end.UnixMilli())
}

// IsUnbounded returns true if neither bound is set.
func (w TimeWindow) IsUnbounded() bool {
	return !w.HasStart && !w.HasEnd
}

// Contains returns true if ms lies in [Start, End).
func (w TimeWindow) Contains(ms int64) bool {
	if w.HasStart && ms < w.Start {
		return false
	}
	if w.HasEnd && ms >= w.End {
		return false
	}
	return true
}

// ContainsSample returns true if the sample's start time lies in the window.
func (w TimeWindow) ContainsSample(s Sample) bool {
	return w.Contains(s.StartMs)
}

// Validate rejects windows whose start lies after their end.
func (w TimeWindow) Validate() error {
	if w.HasStart && w.HasEnd && w.Start > w.End {
		return fmt.Errorf("start %d after end %d: %w", w.Start, w.End, errors.ErrInvalidWindow)
	}
	return nil
}

// String returns a compact representation for logs.
func (w TimeWindow) String() string {
	start, end := "-inf", "+inf"
	if w.HasStart {
		start = time.UnixMilli(w.Start).UTC().Format(time.RFC3339)
	}
	if w.HasEnd {
		end = time.UnixMilli(w.End).UTC().Format(time.RFC3339)
	}
	return "[" + start + ", " + end + ")"
}
