// Package aggregator fans one store query out per planned descriptor, waits
// for every query to settle, and merges the outcomes into a ResultSet.
//
// Each query runs in its own goroutine and writes only its own Outcome slot.
// Merging happens on the calling goroutine after the barrier, in plan order,
// so the result does not depend on which query finished first.
package aggregator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/planner"
	"github.com/xtxerr/mobility/internal/store"
)

var log = logging.Component("aggregator")

// Options configures failure handling.
type Options struct {
	// IgnoreUnavailable drops descriptors whose kind the store reports as
	// unsupported on its tier instead of failing the whole call.
	IgnoreUnavailable bool
}

// Outcome is the settled result of one descriptor's query.
type Outcome struct {
	Descriptor planner.Descriptor
	Samples    []metric.Sample
	Err        error
	Duration   time.Duration
}

// Stats holds aggregator counters.
type Stats struct {
	Executions int64
	Queries    int64
	Failures   int64
	Cancelled  int64
}

// Aggregator executes descriptor sets against one store.
type Aggregator struct {
	store store.SampleStore
	opts  Options

	executions atomic.Int64
	queries    atomic.Int64
	failures   atomic.Int64
	cancelled  atomic.Int64
}

// New creates an aggregator over s.
func New(s store.SampleStore, opts Options) *Aggregator {
	return &Aggregator{store: s, opts: opts}
}

// Stats returns a snapshot of the counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Executions: a.executions.Load(),
		Queries:    a.queries.Load(),
		Failures:   a.failures.Load(),
		Cancelled:  a.cancelled.Load(),
	}
}

// Execute issues exactly one query per descriptor, concurrently, and returns
// the merged ResultSet once all of them have completed.
//
// Any failed query fails the whole call and no ResultSet is returned. A
// permission denial from the store yields ErrAuthorizationRequired; other
// failures yield a *errors.FetchError from the first failing descriptor in
// plan order. A cancelled context yields ErrCancelled (ErrTimeout when its
// deadline expired).
func (a *Aggregator) Execute(ctx context.Context, descs []planner.Descriptor) (*metric.ResultSet, error) {
	outcomes, err := a.run(ctx, descs)
	if err != nil {
		return nil, err
	}

	series := make(map[metric.Kind][]metric.Sample, len(outcomes))
	var authErr, fetchErr error
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			series[o.Descriptor.Kind] = o.Samples
		case a.skippable(o.Err):
			log.Debug("dropping unavailable metric", "metric", o.Descriptor.Kind.Key())
		case errors.Is(o.Err, errors.ErrPermissionDenied):
			if authErr == nil {
				authErr = fmt.Errorf("%w: %s: %v", errors.ErrAuthorizationRequired, o.Descriptor.Kind.Key(), o.Err)
			}
		default:
			if fetchErr == nil {
				fetchErr = errors.NewFetchError(o.Descriptor.Kind.Key(), o.Err)
			}
		}
	}

	if authErr != nil {
		return nil, authErr
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return metric.NewResultSet(series), nil
}

// ExecutePartial is Execute without the all-or-nothing rule: it returns the
// samples of every successful descriptor together with the error of every
// failed one. The returned error is non-nil only for invalid input or a
// cancelled context.
func (a *Aggregator) ExecutePartial(ctx context.Context, descs []planner.Descriptor) (*metric.ResultSet, map[metric.Kind]error, error) {
	outcomes, err := a.run(ctx, descs)
	if err != nil {
		return nil, nil, err
	}

	series := make(map[metric.Kind][]metric.Sample, len(outcomes))
	failed := make(map[metric.Kind]error)
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			series[o.Descriptor.Kind] = o.Samples
		case a.skippable(o.Err):
		case errors.Is(o.Err, errors.ErrPermissionDenied):
			failed[o.Descriptor.Kind] = fmt.Errorf("%w: %v", errors.ErrAuthorizationRequired, o.Err)
		default:
			failed[o.Descriptor.Kind] = errors.NewFetchError(o.Descriptor.Kind.Key(), o.Err)
		}
	}
	return metric.NewResultSet(series), failed, nil
}

// Dispatch runs every descriptor and returns the outcomes in plan order
// without merging them.
func (a *Aggregator) Dispatch(ctx context.Context, descs []planner.Descriptor) ([]Outcome, error) {
	return a.run(ctx, descs)
}

func (a *Aggregator) skippable(err error) bool {
	return a.opts.IgnoreUnavailable && errors.Is(err, errors.ErrTypeUnsupported)
}

// run validates descs, dispatches them and waits for all of them.
func (a *Aggregator) run(ctx context.Context, descs []planner.Descriptor) ([]Outcome, error) {
	a.executions.Add(1)

	seen := make(map[metric.Kind]bool, len(descs))
	for _, d := range descs {
		if !d.Kind.Valid() {
			return nil, errors.NewInvalidArgument("descriptor", fmt.Sprintf("invalid kind %d", int(d.Kind)))
		}
		if seen[d.Kind] {
			return nil, errors.NewInvalidArgument("descriptor", "duplicate kind "+d.Kind.Key())
		}
		seen[d.Kind] = true
	}

	if err := ctx.Err(); err != nil {
		return nil, a.contextError(err)
	}

	start := time.Now()
	outcomes := a.dispatch(ctx, descs)

	if err := ctx.Err(); err != nil {
		return nil, a.contextError(err)
	}

	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Warn("metric query failed",
				"metric", o.Descriptor.Kind.Key(),
				"duration", o.Duration,
				"error", o.Err)
		}
	}
	a.failures.Add(int64(failed))

	log.Debug("aggregate settled",
		"descriptors", len(descs),
		"failed", failed,
		"duration", time.Since(start))

	return outcomes, nil
}

// dispatch starts one goroutine per descriptor and blocks until all return.
func (a *Aggregator) dispatch(ctx context.Context, descs []planner.Descriptor) []Outcome {
	outcomes := make([]Outcome, len(descs))

	var g errgroup.Group
	for i, d := range descs {
		outcomes[i].Descriptor = d
		g.Go(func() error {
			begin := time.Now()
			outcomes[i].Samples, outcomes[i].Err = a.fetch(ctx, d)
			outcomes[i].Duration = time.Since(begin)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// fetch runs one descriptor's query and converts the result.
func (a *Aggregator) fetch(ctx context.Context, d planner.Descriptor) (samples []metric.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			samples = nil
			err = fmt.Errorf("%w: store panicked: %v", errors.ErrInternal, r)
		}
	}()

	a.queries.Add(1)
	raw, err := a.store.Query(ctx, d.Query())
	if err != nil {
		return nil, err
	}

	samples = make([]metric.Sample, 0, len(raw))
	for _, r := range raw {
		if !d.Window.Contains(r.StartMs) {
			continue
		}
		s, err := r.Convert(d.Kind)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	metric.SortNewestFirst(samples)
	if d.Limit > 0 && len(samples) > d.Limit {
		samples = samples[:d.Limit]
	}
	return samples, nil
}

func (a *Aggregator) contextError(err error) error {
	a.cancelled.Add(1)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", errors.ErrCancelled, err)
}
