// Package engine is the entry point the command dispatcher calls.
//
// An Engine validates a request, probes the store's capability tier, plans
// one descriptor per metric and hands the plan to the aggregator. Planner
// errors are returned before any query is dispatched.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/aggregator"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/planner"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/summary"
	"github.com/xtxerr/mobility/internal/validation"
)

var log = logging.Component("engine")

// Options configures an Engine.
type Options struct {
	// PlatformName prefixes the version string returned by PlatformVersion.
	PlatformName string

	// IgnoreUnavailable drops metrics the store reports as unsupported
	// instead of failing the request.
	IgnoreUnavailable bool

	// QueryTimeout bounds each request. Zero means no timeout.
	QueryTimeout time.Duration

	// SummaryAccuracy is the relative accuracy of summary percentiles.
	SummaryAccuracy float64
}

// DefaultOptions returns options with the compiled-in defaults.
func DefaultOptions() Options {
	return Options{
		PlatformName:    config.DefaultPlatformName,
		QueryTimeout:    config.DefaultQueryTimeout,
		SummaryAccuracy: config.DefaultSummaryAccuracy,
	}
}

// Request is one metrics request.
type Request struct {
	Selection planner.Selection
	Window    metric.TimeWindow
	Limit     int
}

// String returns a compact representation for logs.
func (r Request) String() string {
	return fmt.Sprintf("keys=%s window=%s limit=%d", r.Selection, r.Window, r.Limit)
}

// PartialResult is the outcome of RequestMetricsPartial.
type PartialResult struct {
	Results *metric.ResultSet
	Errors  map[metric.Kind]error
}

// Engine runs metrics requests against one sample store.
// It is safe for concurrent use.
type Engine struct {
	store store.SampleStore
	agg   *aggregator.Aggregator
	opts  Options

	probe singleflight.Group
}

// New creates an engine over s.
func New(s store.SampleStore, opts Options) *Engine {
	if opts.PlatformName == "" {
		opts.PlatformName = config.DefaultPlatformName
	}
	if opts.SummaryAccuracy == 0 {
		opts.SummaryAccuracy = config.DefaultSummaryAccuracy
	}
	return &Engine{
		store: s,
		agg:   aggregator.New(s, aggregator.Options{IgnoreUnavailable: opts.IgnoreUnavailable}),
		opts:  opts,
	}
}

// Stats returns the aggregator counters.
func (e *Engine) Stats() aggregator.Stats {
	return e.agg.Stats()
}

// CapabilityVersion returns the store's capability tier. Concurrent callers
// share one probe. The probe outlives any single caller's cancellation;
// each caller stops waiting when its own ctx ends.
func (e *Engine) CapabilityVersion(ctx context.Context) (metric.Version, error) {
	ch := e.probe.DoChan("capability", func() (interface{}, error) {
		pctx := context.WithoutCancel(ctx)
		if e.opts.QueryTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(pctx, e.opts.QueryTimeout)
			defer cancel()
		}
		return e.store.CapabilityVersion(pctx)
	})

	select {
	case <-ctx.Done():
		return metric.Version{}, contextError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if ctx.Err() != nil {
				return metric.Version{}, contextError(ctx.Err())
			}
			return metric.Version{}, errors.NewFetchError("capability", res.Err)
		}
		return res.Val.(metric.Version), nil
	}
}

// PlatformVersion returns "<platform name> <version>".
func (e *Engine) PlatformVersion(ctx context.Context) (string, error) {
	v, err := e.CapabilityVersion(ctx)
	if err != nil {
		return "", err
	}
	return e.opts.PlatformName + " " + v.String(), nil
}

// Plan validates req and resolves it into descriptors without querying.
func (e *Engine) Plan(ctx context.Context, req Request) ([]planner.Descriptor, error) {
	if !req.Selection.All {
		if err := validation.ValidateKeys(req.Selection.Keys); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateWindow(req.Window); err != nil {
		return nil, err
	}
	if err := validation.ValidateLimit(req.Limit); err != nil {
		return nil, err
	}

	tier, err := e.CapabilityVersion(ctx)
	if err != nil {
		return nil, err
	}
	return planner.Plan(req.Selection, req.Window, req.Limit, tier)
}

// RequestMetrics returns the samples of every requested metric, or an error
// and no samples at all.
func (e *Engine) RequestMetrics(ctx context.Context, req Request) (*metric.ResultSet, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	descs, err := e.Plan(ctx, req)
	if err != nil {
		logging.WithContext(ctx).Debug("plan rejected", "request", req.String(), "error", err)
		return nil, err
	}

	rs, err := e.agg.Execute(ctx, descs)
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx).Debug("metrics served",
		"request", req.String(),
		"metrics", rs.Len(),
		"samples", rs.SampleCount(),
		"duration", time.Since(start))
	return rs, nil
}

// RequestMetricsPartial is RequestMetrics returning whatever succeeded plus
// one error per failed metric.
func (e *Engine) RequestMetricsPartial(ctx context.Context, req Request) (*PartialResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	descs, err := e.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	rs, failed, err := e.agg.ExecutePartial(ctx, descs)
	if err != nil {
		return nil, err
	}
	for k, ferr := range failed {
		log.Warn("partial result without metric", "metric", k.Key(), "error", ferr)
	}
	return &PartialResult{Results: rs, Errors: failed}, nil
}

// RequestMetricsByType returns the samples of one metric named by its key or
// type name, newest start first. A positive limit keeps the samples that
// started last.
func (e *Engine) RequestMetricsByType(ctx context.Context, typeName string, window metric.TimeWindow, limit int) ([]metric.Sample, error) {
	kind, err := metric.ParseKind(typeName)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateLimit(limit); err != nil {
		return nil, err
	}

	rs, err := e.RequestMetrics(ctx, Request{
		Selection: planner.KindsOf(kind),
		Window:    window,
		Limit:     store.NoLimit,
	})
	if err != nil {
		return nil, err
	}

	samples, _ := rs.Get(kind)
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].StartMs != samples[j].StartMs {
			return samples[i].StartMs > samples[j].StartMs
		}
		return samples[i].EndMs > samples[j].EndMs
	})
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

// Summarize runs req and returns summary statistics per metric.
func (e *Engine) Summarize(ctx context.Context, req Request) ([]summary.Stats, error) {
	rs, err := e.RequestMetrics(ctx, req)
	if err != nil {
		return nil, err
	}
	return summary.Summarize(rs, e.opts.SummaryAccuracy)
}

// RequestAuthorization asks the store for read access to every metric
// available on its tier. Stores without a consent step always succeed.
func (e *Engine) RequestAuthorization(ctx context.Context) error {
	auth, ok := e.store.(store.Authorizer)
	if !ok {
		return nil
	}

	tier, err := e.CapabilityVersion(ctx)
	if err != nil {
		return err
	}
	kinds := metric.Available(tier)
	if len(kinds) == 0 {
		return fmt.Errorf("mobility data requires platform %s or newer, have %s: %w",
			metric.Baseline(), tier, errors.ErrUnsupportedPlatform)
	}

	if err := auth.RequestAuthorization(ctx, kinds); err != nil {
		logging.WithContext(ctx).Warn("authorization refused", "error", err)
		if errors.IsAuthError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", errors.ErrAuthorizationFailed, err)
	}

	logging.WithContext(ctx).Info("authorization granted", "metrics", len(kinds))
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", errors.ErrCancelled, err)
}
