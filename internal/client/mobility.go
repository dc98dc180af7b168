package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/handler"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/summary"
)

// Query selects samples for RequestMetrics. No Keys selects every available
// metric. Zero Start or End leaves that side of the window open; zero Limit
// returns everything.
type Query struct {
	Keys  []string
	Start time.Time
	End   time.Time
	Limit int
}

func (q Query) args() map[string]any {
	args := make(map[string]any, 4)
	if len(q.Keys) == 0 {
		args[handler.ArgKeys] = "all"
	} else {
		keys := make([]any, len(q.Keys))
		for i, k := range q.Keys {
			keys[i] = k
		}
		args[handler.ArgKeys] = keys
	}
	if !q.Start.IsZero() {
		args[handler.ArgStartDate] = q.Start.UnixMilli()
	}
	if !q.End.IsZero() {
		args[handler.ArgEndDate] = q.End.UnixMilli()
	}
	if q.Limit > 0 {
		args[handler.ArgLimit] = q.Limit
	}
	return args
}

// MetricError reports why one metric of a partial request failed.
type MetricError struct {
	Code    string
	Message string
}

func (e MetricError) Error() string {
	return e.Code + ": " + e.Message
}

// Partial is the result of a request that tolerates per-metric failures.
type Partial struct {
	Results map[string][]metric.Sample
	Errors  map[string]MetricError
}

// GetAllMobilityData returns the full history of every available metric.
func (c *Client) GetAllMobilityData(ctx context.Context) (map[string][]metric.Sample, error) {
	res, err := c.Call(ctx, handler.MethodGetAllMobilityData, nil)
	if err != nil {
		return nil, err
	}
	return decodeResultSet(res)
}

// GetMobilityData returns every available metric within [start, end).
func (c *Client) GetMobilityData(ctx context.Context, start, end time.Time) (map[string][]metric.Sample, error) {
	res, err := c.Call(ctx, handler.MethodGetMobilityData, map[string]any{
		handler.ArgStartDate: start.UnixMilli(),
		handler.ArgEndDate:   end.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	return decodeResultSet(res)
}

// GetRecentMobilityData returns the newest limit samples of every available
// metric.
func (c *Client) GetRecentMobilityData(ctx context.Context, limit int) (map[string][]metric.Sample, error) {
	res, err := c.Call(ctx, handler.MethodGetRecentMobilityData, map[string]any{
		handler.ArgLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeResultSet(res)
}

// RequestMetrics runs q and fails as a whole if any metric fails.
func (c *Client) RequestMetrics(ctx context.Context, q Query) (map[string][]metric.Sample, error) {
	res, err := c.Call(ctx, handler.MethodRequestMetrics, q.args())
	if err != nil {
		return nil, err
	}
	return decodeResultSet(res)
}

// RequestMetricsPartial runs q and reports failed metrics next to the
// ones that succeeded.
func (c *Client) RequestMetricsPartial(ctx context.Context, q Query) (*Partial, error) {
	args := q.args()
	args[handler.ArgPartial] = true

	res, err := c.Call(ctx, handler.MethodRequestMetrics, args)
	if err != nil {
		return nil, err
	}

	m, ok := res.(map[string]any)
	if !ok {
		return nil, unexpected("partial result", res)
	}
	results, err := decodeResultSet(m["results"])
	if err != nil {
		return nil, err
	}

	p := &Partial{Results: results, Errors: make(map[string]MetricError)}
	failed, _ := m["errors"].(map[string]any)
	for key, v := range failed {
		e, ok := v.(map[string]any)
		if !ok {
			return nil, unexpected("metric error", v)
		}
		code, _ := e["code"].(string)
		msg, _ := e["message"].(string)
		p.Errors[key] = MetricError{Code: code, Message: msg}
	}
	return p, nil
}

// GetMobilityDataByType returns the samples of one metric, named by its
// platform type name or its key, within [start, end).
func (c *Client) GetMobilityDataByType(ctx context.Context, typeName string, start, end time.Time) ([]metric.Sample, error) {
	res, err := c.Call(ctx, handler.MethodGetMobilityDataByType, map[string]any{
		handler.ArgType:      typeName,
		handler.ArgStartDate: start.UnixMilli(),
		handler.ArgEndDate:   end.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		return nil, unexpected("typed result", res)
	}
	return decodeSamples(m["data"])
}

// GetPlatformVersion returns the server's platform, e.g. "iOS 17.0".
func (c *Client) GetPlatformVersion(ctx context.Context) (string, error) {
	res, err := c.Call(ctx, handler.MethodGetPlatformVersion, nil)
	if err != nil {
		return "", err
	}
	s, ok := res.(string)
	if !ok {
		return "", unexpected("platform version", res)
	}
	return s, nil
}

// RequestAuthorization asks the store for read access to every metric.
func (c *Client) RequestAuthorization(ctx context.Context) error {
	_, err := c.Call(ctx, handler.MethodRequestAuthorization, nil)
	return err
}

// GetMobilitySummary returns summary statistics per metric. No keys means
// every available metric.
func (c *Client) GetMobilitySummary(ctx context.Context, q Query) (map[string]summary.Stats, error) {
	res, err := c.Call(ctx, handler.MethodGetMobilitySummary, q.args())
	if err != nil {
		return nil, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		return nil, unexpected("summary", res)
	}

	out := make(map[string]summary.Stats, len(m))
	for key, v := range m {
		f, ok := v.(map[string]any)
		if !ok {
			return nil, unexpected("summary entry", v)
		}
		unit, _ := f["unit"].(string)
		out[key] = summary.Stats{
			Metric:  key,
			Unit:    unit,
			Count:   int64(num(f["count"])),
			Min:     num(f["min"]),
			Max:     num(f["max"]),
			Mean:    num(f["mean"]),
			P50:     num(f["p50"]),
			P90:     num(f["p90"]),
			P95:     num(f["p95"]),
			P99:     num(f["p99"]),
			FirstMs: int64(num(f["firstDate"])),
			LastMs:  int64(num(f["lastDate"])),
		}
	}
	return out, nil
}

// =============================================================================
// Decoding
// =============================================================================

func decodeResultSet(v any) (map[string][]metric.Sample, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, unexpected("result set", v)
	}
	out := make(map[string][]metric.Sample, len(m))
	for key, series := range m {
		samples, err := decodeSamples(series)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = samples
	}
	return out, nil
}

func decodeSamples(v any) ([]metric.Sample, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, unexpected("sample list", v)
	}
	out := make([]metric.Sample, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, unexpected("sample", item)
		}
		out = append(out, metric.Sample{
			Value:   num(m["value"]),
			StartMs: int64(num(m["startDate"])),
			EndMs:   int64(num(m["endDate"])),
		})
	}
	return out, nil
}

// num reads a decoded number; absent or non-numeric fields read as NaN.
func num(v any) float64 {
	f, ok := v.(float64)
	if !ok {
		return math.NaN()
	}
	return f
}

func unexpected(what string, v any) error {
	return errors.NewInvalidArgument(what, fmt.Sprintf("unexpected %T in response", v))
}
