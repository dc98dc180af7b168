package handler

import (
	"github.com/xtxerr/mobility/internal/engine"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/summary"
)

// Results are built from map[string]any, []any and scalars only, the types
// structpb.NewValue accepts.

// encodeResultSet renders a result set as key -> [{value, startDate, endDate}].
func encodeResultSet(rs *metric.ResultSet) map[string]any {
	out := make(map[string]any, rs.Len())
	for _, k := range rs.Kinds() {
		samples, _ := rs.Get(k)
		out[k.Key()] = encodeSamples(samples)
	}
	return out
}

func encodeSamples(samples []metric.Sample) []any {
	out := make([]any, len(samples))
	for i, s := range samples {
		out[i] = map[string]any{
			"value":     s.Value,
			"startDate": s.StartMs,
			"endDate":   s.EndMs,
		}
	}
	return out
}

// encodePartial renders {"results": {...}, "errors": {key: {code, message}}}.
func encodePartial(pr *engine.PartialResult) map[string]any {
	failed := make(map[string]any, len(pr.Errors))
	for k, err := range pr.Errors {
		code := errors.ErrorToCode(err)
		failed[k.Key()] = map[string]any{
			"code":    errors.CodeName(code),
			"message": err.Error(),
		}
	}
	return map[string]any{
		"results": encodeResultSet(pr.Results),
		"errors":  failed,
	}
}

func encodeSummary(stats []summary.Stats) map[string]any {
	out := make(map[string]any, len(stats))
	for _, s := range stats {
		out[s.Metric] = map[string]any{
			"unit":      s.Unit,
			"count":     s.Count,
			"min":       s.Min,
			"max":       s.Max,
			"mean":      s.Mean,
			"p50":       s.P50,
			"p90":       s.P90,
			"p95":       s.P95,
			"p99":       s.P99,
			"firstDate": s.FirstMs,
			"lastDate":  s.LastMs,
		}
	}
	return out
}
