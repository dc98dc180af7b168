package handler

import (
	"github.com/xtxerr/mobility/internal/engine"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/planner"
)

// Method names.
const (
	MethodGetAllMobilityData    = "getAllMobilityData"
	MethodGetMobilityData       = "getMobilityData"
	MethodGetRecentMobilityData = "getRecentMobilityData"
	MethodRequestMetrics        = "requestMetrics"
	MethodGetMobilityDataByType = "getMobilityDataByType"
	MethodGetPlatformVersion    = "getPlatformVersion"
	MethodRequestAuthorization  = "requestAuthorization"
	MethodGetMobilitySummary    = "getMobilitySummary"
)

// getAllMobilityData returns the whole history of every available metric.
func (h *Handler) getAllMobilityData(rc *RequestContext) (any, error) {
	return h.fetch(rc, engine.Request{Selection: planner.All()})
}

// getMobilityData returns every available metric within [startDate, endDate).
func (h *Handler) getMobilityData(rc *RequestContext) (any, error) {
	w, err := requireWindow(rc.Args, rc.Method)
	if err != nil {
		return nil, err
	}
	return h.fetch(rc, engine.Request{Selection: planner.All(), Window: w})
}

// getRecentMobilityData returns the newest limit samples of every available
// metric.
func (h *Handler) getRecentMobilityData(rc *RequestContext) (any, error) {
	limit, err := requireInt(rc.Args, ArgLimit, rc.Method)
	if err != nil {
		return nil, err
	}
	return h.fetch(rc, engine.Request{Selection: planner.All(), Limit: int(limit)})
}

// requestMetrics is the generic form: keys, optional window and limit.
func (h *Handler) requestMetrics(rc *RequestContext) (any, error) {
	req, err := parseRequest(rc.Args, true)
	if err != nil {
		return nil, err
	}

	partial, err := boolArg(rc.Args, ArgPartial, h.opts.PartialResults)
	if err != nil {
		return nil, err
	}
	if !partial {
		return h.fetch(rc, req)
	}

	pr, err := h.engine.RequestMetricsPartial(rc, req)
	if err != nil {
		return nil, err
	}
	return encodePartial(pr), nil
}

// getMobilityDataByType returns {"data": [...]} for one metric.
func (h *Handler) getMobilityDataByType(rc *RequestContext) (any, error) {
	typeName, ok, err := stringArg(rc.Args, ArgType)
	if err != nil {
		return nil, err
	}
	_, hasStart, startErr := intArg(rc.Args, ArgStartDate)
	_, hasEnd, endErr := intArg(rc.Args, ArgEndDate)
	if !ok || !hasStart || !hasEnd || startErr != nil || endErr != nil {
		return nil, ErrInvalidArguments("Invalid arguments for %s", rc.Method)
	}

	if _, err := metric.ParseKind(typeName); err != nil {
		return nil, Errorf(errors.CodeInvalidType, "Invalid type: %s", typeName).WithCause(err)
	}

	w, err := windowArg(rc.Args)
	if err != nil {
		return nil, err
	}
	limit, err := limitArg(rc.Args)
	if err != nil {
		return nil, err
	}

	samples, err := h.engine.RequestMetricsByType(rc, typeName, w, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": encodeSamples(samples)}, nil
}

// getPlatformVersion returns "<platform name> <version>".
func (h *Handler) getPlatformVersion(rc *RequestContext) (any, error) {
	return h.engine.PlatformVersion(rc)
}

// requestAuthorization asks for read access to every available metric. Success
// carries a null result.
func (h *Handler) requestAuthorization(rc *RequestContext) (any, error) {
	if err := h.engine.RequestAuthorization(rc); err != nil {
		if errors.Is(err, errors.ErrCancelled) || errors.Is(err, errors.ErrTimeout) {
			return nil, err
		}
		return nil, ErrAuthorization(err)
	}
	return nil, nil
}

// getMobilitySummary returns summary statistics keyed by metric.
func (h *Handler) getMobilitySummary(rc *RequestContext) (any, error) {
	req, err := parseRequest(rc.Args, false)
	if err != nil {
		return nil, err
	}

	stats, err := h.engine.Summarize(rc, req)
	if err != nil {
		return nil, err
	}
	return encodeSummary(stats), nil
}

func (h *Handler) fetch(rc *RequestContext, req engine.Request) (any, error) {
	rs, err := h.engine.RequestMetrics(rc, req)
	if err != nil {
		return nil, err
	}
	return encodeResultSet(rs), nil
}

// parseRequest parses keys, startDate, endDate and limit.
func parseRequest(args map[string]any, keysRequired bool) (engine.Request, error) {
	sel, err := selectionArg(args, keysRequired)
	if err != nil {
		return engine.Request{}, err
	}
	w, err := windowArg(args)
	if err != nil {
		return engine.Request{}, err
	}
	limit, err := limitArg(args)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{Selection: sel, Window: w, Limit: limit}, nil
}
