package handler

import (
	"math"
	"strings"

	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/planner"
)

// Argument names.
const (
	ArgKeys      = "keys"
	ArgStartDate = "startDate"
	ArgEndDate   = "endDate"
	ArgLimit     = "limit"
	ArgType      = "type"
	ArgPartial   = "partial"
)

// maxSafeInt is the largest integer a protobuf number carries exactly.
const maxSafeInt = 1 << 53

// intArg returns an integer argument. ok is false if the argument is absent
// or null; a present value that is not an integer is an error.
func intArg(args map[string]any, name string) (v int64, ok bool, err error) {
	raw, present := args[name]
	if !present || raw == nil {
		return 0, false, nil
	}

	switch n := raw.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > maxSafeInt {
			return 0, false, ErrInvalidArguments("%s must be an integer, got %v", name, n)
		}
		return int64(n), true, nil
	case int:
		return int64(n), true, nil
	case int32:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	default:
		return 0, false, ErrInvalidArguments("%s must be an integer, got %T", name, raw)
	}
}

// requireInt returns a mandatory integer argument.
func requireInt(args map[string]any, name, method string) (int64, error) {
	v, ok, err := intArg(args, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidArguments("Missing %s for %s", name, method)
	}
	return v, nil
}

// stringArg returns a string argument.
func stringArg(args map[string]any, name string) (string, bool, error) {
	raw, present := args[name]
	if !present || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, ErrInvalidArguments("%s must be a string, got %T", name, raw)
	}
	return s, true, nil
}

// boolArg returns a boolean argument, def if absent.
func boolArg(args map[string]any, name string, def bool) (bool, error) {
	raw, present := args[name]
	if !present || raw == nil {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, ErrInvalidArguments("%s must be a boolean, got %T", name, raw)
	}
	return b, nil
}

// selectionArg parses the keys argument: the string "all", a comma
// separated string, or a list of strings. Absent keys select all when
// required is false.
func selectionArg(args map[string]any, required bool) (planner.Selection, error) {
	raw, present := args[ArgKeys]
	if !present || raw == nil {
		if required {
			return planner.Selection{}, ErrInvalidArguments("Missing %s", ArgKeys)
		}
		return planner.All(), nil
	}

	switch v := raw.(type) {
	case string:
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return planner.ParseSelection(parts), nil
	case []string:
		return planner.ParseSelection(v), nil
	case []any:
		keys := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return planner.Selection{}, ErrInvalidArguments("%s[%d] must be a string, got %T", ArgKeys, i, item)
			}
			keys = append(keys, s)
		}
		return planner.ParseSelection(keys), nil
	default:
		return planner.Selection{}, ErrInvalidArguments("%s must be \"all\" or a list of strings, got %T", ArgKeys, raw)
	}
}

// windowArg parses the optional startDate and endDate arguments.
func windowArg(args map[string]any) (metric.TimeWindow, error) {
	var w metric.TimeWindow

	start, ok, err := intArg(args, ArgStartDate)
	if err != nil {
		return w, err
	}
	if ok {
		w.Start, w.HasStart = start, true
	}

	end, ok, err := intArg(args, ArgEndDate)
	if err != nil {
		return w, err
	}
	if ok {
		w.End, w.HasEnd = end, true
	}
	return w, nil
}

// requireWindow parses mandatory startDate and endDate arguments.
func requireWindow(args map[string]any, method string) (metric.TimeWindow, error) {
	_, hasStart, err := intArg(args, ArgStartDate)
	if err != nil {
		return metric.TimeWindow{}, err
	}
	_, hasEnd, err := intArg(args, ArgEndDate)
	if err != nil {
		return metric.TimeWindow{}, err
	}
	if !hasStart || !hasEnd {
		return metric.TimeWindow{}, ErrInvalidArguments("Missing startDate or endDate for %s", method)
	}
	return windowArg(args)
}

// limitArg parses the optional limit argument. Absent means no limit.
func limitArg(args map[string]any) (int, error) {
	v, ok, err := intArg(args, ArgLimit)
	if err != nil || !ok {
		return 0, err
	}
	return int(v), nil
}
