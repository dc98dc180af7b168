// Package validation checks request arguments before they reach the planner.
//
// Every check returns an error wrapping one of the validation sentinels in
// internal/errors, so the dispatcher maps all of them to INVALID_ARGUMENTS.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxKeyLength bounds a single metric key.
	MaxKeyLength = 64

	// MaxKeys bounds the number of keys in one request.
	MaxKeys = 32

	// MaxLimit bounds the per-metric result count.
	MaxLimit = 1_000_000

	// MinTimestampMs and MaxTimestampMs bound accepted epoch milliseconds
	// (0001-01-01 and 9999-12-31).
	MinTimestampMs int64 = -62135596800000
	MaxTimestampMs int64 = 253402300799999
)

// =============================================================================
// Key Validation
// =============================================================================

// ValidateKey checks the syntax of a metric key. It does not check that the
// key names a known metric; the planner does that.
func ValidateKey(key string) error {
	if key == "" {
		return errors.NewInvalidArgument("key", "empty")
	}
	if len(key) > MaxKeyLength {
		return errors.NewInvalidArgument("key", fmt.Sprintf("too long: maximum %d characters", MaxKeyLength))
	}
	for i, r := range key {
		if r < 32 || r == 127 {
			return errors.NewInvalidArgument("key", fmt.Sprintf("control character at position %d", i))
		}
		if !isKeyChar(r) {
			return errors.NewInvalidArgument("key", fmt.Sprintf("invalid character '%c' at position %d", r, i))
		}
	}
	return nil
}

func isKeyChar(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

// ValidateKeys checks a requested key list. A single "all" (any case) is
// accepted as the sentinel.
func ValidateKeys(keys []string) error {
	if len(keys) == 0 {
		return errors.NewMissingField("keys")
	}
	if len(keys) > MaxKeys {
		return errors.NewInvalidArgument("keys", fmt.Sprintf("too many: maximum %d", MaxKeys))
	}
	if len(keys) == 1 && strings.EqualFold(strings.TrimSpace(keys[0]), "all") {
		return nil
	}
	for _, k := range keys {
		if err := ValidateKey(k); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Window and Limit Validation
// =============================================================================

// ValidateTimestamp checks that ms is a representable calendar date.
func ValidateTimestamp(field string, ms int64) error {
	if ms < MinTimestampMs || ms > MaxTimestampMs {
		return errors.NewInvalidArgument(field, fmt.Sprintf("timestamp %d out of range", ms))
	}
	return nil
}

// ValidateWindow checks both bounds and their order.
func ValidateWindow(w metric.TimeWindow) error {
	if w.HasStart {
		if err := ValidateTimestamp("startDate", w.Start); err != nil {
			return err
		}
	}
	if w.HasEnd {
		if err := ValidateTimestamp("endDate", w.End); err != nil {
			return err
		}
	}
	return w.Validate()
}

// ValidateLimit checks a result-count limit. Zero means no limit.
func ValidateLimit(limit int) error {
	if limit < 0 {
		return errors.NewInvalidArgument("limit", "must not be negative")
	}
	if limit > MaxLimit {
		return errors.NewInvalidArgument("limit", fmt.Sprintf("maximum is %d", MaxLimit))
	}
	return nil
}

// =============================================================================
// Request Validation
// =============================================================================

// ValidateRequest checks every argument of a metrics request and reports
// all problems at once.
func ValidateRequest(keys []string, w metric.TimeWindow, limit int) error {
	verrs := errors.NewValidationErrors()
	verrs.Add(ValidateKeys(keys))
	verrs.Add(ValidateWindow(w))
	verrs.Add(ValidateLimit(limit))
	return verrs.Err()
}
