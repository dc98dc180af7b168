// Package errors provides the error definitions for the entire project.
//
// This file provides:
//   - Wire protocol error codes
//   - Sentinel errors for all error conditions
//   - FetchError for runtime query failures
//   - ErrorToCode and CodeToError mapping
//   - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire protocol error codes - used in envelope error objects
// ============================================================================

const (
	CodeUnknown          int32 = 1
	CodeInvalidArguments int32 = 2
	CodeInvalidType      int32 = 3
	CodeUnavailable      int32 = 4
	CodeAuthorization    int32 = 5
	CodeFetch            int32 = 6
	CodeCancelled        int32 = 7
	CodeNotImplemented   int32 = 8
	CodeInternal         int32 = 9
	CodeTimeout          int32 = 10
)

// CodeName returns the externally visible name for an error code.
// The names are the codes clients of the mobility channel already know.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "UNKNOWN"
	case CodeInvalidArguments:
		return "INVALID_ARGUMENTS"
	case CodeInvalidType:
		return "INVALID_TYPE"
	case CodeUnavailable:
		return "UNAVAILABLE"
	case CodeAuthorization:
		return "AUTH_ERROR"
	case CodeFetch:
		return "FETCH_ERROR"
	case CodeCancelled:
		return "CANCELLED"
	case CodeNotImplemented:
		return "NOT_IMPLEMENTED"
	case CodeInternal:
		return "INTERNAL"
	case CodeTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("CODE(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Planner errors
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrUnknownMetric       = errors.New("unknown metric")

	// Aggregator errors
	ErrFetch     = errors.New("fetch error")
	ErrCancelled = errors.New("cancelled")
	ErrTimeout   = errors.New("timeout")

	// Authorization
	ErrAuthorizationRequired = errors.New("authorization required")
	ErrAuthorizationFailed   = errors.New("authorization failed")

	// Sample store errors. Stores wrap these so the core can tell an
	// unsupported type apart from a permission problem or generic I/O failure.
	ErrTypeUnsupported  = errors.New("sample type unsupported on this capability tier")
	ErrPermissionDenied = errors.New("permission denied")
	ErrStoreClosed      = errors.New("store is closed")

	// Validation errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidWindow   = errors.New("invalid time window")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidVersion  = errors.New("invalid version")

	// Dispatcher errors
	ErrMethodNotFound = errors.New("method not implemented")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// FetchError
// ============================================================================

// FetchError reports that a descriptor's query failed at runtime.
// Its message is the underlying cause's message.
type FetchError struct {
	Metric string
	Err    error
}

// NewFetchError wraps err as a fetch failure of the named metric.
func NewFetchError(metric string, err error) *FetchError {
	return &FetchError{Metric: metric, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return ErrFetch.Error()
	}
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports FetchError as ErrFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidVersion)
}

// IsAuthError returns true if err is an authorization error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthorizationRequired) ||
		errors.Is(err, ErrAuthorizationFailed) ||
		errors.Is(err, ErrPermissionDenied)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrUnknownMetric):
		return CodeInvalidType
	case Is(err, ErrUnsupportedPlatform):
		return CodeUnavailable
	case IsAuthError(err):
		return CodeAuthorization
	case Is(err, ErrCancelled):
		return CodeCancelled
	case Is(err, ErrTimeout):
		return CodeTimeout
	case Is(err, ErrFetch):
		return CodeFetch
	case IsValidation(err):
		return CodeInvalidArguments
	case Is(err, ErrMethodNotFound):
		return CodeNotImplemented
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeInvalidArguments:
		return ErrInvalidArgument
	case CodeInvalidType:
		return ErrUnknownMetric
	case CodeUnavailable:
		return ErrUnsupportedPlatform
	case CodeAuthorization:
		return ErrAuthorizationRequired
	case CodeFetch:
		return ErrFetch
	case CodeCancelled:
		return ErrCancelled
	case CodeNotImplemented:
		return ErrMethodNotFound
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewUnknownMetric creates an unknown-metric error naming the key.
func NewUnknownMetric(key string) error {
	return fmt.Errorf("%w: %q", ErrUnknownMetric, key)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidArgument creates an invalid argument error with context.
func NewInvalidArgument(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidArgument)
}

// NewValidation creates a configuration validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
