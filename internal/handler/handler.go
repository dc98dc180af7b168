// Package handler provides request handling for the mobility protocol.
//
// The Handler maps method names to engine operations, parses their
// arguments, and turns engine errors into wire error codes. It uses a
// RequestContext carrying the request ID and the session for logging.
package handler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/mobility/internal/engine"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/wire"
)

// =============================================================================
// Request Context
// =============================================================================

// RequestContext holds context for handling a request.
type RequestContext struct {
	context.Context

	// Session is nil for in-process calls.
	Session   *Session
	RequestID string
	Method    string
	Args      map[string]any
}

// =============================================================================
// Handler
// =============================================================================

// Options configures a Handler.
type Options struct {
	// PartialResults makes requestMetrics return the metrics that succeeded
	// together with per-metric errors instead of failing the whole call.
	// Clients can also ask for it per request with the "partial" argument.
	PartialResults bool
}

// MethodFunc handles one method and returns a structpb-compatible result.
type MethodFunc func(rc *RequestContext) (any, error)

// Handler is the main request handler.
// It is safe for concurrent use.
type Handler struct {
	engine  *engine.Engine
	opts    Options
	methods map[string]MethodFunc
}

// NewHandler creates a new handler over eng.
func NewHandler(eng *engine.Engine, opts Options) *Handler {
	h := &Handler{
		engine: eng,
		opts:   opts,
	}
	h.methods = map[string]MethodFunc{
		MethodGetAllMobilityData:    h.getAllMobilityData,
		MethodGetMobilityData:       h.getMobilityData,
		MethodGetRecentMobilityData: h.getRecentMobilityData,
		MethodRequestMetrics:        h.requestMetrics,
		MethodGetMobilityDataByType: h.getMobilityDataByType,
		MethodGetPlatformVersion:    h.getPlatformVersion,
		MethodRequestAuthorization:  h.requestAuthorization,
		MethodGetMobilitySummary:    h.getMobilitySummary,
	}
	return h
}

// Engine returns the engine requests run against.
func (h *Handler) Engine() *engine.Engine {
	return h.engine
}

// Methods returns the supported method names, sorted.
func (h *Handler) Methods() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewContext creates a request context with a fresh request ID.
func (h *Handler) NewContext(ctx context.Context, session *Session, method string, args map[string]any) *RequestContext {
	id := uuid.NewString()

	ctx = logging.ContextWithRequestID(ctx, id)
	ctx = logging.ContextWithMethod(ctx, method)
	if session != nil {
		ctx = logging.ContextWithRemote(ctx, session.Remote)
	}
	if args == nil {
		args = map[string]any{}
	}

	return &RequestContext{
		Context:   ctx,
		Session:   session,
		RequestID: id,
		Method:    method,
		Args:      args,
	}
}

// Call runs one method and returns its result.
func (h *Handler) Call(ctx context.Context, session *Session, method string, args map[string]any) (any, error) {
	fn, ok := h.methods[method]
	if !ok {
		return nil, ErrNotImplemented(method)
	}

	rc := h.NewContext(ctx, session, method, args)
	l := logging.WithContext(rc)
	start := time.Now()

	result, err := fn(rc)
	if err != nil {
		herr := ToHandlerError(err)
		l.Warn("request failed",
			"code", errors.CodeName(herr.Code),
			"error", herr.Message,
			"duration", time.Since(start))
		return nil, herr
	}

	l.Debug("request complete", "duration", time.Since(start))
	return result, nil
}

// Handle answers one request envelope. It never returns nil.
func (h *Handler) Handle(ctx context.Context, session *Session, env *wire.Envelope) *wire.Envelope {
	if !env.IsRequest() {
		return wire.NewError(env.ID, errors.CodeInvalidArguments, "message is not a request")
	}

	result, err := h.Call(ctx, session, env.Method, env.Args)
	if err != nil {
		herr := ToHandlerError(err)
		return wire.NewError(env.ID, herr.Code, herr.Message)
	}
	return wire.NewResult(env.ID, result)
}

// =============================================================================
// Error Handling - uses centralized error codes from errors package
// =============================================================================

// HandlerError represents a handler error with a wire protocol code.
type HandlerError struct {
	Code    int32 // Wire protocol code from errors.Code*
	Message string
	Cause   error // Optional underlying error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to the error.
func (e *HandlerError) WithCause(err error) *HandlerError {
	e.Cause = err
	return e
}

// NewError creates a handler error from a wire code.
func NewError(code int32, msg string) *HandlerError {
	return &HandlerError{Code: code, Message: msg, Cause: errors.CodeToError(code)}
}

// NewErrorFromErr creates a handler error from a sentinel error.
// It automatically maps the error to the correct wire code.
func NewErrorFromErr(err error, msg string) *HandlerError {
	code := errors.ErrorToCode(err)
	fullMsg := msg
	if err != nil && msg != "" {
		fullMsg = fmt.Sprintf("%s: %v", msg, err)
	} else if err != nil {
		fullMsg = err.Error()
	}
	return &HandlerError{Code: code, Message: fullMsg, Cause: err}
}

// Errorf creates a formatted handler error.
func Errorf(code int32, format string, args ...interface{}) *HandlerError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// ErrInvalidArguments creates an INVALID_ARGUMENTS error.
func ErrInvalidArguments(format string, args ...interface{}) *HandlerError {
	return &HandlerError{
		Code:    errors.CodeInvalidArguments,
		Message: fmt.Sprintf(format, args...),
		Cause:   errors.ErrInvalidArgument,
	}
}

// ErrNotImplemented creates a NOT_IMPLEMENTED error for an unknown method.
func ErrNotImplemented(method string) *HandlerError {
	return &HandlerError{
		Code:    errors.CodeNotImplemented,
		Message: fmt.Sprintf("method not implemented: %s", method),
		Cause:   errors.ErrMethodNotFound,
	}
}

// ErrAuthorization creates an AUTH_ERROR error.
func ErrAuthorization(cause error) *HandlerError {
	msg := "Authorization failed"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &HandlerError{
		Code:    errors.CodeAuthorization,
		Message: msg,
		Cause:   cause,
	}
}

// GetErrorCode extracts the wire code from an error.
func GetErrorCode(err error) int32 {
	var herr *HandlerError
	if errors.As(err, &herr) {
		return herr.Code
	}
	return errors.ErrorToCode(err)
}

// ToHandlerError converts any error to a HandlerError.
// If the error is already a HandlerError, it is returned as-is.
// Otherwise, it is wrapped with the appropriate wire code.
func ToHandlerError(err error) *HandlerError {
	if err == nil {
		return nil
	}
	var herr *HandlerError
	if errors.As(err, &herr) {
		return herr
	}
	return NewErrorFromErr(err, "")
}
