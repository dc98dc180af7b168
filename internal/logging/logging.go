// Package logging provides structured logging for the mobility daemon.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("aggregator")
//	log.Debug("dispatched", "descriptors", 5)
//
//	// Log with request context
//	logging.WithContext(ctx).Warn("request failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel parses a level name (debug, info, warn, error).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers are usually created at package init time, before Init
// runs, so they resolve the global handler on every call.
func Component(name string) *slog.Logger {
	return slog.New(&deferredHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// WithContext returns a logger that includes request-scoped context values.
func WithContext(ctx context.Context) *slog.Logger {
	logger := current()

	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	if method, ok := ctx.Value(contextKeyMethod).(string); ok {
		logger = logger.With("method", method)
	}
	if remote, ok := ctx.Value(contextKeyRemote).(string); ok {
		logger = logger.With("remote", remote)
	}

	return logger
}

func current() *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger
}

// deferredHandler forwards to the global logger's handler at log time.
type deferredHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := current().Handler()
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current().Handler().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &deferredHandler{attrs: merged, groups: h.groups}
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &deferredHandler{attrs: h.attrs, groups: groups}
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRequestID contextKey = iota
	contextKeyMethod
	contextKeyRemote
)

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// ContextWithMethod adds the dispatched method name to the context for logging.
func ContextWithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, contextKeyMethod, method)
}

// ContextWithRemote adds the peer address to the context for logging.
func ContextWithRemote(ctx context.Context, remote string) context.Context {
	return context.WithValue(ctx, contextKeyRemote, remote)
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
