// Package logging provides structured logging for the tlmarchive daemon.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all pipeline components. It supports both text
// and JSON output formats, configurable log levels, and component-based
// loggers.
//
// Component loggers are usually created at package initialization, before
// main has parsed its configuration. They forward to whatever handler the
// most recent Init installed, so a later Init still reaches them.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	var log = logging.Component("gatherer")
//	log.Info("gatherer started", "interval", interval)
//
//	// Log with store context
//	log.Error("record dropped", "store", id, "key", key, "error", err)
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// current is the handler every component logger forwards to.
var current atomic.Pointer[slog.Handler]

func init() {
	Init(slog.LevelInfo, false)
}

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	current.Store(&handler)
	Logger = slog.New(&switchHandler{})
	slog.SetDefault(Logger)
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("inserter")
//	log.Info("started") // Output: time=... level=INFO component=inserter msg=started
func Component(name string) *slog.Logger {
	return slog.New(&switchHandler{}).With("component", name)
}

// Store returns a component logger scoped to one store identifier.
func Store(component, store string) *slog.Logger {
	return Component(component).With("store", store)
}

// =============================================================================
// Forwarding handler
// =============================================================================

// switchHandler resolves the installed handler on every call so loggers
// created before Init pick up the configured level and format.
type switchHandler struct {
	attrs []slog.Attr
}

func (h *switchHandler) target() slog.Handler {
	base := *current.Load()
	if len(h.attrs) > 0 {
		return base.WithAttrs(h.attrs)
	}
	return base
}

func (h *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*current.Load()).Enabled(ctx, level)
}

func (h *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &switchHandler{attrs: merged}
}

// WithGroup binds to the handler installed at call time; groups are not
// used by the pipeline loggers.
func (h *switchHandler) WithGroup(name string) slog.Handler {
	return h.target().WithGroup(name)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}
