// Package logging provides the structured logger used across the service.
// Records are written as JSON through log/slog; the request ID stored in a
// context is attached to every record logged with that context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Fields holds structured key/value pairs for a log record.
type Fields map[string]interface{}

type contextKey struct{}

var requestIDKey = contextKey{}

var base atomic.Pointer[slog.Logger]

func init() {
	Configure("info", os.Stderr)
}

// ContextHandler decorates records with the request ID found in the context.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Configure replaces the process-wide output and level.
func Configure(level string, w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	base.Store(slog.New(&ContextHandler{Handler: handler}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerV2 is a named structured logger.
type LoggerV2 struct {
	service string
	fields  Fields
	ctx     context.Context
}

// NewLoggerV2 creates a logger tagged with the given service name.
func NewLoggerV2(service string) *LoggerV2 {
	return &LoggerV2{service: service, ctx: context.Background()}
}

// With returns a logger that adds fields to every record.
func (l *LoggerV2) With(fields Fields) *LoggerV2 {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LoggerV2{service: l.service, fields: merged, ctx: l.ctx}
}

// WithContext returns a logger bound to ctx, so its request ID is logged.
func (l *LoggerV2) WithContext(ctx context.Context) *LoggerV2 {
	return &LoggerV2{service: l.service, fields: l.fields, ctx: ctx}
}

func (l *LoggerV2) Debug(msg string, fields ...Fields) {
	l.log(slog.LevelDebug, msg, fields)
}

func (l *LoggerV2) Info(msg string, fields ...Fields) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *LoggerV2) Warn(msg string, fields ...Fields) {
	l.log(slog.LevelWarn, msg, fields)
}

func (l *LoggerV2) Error(msg string, fields ...Fields) {
	l.log(slog.LevelError, msg, fields)
}

// Fatal logs at error level and exits the process.
func (l *LoggerV2) Fatal(msg string, fields ...Fields) {
	l.log(slog.LevelError, msg, fields)
	os.Exit(1)
}

func (l *LoggerV2) log(level slog.Level, msg string, fields []Fields) {
	logger := base.Load()
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if !logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 1+len(l.fields))
	if l.service != "" {
		attrs = append(attrs, slog.String("service", l.service))
	}
	for k, v := range l.fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	for _, f := range fields {
		for k, v := range f {
			attrs = append(attrs, slog.Any(k, v))
		}
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
}

var std = NewLoggerV2("")

// Info logs with the process-wide logger.
func Info(msg string, fields ...Fields) {
	std.Info(msg, fields...)
}

// Infof logs a formatted message with the process-wide logger.
func Infof(format string, args ...interface{}) {
	std.Info(fmt.Sprintf(format, args...))
}
