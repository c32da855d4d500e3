package log

import (
	"context"
	"log/slog"
	"os"
)

// defaultLog is the package-level Logger used by the bare Debug/Info/Warn/
// Error/Trace functions and their Context variants, for callers that don't
// want to thread a Logger value through every call site. It writes JSON to
// os.Stderr at [DefaultLevel] until reconfigured with [Config].
var defaultLog = Make(os.Stderr)

// Config reconfigures the package-level default logger, applying opts on
// top of its current configuration (the same way [Logger.Wrap] layers
// options onto an existing Logger).
func Config(opts ...Option) {
	defaultLog = defaultLog.Wrap(opts...)
}

// Trace logs a message at Trace level on the default logger.
func Trace(msg string, attrs ...slog.Attr) { defaultLog.Trace(msg, attrs...) }

// TraceContext logs a message at Trace level on the default logger with ctx.
func TraceContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	defaultLog.TraceContext(ctx, msg, attrs...)
}

// Debug logs a message at Debug level on the default logger.
func Debug(msg string, attrs ...slog.Attr) { defaultLog.Debug(msg, attrs...) }

// DebugContext logs a message at Debug level on the default logger with ctx.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	defaultLog.DebugContext(ctx, msg, attrs...)
}

// Info logs a message at Info level on the default logger.
func Info(msg string, attrs ...slog.Attr) { defaultLog.Info(msg, attrs...) }

// InfoContext logs a message at Info level on the default logger with ctx.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	defaultLog.InfoContext(ctx, msg, attrs...)
}

// Warn logs a message at Warn level on the default logger.
func Warn(msg string, attrs ...slog.Attr) { defaultLog.Warn(msg, attrs...) }

// WarnContext logs a message at Warn level on the default logger with ctx.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	defaultLog.WarnContext(ctx, msg, attrs...)
}

// Error logs a message at Error level on the default logger.
func Error(msg string, attrs ...slog.Attr) { defaultLog.Error(msg, attrs...) }

// ErrorContext logs a message at Error level on the default logger with ctx.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	defaultLog.ErrorContext(ctx, msg, attrs...)
}
