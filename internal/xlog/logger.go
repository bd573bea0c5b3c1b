// Package xlog is a thin structured-logging wrapper around log/slog,
// shaped after go-ethereum's log package: leveled Trace/Debug/Info/
// Warn/Error/Crit methods, a root logger, and child loggers created
// via With that carry a fixed set of context fields.
package xlog

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Level extends slog's four levels with Trace below Debug and Crit
// above Error, matching the granularity go-ethereum's log package
// exposes.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelCrit  = slog.Level(12)
)

// Logger is the leveled logging interface every blockstm component
// logs through.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	// With returns a child logger that always includes ctx in
	// addition to whatever is passed to a given call.
	With(ctx ...any) Logger
}

type logger struct {
	inner *slog.Logger
}

// NewLogger wraps an *slog.Logger as a Logger.
func NewLogger(inner *slog.Logger) Logger {
	return &logger{inner: inner}
}

// NewTerminalLogger builds a human-readable logger writing to w at
// the given minimum level, for CLI use (§8 ambient stack).
func NewTerminalLogger(w *os.File, level slog.Level) Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}

			return a
		},
	})

	return NewLogger(slog.New(h))
}

// NewJSONLogger builds a JSON logger writing to w, for production /
// non-interactive use.
func NewJSONLogger(w *os.File, level slog.Level) Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return NewLogger(slog.New(h))
}

func (l *logger) log(level slog.Level, msg string, ctx []any) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.log(LevelCrit, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

var root Logger = NewTerminalLogger(os.Stderr, LevelInfo)

// Root returns the package-wide default logger.
func Root() Logger { return root }

// SetDefault replaces the package-wide default logger.
func SetDefault(l Logger) { root = l }

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { root.Crit(msg, ctx...) }
