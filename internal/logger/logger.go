// Package logger wraps log/slog with the severity ladder and file rotation
// the daemonized process needs, built around an external rotation library
// rather than a logging framework with rotation baked in.
package logger

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity is the logging verbosity ladder, from most to least chatty.
type Severity int

const (
	Trace Severity = iota
	Debug
	Info
	Warn
	Error
	Off
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case Trace:
		return slog.Level(-8)
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	case Warn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Config controls where and how logs are written.
type Config struct {
	Severity   Severity
	Format     string // "json" or "text"
	FilePath   string // empty means stderr, no rotation
	MaxSizeMB  int
	MaxBackups int
}

// New builds a *slog.Logger per cfg. When FilePath is set, output rotates
// through lumberjack so that the log file does not grow without bound.
func New(cfg Config) *slog.Logger {
	var w interface {
		Write([]byte) (int, error)
	}

	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			Compress:   true,
		}
	} else {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Severity.slogLevel()}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Noop discards everything; used where a *slog.Logger is required but
// tests don't care about output.
func Noop() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// WithOp returns a child logger tagged with the FUSE operation name, so that
// a log line can be attributed to the callback that produced it.
func WithOp(l *slog.Logger, op string) *slog.Logger {
	return l.With("op", op)
}
