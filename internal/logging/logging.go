// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging is the structured logger used across portdrop.
//
// It wraps log/slog. Human-readable output goes through charmbracelet/log,
// machine-readable output through slog's JSON handler. Components derive
// child loggers with WithComponent so every line carries its origin.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"

	"grimm.is/portdrop/internal/errors"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

func (l Level) String() string {
	return strings.ToLower(slog.Level(l).String())
}

// ParseLevel accepts debug, info, warn/warning and error (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, errors.Errorf(errors.KindValidation, "unknown log level %q", s)
}

// Config controls logger construction.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
}

// DefaultConfig logs info and above as text to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger is a leveled, structured logger.
type Logger struct {
	slog *slog.Logger
}

// New builds a logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.Level(cfg.Level)})
	} else {
		h = charmlog.NewWithOptions(out, charmlog.Options{
			Level:           charmlog.Level(cfg.Level),
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
	}
	return &Logger{slog: slog.New(h)}
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(DefaultConfig()))
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

func (l *Logger) get() *slog.Logger {
	if l == nil || l.slog == nil {
		return Default().slog
	}
	return l.slog
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.get() }

func (l *Logger) Debug(msg string, args ...any) { l.get().Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.get().Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.get().Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.get().Error(msg, args...) }

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.get().With(args...)}
}

// WithComponent tags every line with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithError attaches err and its structured attributes.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errors.LogArgs(err)...)
}

// Package-level helpers write to Default().

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// WithComponent derives a component logger from Default().
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
