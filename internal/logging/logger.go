// Package logging provides the narrow structured-logging interface used
// across the service, backed by zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Logger is the interface every component depends on. It intentionally
// mirrors printf-style call sites (`logger.Warn("failed: %v", err)`)
// rather than zerolog's structured field builder, so call sites don't
// need to know which backend is active.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level is a logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// zlogger adapts a zerolog.Logger to the Logger interface.
type zlogger struct {
	z zerolog.Logger
}

// New builds a root logger per cfg.
func New(cfg Config) Logger {
	level := parseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var z zerolog.Logger
	if cfg.JSON {
		z = zerolog.New(out).Level(level).With().Timestamp().Logger()
	} else {
		writer := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return colorizeLevel(fmt.Sprintf("%s", i))
			},
		}
		z = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}
	return &zlogger{z: z}
}

func colorizeLevel(level string) string {
	switch level {
	case "debug":
		return color.CyanString("DBG")
	case "info":
		return color.GreenString("INF")
	case "warn":
		return color.YellowString("WRN")
	case "error":
		return color.RedString("ERR")
	default:
		return level
	}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelInfo, "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zlogger) Debug(format string, args ...any) { l.z.Debug().Msg(fmt.Sprintf(format, args...)) }
func (l *zlogger) Info(format string, args ...any)  { l.z.Info().Msg(fmt.Sprintf(format, args...)) }
func (l *zlogger) Warn(format string, args ...any)  { l.z.Warn().Msg(fmt.Sprintf(format, args...)) }
func (l *zlogger) Error(format string, args ...any) { l.z.Error().Msg(fmt.Sprintf(format, args...)) }

// SetLevel adjusts the verbosity of logger in place, if it supports
// dynamic level changes (the zerolog-backed root logger does). It is a
// no-op for the nop logger or any other implementation. Used by the
// configuration reload path to apply a new logLevel without restarting.
func SetLevel(logger Logger, level Level) {
	if zl, ok := logger.(*zlogger); ok {
		zl.z = zl.z.Level(parseLevel(level))
	}
}

// WithComponent returns a child logger tagging every line with component=name.
func WithComponent(base Logger, name string) Logger {
	if zl, ok := base.(*zlogger); ok {
		return &zlogger{z: zl.z.With().Str("component", name).Logger()}
	}
	return base
}

// NewComponentLogger builds a root logger (text, info level, stdout) tagged
// with the given component name. Convenient for tests and standalone
// constructors that don't have a configured root logger threaded through.
func NewComponentLogger(name string) Logger {
	return WithComponent(New(Config{Level: LevelInfo}), name)
}

// nopLogger discards everything. Returned by OrNop for a nil input.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop is a shared no-op logger.
var Nop Logger = nopLogger{}

// IsNil reports whether logger is nil, including a typed nil pointer
// stored in the interface (a common source of surprise panics when a
// caller forwards a possibly-unset *SomeLogger field).
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// OrNop returns logger if non-nil, otherwise a safe no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop
	}
	return logger
}
