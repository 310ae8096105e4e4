// Package obs provides the structured logger shared by every component of
// the settlement core. It wraps charmbracelet/log the same way
// Klingon-tech-klingdex's pkg/logging wraps it: configurable level, prefix
// and time format, with structured key/value fields instead of printf
// strings, so order_id/actor/status fields stay greppable in production
// logs.
package obs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level re-exports charmbracelet/log's level type.
type Level = log.Level

const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Logger wraps charmbracelet/log with the core's fixed prefix convention.
type Logger struct {
	*log.Logger
}

// Config configures a Logger.
type Config struct {
	Level  string
	Prefix string
	Output io.Writer
}

// DefaultConfig is the configuration Default builds from; cmd/ospaycore
// builds its own Config from the environment instead.
func DefaultConfig() Config {
	return Config{Level: "info", Prefix: "ospaycore", Output: os.Stderr}
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          cfg.Prefix,
	})
	l.SetLevel(ParseLevel(cfg.Level))
	return &Logger{Logger: l}
}

// Default returns a ready-to-use logger at info level.
func Default() *Logger { return New(DefaultConfig()) }

// ParseLevel parses a textual level, defaulting to info on garbage input.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// With returns a child logger carrying the given key/value pairs on every
// subsequent line, e.g. obs.Default().With("order_id", id, "actor", a).
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...)}
}

// Alert logs at error level and is the single call site C8/C7 use to
// surface a condition that must reach monitoring (§7, §4.8).
func (l *Logger) Alert(msg string, keyvals ...any) {
	l.Logger.Error("ALERT: "+msg, keyvals...)
}
