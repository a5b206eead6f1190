// Package logging configures structured logging for the service.
//
// Two output modes: tint's colored handler for humans (pretty) and
// slog's JSON handler for log collectors.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a logger at the given level. Pretty selects the colored
// console handler; otherwise output is JSON.
func New(level string, pretty bool) *slog.Logger {
	lvl := ParseLevel(level)
	if pretty {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Setup builds a logger and installs it as the slog default.
func Setup(level string, pretty bool) *slog.Logger {
	log := New(level, pretty)
	slog.SetDefault(log)
	return log
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
