package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/env"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates a structured logger and installs it as slog.Default.
// format is "json" (default) or "pretty" for local development.
func NewLogger(level, format string) *slog.Logger {
	return newLoggerTo(os.Stdout, level, format)
}

func newLoggerTo(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pretty", "text":
		h = newPrettyHandler(w, opts, colorEnabled())
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// colorEnabled honors NO_COLOR and COWORK_LOG_COLOR.
func colorEnabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return env.Bool("COWORK_LOG_COLOR", true)
}
