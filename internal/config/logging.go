package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds a slog.Logger from the logging settings.
func NewLogger(s LoggingSettings) *slog.Logger {
	return NewLoggerTo(os.Stderr, s)
}

// NewLoggerTo builds a logger writing to w, mainly for tests.
func NewLoggerTo(w io.Writer, s LoggingSettings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(s.Level)}

	var handler slog.Handler
	if s.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupLogging installs the configured logger as the process default.
func SetupLogging(s LoggingSettings) *slog.Logger {
	logger := NewLogger(s)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
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
