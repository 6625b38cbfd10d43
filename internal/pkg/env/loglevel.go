package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads the LOG_LEVEL environment variable and returns the
// corresponding slog.Level, falling back to the provided default.
func ParseLogLevel(fallback slog.Level) slog.Level {
	return LevelFromString(Get("LOG_LEVEL", ""), fallback)
}

// LevelFromString maps "debug", "info", "warn" and "error" to a slog.Level.
// Unrecognised values return fallback.
func LevelFromString(raw string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
