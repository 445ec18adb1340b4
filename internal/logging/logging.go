package logging

import (
	"log/slog"
	"os"
)

// Init installs a text logger on stderr. LOG_LEVEL overrides def.
func Init(def slog.Level) {
	level := def

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, def)
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a LOG_LEVEL value to a level, falling back to def.
func ParseLevel(s string, def slog.Level) slog.Level {
	switch s {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return def
}
