package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"dev":     slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"prod":    slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in, slog.LevelInfo), in)
	}
}

func TestInit(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	Init(slog.LevelError)
	assert.True(t, slog.Default().Enabled(t.Context(), slog.LevelDebug))
}
