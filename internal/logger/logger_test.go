package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetup_FiltersByLevel(t *testing.T) {
	t.Setenv(DebugEnv, "")

	var buf bytes.Buffer
	l := Setup("warn", &buf)
	l.Info("hidden")
	l.Warn("shown", "component", "engine")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "component=engine")
}

func TestSetup_DebugEnvOverrides(t *testing.T) {
	t.Setenv(DebugEnv, "1")

	var buf bytes.Buffer
	l := Setup("error", &buf)
	l.Debug("visible")

	assert.Contains(t, buf.String(), "visible")
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))
	d := Discard()
	assert.Same(t, d, OrDefault(d))
}
