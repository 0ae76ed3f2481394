package pkg

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	for _, level := range []slog.Level{LevelTrace, slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		t.Run(level.String(), func(t *testing.T) {
			SetLogLevel(level)
			assert.Equal(t, level, GetLogLevel())
		})
	}
}

func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := Logger()
	t.Cleanup(func() { SetLogger(original) })
	SetLogger(NewLogger(&buf, &slog.HandlerOptions{Level: level}))
	return &buf
}

func TestLogComponents(t *testing.T) {
	buf := captureLogs(t, LevelTrace)

	LogTrace(ComponentChannel, "trace message", "channel", 0)
	LogDebug(ComponentEnum, "debug message", "state", "Idle")
	LogInfo(ComponentHost, "info message")
	LogWarn(ComponentControl, "warn message")
	LogError(ComponentHAL, "error message")

	out := buf.String()
	assert.Contains(t, out, "trace message")
	assert.Contains(t, out, "component=channel")
	assert.Contains(t, out, "component=enum")
	assert.Contains(t, out, "state=Idle")
	assert.Contains(t, out, "component=host")
	assert.Contains(t, out, "component=control")
	assert.Contains(t, out, "error message")
}

func TestLogFilteredByLevel(t *testing.T) {
	buf := captureLogs(t, slog.LevelWarn)

	LogDebug(ComponentEnum, "hidden")
	LogWarn(ComponentEnum, "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetLoggerNil(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	SetLogger(nil)
	require.NotNil(t, Logger())
	LogError(ComponentSim, "discarded")
}
