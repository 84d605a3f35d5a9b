package logger

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestEnvLogger_Debug(t *testing.T) {
	tests := []struct {
		name      string
		envValue  string
		expectLog bool
	}{
		{
			name:      "logs when CSCS_KEYGEN_DEBUG is set",
			envValue:  "1",
			expectLog: true,
		},
		{
			name:      "does not log when CSCS_KEYGEN_DEBUG is empty",
			envValue:  "",
			expectLog: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			t.Setenv(DebugEnv, tt.envValue)
			t.Setenv(LevelEnv, "")

			l := NewEnvLogger("[test]")
			l.Debug("test message %s", "arg")

			if tt.expectLog {
				assert.Contains(t, buf.String(), "[test] DEBUG: test message arg")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestEnvLogger_DefaultLevelIsWarn(t *testing.T) {
	buf := captureLog(t)
	t.Setenv(DebugEnv, "")
	t.Setenv(LevelEnv, "")

	l := NewEnvLogger("[lvl]")
	l.Info("hidden")
	l.Warn("shown %d", 1)
	l.Error("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[lvl] WARN: shown 1")
	assert.Contains(t, out, "[lvl] ERROR: also shown")
}

func TestEnvLogger_LevelFromEnv(t *testing.T) {
	buf := captureLog(t)
	t.Setenv(DebugEnv, "")
	t.Setenv(LevelEnv, "INFO")

	l := NewEnvLogger("")
	l.Info("info message %d", 42)
	l.Debug("debug message")

	assert.Contains(t, buf.String(), "info message 42")
	assert.NotContains(t, buf.String(), "debug message")
}

func TestLevelLogger_ErrorOnly(t *testing.T) {
	buf := captureLog(t)
	t.Setenv(DebugEnv, "")

	l := NewLevelLogger("[q]", LevelError)
	l.Warn("warn")
	l.Info("info")
	l.Error("boom")

	assert.NotContains(t, buf.String(), "warn")
	assert.Contains(t, buf.String(), "[q] ERROR: boom")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLevel(" Info "))
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(""))
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, LevelError, LevelFromVerbosity(LevelWarn, -1))
	assert.Equal(t, LevelWarn, LevelFromVerbosity(LevelWarn, 0))
	assert.Equal(t, LevelInfo, LevelFromVerbosity(LevelWarn, 1))
	assert.Equal(t, LevelDebug, LevelFromVerbosity(LevelWarn, 2))
	assert.Equal(t, LevelDebug, LevelFromVerbosity(LevelWarn, 5))
}

func TestNoopLogger(t *testing.T) {
	buf := captureLog(t)

	l := Noop()
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	assert.Empty(t, buf.String(), "noop logger should not produce any output")
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()

	l.Debug("debug %s", "msg")
	l.Info("info %s", "msg")
	l.Warn("warn %s", "msg")
	l.Error("error %s", "msg")

	require.Len(t, l.Messages, 4)
	assert.Equal(t, LogMessage{Level: "debug", Message: "debug msg"}, l.Messages[0])
	assert.Equal(t, LogMessage{Level: "info", Message: "info msg"}, l.Messages[1])
	assert.Equal(t, LogMessage{Level: "warn", Message: "warn msg"}, l.Messages[2])
	assert.Equal(t, LogMessage{Level: "error", Message: "error msg"}, l.Messages[3])

	assert.True(t, l.HasLevel("warn"))
	assert.True(t, l.Contains("info m"))
	assert.False(t, l.Contains("nope"))

	l.Clear()
	assert.Empty(t, l.Messages)
	assert.False(t, l.HasLevel("warn"))
}

func TestDefault(t *testing.T) {
	original := defaultLogger
	defer func() { defaultLogger = original }()

	assert.NotNil(t, Default())

	buf := NewBufferLogger()
	SetDefault(buf)

	assert.Equal(t, buf, Default())
}
