package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		logged   []string
		dropped  []string
	}{
		{level: "trace", expected: zerolog.TraceLevel, logged: []string{"trace message", "debug message", "info message"}},
		{level: "debug", expected: zerolog.DebugLevel, logged: []string{"debug message", "info message"}, dropped: []string{"trace message"}},
		{level: "info", expected: zerolog.InfoLevel, logged: []string{"info message"}, dropped: []string{"trace message", "debug message"}},
		{level: "warn", expected: zerolog.WarnLevel, logged: []string{"warn message"}, dropped: []string{"info message"}},
		{level: "error", expected: zerolog.ErrorLevel, dropped: []string{"warn message"}},
		{level: "invalid", expected: zerolog.InfoLevel, logged: []string{"info message"}, dropped: []string{"debug message"}},
		{level: "", expected: zerolog.InfoLevel, logged: []string{"info message"}, dropped: []string{"debug message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})
			assert.Equal(t, tt.expected, logger.GetLevel())

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")

			for _, msg := range tt.logged {
				assert.Contains(t, buf.String(), msg)
			}
			for _, msg := range tt.dropped {
				assert.NotContains(t, buf.String(), msg)
			}
		})
	}
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})

	logger.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.NotContains(t, buf.String(), `"message"`)
	assert.NotContains(t, buf.String(), "\x1b[", "buffers are not terminals")
}

func TestIsTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))

	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.False(t, IsTerminal(f))
}

func TestNew_DefaultOutput(t *testing.T) {
	logger := New(Config{Level: "info"})
	assert.NotPanics(t, func() { logger.Info().Msg("test message") })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Pretty)
	assert.NotNil(t, cfg.Output)
}
