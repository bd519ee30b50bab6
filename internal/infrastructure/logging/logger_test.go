package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"", zapcore.InfoLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "nope"})
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	var nilLogger *Logger
	assert.NotNil(t, nilLogger.Component("x"))
	assert.NotNil(t, NewNop().Component("jsonrpc"))
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name  string
		level string
		dev   bool
		want  Config
	}{
		{"production default", "info", false, Config{Level: "info"}},
		{"production explicit", "warn", false, Config{Level: "warn"}},
		{"development forces debug", "info", true, Config{Level: "debug", Development: true}},
		{"development explicit", "error", true, Config{Level: "error", Development: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromConfig(tt.level, tt.dev))
		})
	}
}

func TestSetLevelReachesComponents(t *testing.T) {
	logger, err := New(Config{Level: "info"})
	require.NoError(t, err)
	child := logger.Component("supervisor")
	assert.False(t, child.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, "debug", logger.Level())
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, logger.SetLevel("loud"))
	assert.Equal(t, "debug", logger.Level())
}

func TestEncodingFormat(t *testing.T) {
	assert.Equal(t, "console", encodingFormat(true))
	assert.Equal(t, "json", encodingFormat(false))
}
