package main

import (
	"testing"

	"github.com/codeforge-dev/codeforge/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerHonorsConfiguredLevel(t *testing.T) {
	l, err := newLogger(config.ObservabilityConfig{LogLevel: "warn", LogFormat: "json"}, false)
	require.NoError(t, err)
	defer func() { _ = l.Sync() }()

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLoggerVerboseForcesDebug(t *testing.T) {
	l, err := newLogger(config.ObservabilityConfig{LogLevel: "error", LogFormat: "console"}, true)
	require.NoError(t, err)
	defer func() { _ = l.Sync() }()

	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(config.ObservabilityConfig{LogLevel: "loud", LogFormat: "json"}, false)
	assert.Error(t, err)
}
