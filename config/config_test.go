package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 3, cfg.Router.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Router.DefaultTimeout)
	assert.Equal(t, 10*time.Second, cfg.Router.DrainTimeout)
	assert.Equal(t, 100000, cfg.Router.MaxInputChars)
	assert.Equal(t, []string{"ollama", "lm-studio", "openai"}, cfg.Router.FallbackChain)
	assert.True(t, cfg.Providers.Ollama.Enabled)
	assert.True(t, cfg.Providers.LMStudio.Enabled)
	assert.False(t, cfg.Providers.OpenAI.Enabled)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "codeforge.db", cfg.History.Path)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestNewEnvironmentOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_REQUESTS", "8")
	t.Setenv("DEFAULT_TIMEOUT", "45s")
	t.Setenv("DRAIN_TIMEOUT", "2s")
	t.Setenv("FALLBACK_CHAIN", "openai, ollama")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_MODEL", "codellama:13b")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Router.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Router.DefaultTimeout)
	assert.Equal(t, 2*time.Second, cfg.Router.DrainTimeout)
	assert.Equal(t, []string{"openai", "ollama"}, cfg.Router.FallbackChain)
	assert.True(t, cfg.Providers.OpenAI.Enabled)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "codellama:13b", cfg.Providers.Ollama.Model)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestNewInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_REQUESTS", "not-a-number")
	t.Setenv("DEFAULT_TIMEOUT", "soon")
	t.Setenv("OLLAMA_ENABLED", "maybe")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Router.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Router.DefaultTimeout)
	assert.True(t, cfg.Providers.Ollama.Enabled)
}

func TestValidateRejectsUnknownChainEntry(t *testing.T) {
	t.Setenv("FALLBACK_CHAIN", "ollama,anthropic")

	_, err := New()
	assert.Error(t, err)
}

func TestValidateRejectsNoEnabledProviders(t *testing.T) {
	t.Setenv("OLLAMA_ENABLED", "false")
	t.Setenv("LMSTUDIO_ENABLED", "false")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider")
}

func TestValidateRequiresKeyForEnabledOpenAI(t *testing.T) {
	t.Setenv("OPENAI_ENABLED", "true")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := New()
	assert.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	cfg, err := New()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
