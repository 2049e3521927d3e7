package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string
	Router        RouterConfig
	Providers     ProvidersConfig
	Security      SecurityConfig
	History       HistoryConfig
	Diagnostics   DiagnosticsConfig
	Observability ObservabilityConfig
}

// RouterConfig holds request routing configuration
type RouterConfig struct {
	MaxConcurrent  int           `validate:"gte=1"`
	DefaultTimeout time.Duration `validate:"gt=0"`
	DrainTimeout   time.Duration `validate:"gt=0"`
	MaxInputChars  int           `validate:"gte=1"`
	FallbackChain  []string      `validate:"min=1,dive,oneof=ollama lm-studio openai"`
}

// BackendConfig holds one provider backend's configuration
type BackendConfig struct {
	Enabled    bool
	Endpoint   string `validate:"omitempty,url"`
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// ProvidersConfig holds all provider backend configurations
type ProvidersConfig struct {
	Ollama   BackendConfig
	LMStudio BackendConfig
	OpenAI   BackendConfig
}

// SecurityConfig holds input screening configuration
type SecurityConfig struct {
	MaxPromptChars int `validate:"gte=1"`
	BlockInjection bool
	BlockSecrets   bool
}

// HistoryConfig holds attempt persistence configuration
type HistoryConfig struct {
	Enabled bool
	Path    string
}

// DiagnosticsConfig holds the local diagnostics HTTP server configuration
type DiagnosticsConfig struct {
	Addr string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env if present; real environment variables win.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Router: RouterConfig{
			MaxConcurrent:  getEnvAsInt("MAX_CONCURRENT_REQUESTS", 3),
			DefaultTimeout: getEnvAsDuration("DEFAULT_TIMEOUT", 30*time.Second),
			DrainTimeout:   getEnvAsDuration("DRAIN_TIMEOUT", 10*time.Second),
			MaxInputChars:  getEnvAsInt("MAX_INPUT_CHARS", 100000),
			FallbackChain:  getEnvAsSlice("FALLBACK_CHAIN", []string{"ollama", "lm-studio", "openai"}),
		},
		Providers: ProvidersConfig{
			Ollama: BackendConfig{
				Enabled:  getEnvAsBool("OLLAMA_ENABLED", true),
				Endpoint: getEnv("OLLAMA_ENDPOINT", ""),
				Model:    getEnv("OLLAMA_MODEL", ""),
				Timeout:  getEnvAsDuration("OLLAMA_TIMEOUT", 0),
			},
			LMStudio: BackendConfig{
				Enabled:  getEnvAsBool("LMSTUDIO_ENABLED", true),
				Endpoint: getEnv("LMSTUDIO_ENDPOINT", ""),
				Model:    getEnv("LMSTUDIO_MODEL", ""),
				Timeout:  getEnvAsDuration("LMSTUDIO_TIMEOUT", 0),
			},
			OpenAI: BackendConfig{
				Enabled:    getEnvAsBool("OPENAI_ENABLED", os.Getenv("OPENAI_API_KEY") != ""),
				Endpoint:   getEnv("OPENAI_ENDPOINT", ""),
				APIKey:     getEnv("OPENAI_API_KEY", ""),
				Model:      getEnv("OPENAI_MODEL", ""),
				Timeout:    getEnvAsDuration("OPENAI_TIMEOUT", 0),
				MaxRetries: getEnvAsInt("OPENAI_MAX_RETRIES", 2),
			},
		},
		Security: SecurityConfig{
			MaxPromptChars: getEnvAsInt("MAX_INPUT_CHARS", 100000),
			BlockInjection: getEnvAsBool("BLOCK_INJECTION", true),
			BlockSecrets:   getEnvAsBool("BLOCK_SECRETS", true),
		},
		History: HistoryConfig{
			Enabled: getEnvAsBool("HISTORY_ENABLED", true),
			Path:    getEnv("HISTORY_PATH", "codeforge.db"),
		},
		Diagnostics: DiagnosticsConfig{
			Addr: getEnv("DIAG_ADDR", "127.0.0.1:8400"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "console"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints and cross-field requirements
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if !c.Providers.Ollama.Enabled && !c.Providers.LMStudio.Enabled && !c.Providers.OpenAI.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when the openai provider is enabled")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("HISTORY_PATH is required when history is enabled")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
