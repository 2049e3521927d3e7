package providers

import (
	"context"
	"fmt"
	"time"
)

// Type identifies one of the supported LLM backends. The set is closed:
// adapters are built through an explicit Builder map keyed by Type, never by
// instantiating from configuration strings.
type Type string

const (
	TypeOllama   Type = "ollama"
	TypeLMStudio Type = "lm-studio"
	TypeOpenAI   Type = "openai"
)

// ParseType validates a configured provider type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeOllama, TypeLMStudio, TypeOpenAI:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown provider type %q", s)
}

// Provider is the unified adapter contract every backend implements.
type Provider interface {
	// Type returns the backend's closed-enum identifier.
	Type() Type

	// ModelName returns the model this adapter is configured to serve.
	ModelName() string

	// Generate performs a single generation request. Implementations must
	// honor ctx cancellation and deadlines.
	Generate(ctx context.Context, req *Request, pctx *ProjectContext) (*Response, error)

	// HealthCheck probes the backend; any error means unhealthy.
	HealthCheck(ctx context.Context) error

	// Shutdown releases the adapter's resources best-effort.
	Shutdown(ctx context.Context) error
}

// Config describes a single backend. Immutable after registry initialization.
type Config struct {
	Type       Type
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Request is one generation request. Created per call, discarded after
// completion.
type Request struct {
	// ID is unique for the process lifetime.
	ID string

	Prompt string

	// MaxInputChars is the input-length bound the request was admitted under.
	MaxInputChars int
}

// ProjectContext is the optional workspace context attached to a request.
type ProjectContext struct {
	Files      []string
	TotalBytes int64
}

// Response is the unified generation result.
type Response struct {
	Content string
	Model   string

	// Usage is nil when the backend did not report token counts.
	Usage *Usage
}

// Usage holds token accounting as reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
