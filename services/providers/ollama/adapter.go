package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeforge-dev/codeforge/services/providers"
	"go.uber.org/zap"
)

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "qwen2.5-coder:7b"
	defaultTimeout  = 120 * time.Second
)

// Adapter talks to a local Ollama server through its generate API.
type Adapter struct {
	cfg        providers.Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New is the registry builder for the ollama provider type.
func New(cfg providers.Config, logger *zap.Logger) (providers.Provider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Type returns the provider type.
func (a *Adapter) Type() providers.Type {
	return providers.TypeOllama
}

// ModelName returns the configured model.
func (a *Adapter) ModelName() string {
	return a.cfg.Model
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate performs a single non-streaming completion.
func (a *Adapter) Generate(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext) (*providers.Response, error) {
	body, err := json.Marshal(generateRequest{
		Model:  a.cfg.Model,
		Prompt: buildPrompt(req, pctx),
		Stream: false,
	})
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "REQUEST_ERROR", "failed to build request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "HTTP_ERROR", "request failed", 0, true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "READ_ERROR", "failed to read response", resp.StatusCode, true, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.errorFromStatus(resp.StatusCode, respBody)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, providers.NewRequestError(a.Type(), "UNMARSHAL_ERROR", "failed to decode response", resp.StatusCode, false, err)
	}

	result := &providers.Response{
		Content: out.Response,
		Model:   out.Model,
	}
	if total := out.PromptEvalCount + out.EvalCount; total > 0 {
		result.Usage = &providers.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      total,
		}
	}
	return result, nil
}

// HealthCheck probes the local tags endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health probe returned %d", resp.StatusCode)
	}
	return nil
}

// Shutdown releases idle connections.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) errorFromStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
		return &providers.ValidationError{Reason: msg}
	case status >= 500 || status == http.StatusTooManyRequests:
		return providers.NewRequestError(a.Type(), "BACKEND_ERROR", msg, status, true, nil)
	default:
		return providers.NewRequestError(a.Type(), "BACKEND_ERROR", msg, status, false, nil)
	}
}

// buildPrompt prefixes the prompt with a compact project-context header when
// context is attached.
func buildPrompt(req *providers.Request, pctx *providers.ProjectContext) string {
	if pctx == nil || len(pctx.Files) == 0 {
		return req.Prompt
	}

	var b strings.Builder
	b.WriteString("Project files:\n")
	for _, f := range pctx.Files {
		b.WriteString("  ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(req.Prompt)
	return b.String()
}
