package lmstudio

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
	defaultEndpoint = "http://localhost:1234/v1"
	defaultModel    = "local-model"
	defaultTimeout  = 120 * time.Second
)

// Adapter talks to LM Studio's OpenAI-compatible local server.
type Adapter struct {
	cfg        providers.Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New is the registry builder for the lm-studio provider type.
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
	return providers.TypeLMStudio
}

// ModelName returns the configured model.
func (a *Adapter) ModelName() string {
	return a.cfg.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs a single chat completion against the local server.
func (a *Adapter) Generate(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext) (*providers.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if pctx != nil && len(pctx.Files) > 0 {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: "Project files:\n  " + strings.Join(pctx.Files, "\n  "),
		})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:    a.cfg.Model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
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

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, providers.NewRequestError(a.Type(), "UNMARSHAL_ERROR", "failed to decode response", resp.StatusCode, false, err)
	}
	if len(out.Choices) == 0 {
		return nil, providers.NewRequestError(a.Type(), "EMPTY_RESPONSE", "response contained no choices", resp.StatusCode, false, nil)
	}

	result := &providers.Response{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
	}
	if out.Usage.TotalTokens > 0 {
		result.Usage = &providers.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	return result, nil
}

// HealthCheck probes the models listing endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/models", nil)
	if err != nil {
		return err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lm studio health probe returned %d", resp.StatusCode)
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
