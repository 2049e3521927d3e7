package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeforge-dev/codeforge/services/providers"
	"go.uber.org/zap"
)

const (
	defaultEndpoint   = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
)

// Adapter talks to the OpenAI API with bearer authentication and bounded
// retries on transient failures.
type Adapter struct {
	cfg        providers.Config
	httpClient *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

// New is the registry builder for the openai provider type. A missing API key
// is a construction error, not a per-request one.
func New(cfg providers.Config, logger *zap.Logger) (providers.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryDelay: time.Second,
		logger:     logger,
	}, nil
}

// Type returns the provider type.
func (a *Adapter) Type() providers.Type {
	return providers.TypeOpenAI
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

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate performs a chat completion, retrying retryable failures up to
// MaxRetries times with linear backoff.
func (a *Adapter) Generate(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext) (*providers.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if pctx != nil && len(pctx.Files) > 0 {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: "Project files:\n  " + strings.Join(pctx.Files, "\n  "),
		})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{Model: a.cfg.Model, Messages: messages})
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			a.logger.Debug("retrying openai request",
				zap.String("request_id", req.ID),
				zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * a.retryDelay):
			}
		}

		resp, err := a.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !providers.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// do issues one HTTP round trip. The request is rebuilt per call because the
// body reader is consumed by each attempt.
func (a *Adapter) do(ctx context.Context, body []byte) (*providers.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewRequestError(a.Type(), "REQUEST_ERROR", "failed to build request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

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

// HealthCheck probes the models endpoint with the configured credentials.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providers.NewRequestError(a.Type(), "HEALTH_ERROR", http.StatusText(resp.StatusCode), resp.StatusCode, false, nil)
	}
	return nil
}

// Shutdown releases idle connections.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) errorFromStatus(status int, body []byte) error {
	msg := http.StatusText(status)
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &providers.ValidationError{Reason: msg}
	case status >= 500 || status == http.StatusTooManyRequests:
		return providers.NewRequestError(a.Type(), "API_ERROR", msg, status, true, nil)
	default:
		// 401/403 and friends: retrying with the same key cannot help.
		return providers.NewRequestError(a.Type(), "API_ERROR", msg, status, false, nil)
	}
}
