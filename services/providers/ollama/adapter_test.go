package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codeforge-dev/codeforge/services/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) providers.Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(providers.Config{Type: providers.TypeOllama, Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewDefaults(t *testing.T) {
	p, err := New(providers.Config{Type: providers.TypeOllama}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, providers.TypeOllama, p.Type())
	assert.Equal(t, "qwen2.5-coder:7b", p.ModelName())
}

func TestGenerateSuccess(t *testing.T) {
	p := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5-coder:7b", req.Model)
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:           "qwen2.5-coder:7b",
			Response:        "package main",
			PromptEvalCount: 12,
			EvalCount:       30,
		})
	})

	resp, err := p.Generate(context.Background(), &providers.Request{ID: "r1", Prompt: "write a main"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "package main", resp.Content)
	assert.Equal(t, "qwen2.5-coder:7b", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 30, resp.Usage.CompletionTokens)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestGenerateIncludesProjectContext(t *testing.T) {
	var captured generateRequest
	p := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "ok"})
	})

	pctx := &providers.ProjectContext{Files: []string{"main.go", "config.go"}}
	_, err := p.Generate(context.Background(), &providers.Request{ID: "r1", Prompt: "refactor"}, pctx)
	require.NoError(t, err)

	assert.Contains(t, captured.Prompt, "main.go")
	assert.Contains(t, captured.Prompt, "config.go")
	assert.Contains(t, captured.Prompt, "refactor")
}

func TestGenerateNoUsageWhenUnreported(t *testing.T) {
	p := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "ok"})
	})

	resp, err := p.Generate(context.Background(), &providers.Request{ID: "r1", Prompt: "hi"}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Usage)
}

func TestGenerateErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		validation bool
		retryable  bool
	}{
		{name: "bad request is validation", status: http.StatusBadRequest, validation: true},
		{name: "payload too large is validation", status: http.StatusRequestEntityTooLarge, validation: true},
		{name: "server error is retryable", status: http.StatusInternalServerError, retryable: true},
		{name: "too many requests is retryable", status: http.StatusTooManyRequests, retryable: true},
		{name: "not found is terminal", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model error", tt.status)
			})

			_, err := p.Generate(context.Background(), &providers.Request{ID: "r1", Prompt: "hi"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.validation, providers.IsValidation(err))
			assert.Equal(t, tt.retryable, providers.IsRetryable(err))
		})
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	p, err := New(providers.Config{Type: providers.TypeOllama, Endpoint: "http://127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), &providers.Request{ID: "r1", Prompt: "hi"}, nil)
	require.Error(t, err)
	assert.True(t, providers.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	p := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestHealthCheckFailure(t *testing.T) {
	p := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Error(t, p.HealthCheck(context.Background()))
}
