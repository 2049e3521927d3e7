package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/codeforge-dev/codeforge/services/history"
	"github.com/codeforge-dev/codeforge/services/providers"
	"github.com/codeforge-dev/codeforge/services/router"
	"github.com/codeforge-dev/codeforge/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp string                  `json:"timestamp"`
	Providers map[providers.Type]bool `json:"providers"`
}

// DiagHandler serves the local diagnostics endpoints.
type DiagHandler struct {
	router  *router.Router
	history *history.Store
	logger  *zap.Logger
}

// NewDiagHandler creates a new DiagHandler. history may be nil when
// persistence is disabled.
func NewDiagHandler(rt *router.Router, store *history.Store, logger *zap.Logger) *DiagHandler {
	return &DiagHandler{
		router:  rt,
		history: store,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Probes every registered provider; degraded when any probe fails.
func (h *DiagHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := h.router.HealthCheck(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	for _, ok := range results {
		if !ok {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Providers: results,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleMetrics handles GET /metrics
func (h *DiagHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.router.GetMetrics())
}

// HandleHistory handles GET /history?limit=N
func (h *DiagHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		_ = utils.WriteNotFound(w, "history persistence is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read history", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteOK(w, entries)
}
