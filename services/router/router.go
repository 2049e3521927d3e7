package router

import (
	"context"
	"fmt"
	"time"

	"github.com/codeforge-dev/codeforge/services/monitor"
	"github.com/codeforge-dev/codeforge/services/providers"
	"github.com/codeforge-dev/codeforge/services/queue"
	"github.com/codeforge-dev/codeforge/services/routing"
	"github.com/codeforge-dev/codeforge/services/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the router's static settings.
type Config struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration
	DrainTimeout   time.Duration
	MaxInputChars  int
	FallbackChain  []providers.Type
}

// DefaultConfig returns sensible defaults for a local setup.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  3,
		DefaultTimeout: 30 * time.Second,
		DrainTimeout:   10 * time.Second,
		MaxInputChars:  100000,
		FallbackChain:  []providers.Type{providers.TypeOllama, providers.TypeLMStudio, providers.TypeOpenAI},
	}
}

// Summary is the diagnostic snapshot exposed to callers.
type Summary struct {
	Providers      map[providers.Type]monitor.ProviderStats `json:"providers"`
	ActiveRequests int                                      `json:"active_requests"`
	QueueDepth     int                                      `json:"queue_depth"`
}

// Router is the public orchestration surface: it gates input, resolves an
// execution strategy from rolling stats, and hands the request to the
// fallback executor, either directly or through admission control.
type Router struct {
	cfg      Config
	registry *providers.Registry
	gate     *security.Gate
	selector *routing.Selector
	executor *routing.Executor
	monitor  *monitor.Monitor
	queue    *queue.Queue
	notifier *routing.Notifier
	logger   *zap.Logger
}

// New wires the orchestration layer over an already-initialized registry.
func New(cfg Config, registry *providers.Registry, gate *security.Gate, logger *zap.Logger) *Router {
	mon := monitor.New(logger)
	notifier := routing.NewNotifier()
	selector := routing.NewSelector(routing.SelectorConfig{
		DefaultTimeout: cfg.DefaultTimeout,
		FallbackChain:  cfg.FallbackChain,
	}, logger)
	executor := routing.NewExecutor(registry, mon, notifier, cfg.FallbackChain, logger)

	r := &Router{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		selector: selector,
		executor: executor,
		monitor:  mon,
		notifier: notifier,
		logger:   logger,
	}
	r.queue = queue.New(cfg.MaxConcurrent, r.dispatch, logger)
	return r
}

// ProcessRequest runs the full pipeline without admission control. Only
// validation errors and chain exhaustion reach the caller; individual
// attempt failures are visible through events and metrics.
func (r *Router) ProcessRequest(ctx context.Context, prompt string, pctx *providers.ProjectContext, mode routing.Mode) (*providers.Response, error) {
	req, strat, err := r.prepare(prompt, pctx, mode)
	if err != nil {
		return nil, err
	}
	return r.executor.Execute(ctx, req, pctx, strat)
}

// QueueRequest is the admission-controlled variant: at capacity the request
// waits in FIFO order for a slot.
func (r *Router) QueueRequest(ctx context.Context, prompt string, pctx *providers.ProjectContext, mode routing.Mode) (*providers.Response, error) {
	req, strat, err := r.prepare(prompt, pctx, mode)
	if err != nil {
		return nil, err
	}
	return r.queue.Enqueue(ctx, req, pctx, strat)
}

// HealthCheck probes every registered provider.
func (r *Router) HealthCheck(ctx context.Context) map[providers.Type]bool {
	return r.registry.HealthCheck(ctx)
}

// GetMetrics returns the diagnostic snapshot.
func (r *Router) GetMetrics() Summary {
	return Summary{
		Providers:      r.monitor.Snapshot(),
		ActiveRequests: r.monitor.ActiveCount(),
		QueueDepth:     r.queue.Depth(),
	}
}

// Subscribe registers a lifecycle event listener on this router instance.
func (r *Router) Subscribe(fn func(routing.Event)) {
	r.notifier.Subscribe(fn)
}

// Shutdown waits up to the drain window for in-flight work to finish, then
// closes every provider. Expiry does not cancel stragglers; their attempts
// simply no longer have a backend to return to.
func (r *Router) Shutdown(ctx context.Context) {
	deadline := time.NewTimer(r.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

drain:
	for r.monitor.ActiveCount() > 0 || r.queue.InFlight() > 0 {
		select {
		case <-deadline.C:
			r.logger.Warn("drain window expired with requests outstanding",
				zap.Int("active", r.monitor.ActiveCount()),
				zap.Int("queued", r.queue.Depth()))
			break drain
		case <-ctx.Done():
			break drain
		case <-tick.C:
		}
	}

	r.registry.Shutdown(ctx)
	r.logger.Info("router shut down")
}

// dispatch adapts the executor to the queue's dispatch contract.
func (r *Router) dispatch(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
	return r.executor.Execute(ctx, req, pctx, strat)
}

// prepare gates the input, mints the request and resolves its strategy from
// the current stats snapshot.
func (r *Router) prepare(prompt string, pctx *providers.ProjectContext, mode routing.Mode) (*providers.Request, routing.Strategy, error) {
	if err := r.gate.Validate(prompt); err != nil {
		return nil, routing.Strategy{}, err
	}
	if r.cfg.MaxInputChars > 0 && len(prompt) > r.cfg.MaxInputChars {
		return nil, routing.Strategy{}, &providers.ValidationError{
			Reason: fmt.Sprintf("prompt exceeds input limit of %d characters", r.cfg.MaxInputChars),
		}
	}

	req := &providers.Request{
		ID:            uuid.NewString(),
		Prompt:        prompt,
		MaxInputChars: r.cfg.MaxInputChars,
	}
	strat := r.selector.Select(req, pctx, mode, r.monitor.Snapshot())

	r.logger.Info("request prepared",
		zap.String("request_id", req.ID),
		zap.String("mode", string(strat.Mode)),
		zap.String("provider", string(strat.Provider)),
		zap.Duration("timeout", strat.Timeout))

	return req, strat, nil
}
