package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNoProviders is returned when initialization leaves the registry empty.
var ErrNoProviders = errors.New("no providers initialized")

// Builder constructs a provider adapter from its configuration.
type Builder func(cfg Config, logger *zap.Logger) (Provider, error)

// Registry owns the live provider adapters for the process. It is populated
// once at startup and read by the executor afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[Type]Provider
	order     []Type
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		providers: make(map[Type]Provider),
		logger:    logger,
	}
}

// Initialize builds one adapter per configuration entry through the Builder
// map. A single failing entry is logged and excluded; initialization fails
// only when zero providers come up.
func (r *Registry) Initialize(configs []Config, builders map[Type]Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range configs {
		build, ok := builders[cfg.Type]
		if !ok {
			r.logger.Warn("no builder registered for provider type, skipping",
				zap.String("provider", string(cfg.Type)))
			continue
		}
		if _, dup := r.providers[cfg.Type]; dup {
			r.logger.Warn("duplicate provider configuration ignored",
				zap.String("provider", string(cfg.Type)))
			continue
		}

		p, err := build(cfg, r.logger)
		if err != nil {
			r.logger.Error("provider failed to initialize, excluding",
				zap.String("provider", string(cfg.Type)),
				zap.Error(err))
			continue
		}

		r.providers[cfg.Type] = p
		r.order = append(r.order, cfg.Type)
		r.logger.Info("provider initialized",
			zap.String("provider", string(cfg.Type)),
			zap.String("model", p.ModelName()))
	}

	if len(r.providers) == 0 {
		return ErrNoProviders
	}
	return nil
}

// Get retrieves a provider by type.
func (r *Registry) Get(t Type) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[t]
	return p, ok
}

// Types returns the registered provider types in initialization order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Type, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers)
}

// HealthCheck probes every provider independently. Probe errors are folded
// into false, never returned.
func (r *Registry) HealthCheck(ctx context.Context) map[Type]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Type]bool, len(r.providers))
	for t, p := range r.providers {
		err := p.HealthCheck(ctx)
		if err != nil {
			r.logger.Warn("health probe failed",
				zap.String("provider", string(t)),
				zap.Error(err))
		}
		out[t] = err == nil
	}
	return out
}

// Shutdown closes every provider best-effort. Close failures are collected
// into a single log line and never propagated.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for t, p := range r.providers {
		if err := p.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	if errs != nil {
		r.logger.Warn("provider shutdown reported errors", zap.Error(errs))
	}

	r.providers = make(map[Type]Provider)
	r.order = nil
}
