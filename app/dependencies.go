package app

import (
	"context"
	"fmt"

	"github.com/codeforge-dev/codeforge/config"
	"github.com/codeforge-dev/codeforge/services/history"
	"github.com/codeforge-dev/codeforge/services/providers"
	"github.com/codeforge-dev/codeforge/services/providers/lmstudio"
	"github.com/codeforge-dev/codeforge/services/providers/ollama"
	"github.com/codeforge-dev/codeforge/services/providers/openai"
	"github.com/codeforge-dev/codeforge/services/router"
	"github.com/codeforge-dev/codeforge/services/security"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies. This is the central wiring
// point for dependency injection.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *providers.Registry
	Router   *router.Router
	History  *history.Store
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initRegistry(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	deps.initRouter(cfg)
	deps.initHistory(cfg)

	logger.Info("all dependencies initialized")
	return deps, nil
}

// builders maps each provider type to its adapter constructor.
func builders() map[providers.Type]providers.Builder {
	return map[providers.Type]providers.Builder{
		providers.TypeOllama:   ollama.New,
		providers.TypeLMStudio: lmstudio.New,
		providers.TypeOpenAI:   openai.New,
	}
}

func (d *Dependencies) initRegistry(cfg *config.Config) error {
	d.Registry = providers.NewRegistry(d.Logger)
	return d.Registry.Initialize(providerConfigs(cfg), builders())
}

func (d *Dependencies) initRouter(cfg *config.Config) {
	gate := security.NewGate(security.Config{
		MaxPromptChars: cfg.Security.MaxPromptChars,
		MinPromptChars: 1,
		BlockInjection: cfg.Security.BlockInjection,
		BlockSecrets:   cfg.Security.BlockSecrets,
	}, d.Logger)

	d.Router = router.New(router.Config{
		MaxConcurrent:  cfg.Router.MaxConcurrent,
		DefaultTimeout: cfg.Router.DefaultTimeout,
		DrainTimeout:   cfg.Router.DrainTimeout,
		MaxInputChars:  cfg.Router.MaxInputChars,
		FallbackChain:  fallbackChain(cfg.Router.FallbackChain),
	}, d.Registry, gate, d.Logger)
}

// initHistory opens the attempt store and subscribes it to router events.
// Persistence is best-effort: a failed open degrades to in-memory only.
func (d *Dependencies) initHistory(cfg *config.Config) {
	if !cfg.History.Enabled {
		return
	}

	store, err := history.Open(cfg.History.Path, d.Logger)
	if err != nil {
		d.Logger.Warn("history persistence disabled",
			zap.String("path", cfg.History.Path),
			zap.Error(err))
		return
	}

	d.History = store
	d.Router.Subscribe(store.HandleEvent)
	d.Logger.Info("history persistence enabled", zap.String("path", cfg.History.Path))
}

// Close drains the router and releases held resources.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs error

	if d.Router != nil {
		d.Router.Shutdown(ctx)
	}
	if d.History != nil {
		errs = multierr.Append(errs, d.History.Close())
	}
	return errs
}

// providerConfigs converts the enabled backends into registry configs, in
// fallback-chain order so registration order matches routing order.
func providerConfigs(cfg *config.Config) []providers.Config {
	byType := map[providers.Type]*config.BackendConfig{
		providers.TypeOllama:   &cfg.Providers.Ollama,
		providers.TypeLMStudio: &cfg.Providers.LMStudio,
		providers.TypeOpenAI:   &cfg.Providers.OpenAI,
	}

	var out []providers.Config
	for _, t := range fallbackChain(cfg.Router.FallbackChain) {
		bc, ok := byType[t]
		if !ok || !bc.Enabled {
			continue
		}
		out = append(out, providers.Config{
			Type:       t,
			Endpoint:   bc.Endpoint,
			APIKey:     bc.APIKey,
			Model:      bc.Model,
			Timeout:    bc.Timeout,
			MaxRetries: bc.MaxRetries,
		})
	}
	return out
}

// fallbackChain parses the configured chain, dropping unknown names. Config
// validation already rejects them, so drops here only happen with a
// hand-built Config.
func fallbackChain(names []string) []providers.Type {
	out := make([]providers.Type, 0, len(names))
	for _, name := range names {
		t, err := providers.ParseType(name)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
