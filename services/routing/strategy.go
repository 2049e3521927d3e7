package routing

import (
	"fmt"
	"time"

	"github.com/codeforge-dev/codeforge/services/monitor"
	"github.com/codeforge-dev/codeforge/services/providers"
	"go.uber.org/zap"
)

// Mode governs provider choice and the timeout budget for one request.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeFast     Mode = "fast"
	ModeBalanced Mode = "balanced"
	ModeThorough Mode = "thorough"
)

// ParseMode validates a user-supplied mode string. Empty resolves to auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeFast, ModeBalanced, ModeThorough:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

const (
	fastPromptLimit     = 500
	thoroughPromptLimit = 5000
	thoroughFileLimit   = 10

	fastTimeoutCap       = 10 * time.Second
	thoroughTimeoutFloor = 60 * time.Second

	// balancedLatencyScale normalizes latency in the balanced score.
	// Providers averaging above it contribute a negative term; the score is
	// deliberately not clamped at zero.
	balancedLatencyScale = 30 * time.Second
)

// Strategy is the resolved execution plan for one request. Derived value,
// never persisted.
type Strategy struct {
	Mode     Mode
	Provider providers.Type

	// HasProvider is false when selection left the provider unresolved and
	// the executor should walk the full configured chain.
	HasProvider bool

	Timeout time.Duration
}

// SelectorConfig holds the selector's static inputs.
type SelectorConfig struct {
	DefaultTimeout time.Duration
	FallbackChain  []providers.Type
}

// Selector resolves mode, provider and timeout budget from the request shape
// and the current stats snapshot.
type Selector struct {
	cfg    SelectorConfig
	logger *zap.Logger
}

// NewSelector creates a selector.
func NewSelector(cfg SelectorConfig, logger *zap.Logger) *Selector {
	return &Selector{cfg: cfg, logger: logger}
}

// Select computes the strategy for a request. An explicit mode is honored;
// auto is resolved from prompt length and project context.
func (s *Selector) Select(req *providers.Request, pctx *providers.ProjectContext, mode Mode, stats map[providers.Type]monitor.ProviderStats) Strategy {
	resolved := mode
	if resolved == "" || resolved == ModeAuto {
		resolved = s.resolveMode(req, pctx)
	}

	strat := Strategy{
		Mode:    resolved,
		Timeout: s.timeoutFor(resolved),
	}
	if p, ok := s.pickProvider(resolved, stats); ok {
		strat.Provider = p
		strat.HasProvider = true
	}

	s.logger.Debug("strategy selected",
		zap.String("request_id", req.ID),
		zap.String("mode", string(resolved)),
		zap.String("provider", string(strat.Provider)),
		zap.Duration("timeout", strat.Timeout))

	return strat
}

func (s *Selector) resolveMode(req *providers.Request, pctx *providers.ProjectContext) Mode {
	promptLen := len(req.Prompt)
	hasContext := pctx != nil

	switch {
	case promptLen < fastPromptLimit && !hasContext:
		return ModeFast
	case promptLen > thoroughPromptLimit || (hasContext && len(pctx.Files) > thoroughFileLimit):
		return ModeThorough
	default:
		return ModeBalanced
	}
}

func (s *Selector) timeoutFor(m Mode) time.Duration {
	d := s.cfg.DefaultTimeout
	switch m {
	case ModeFast:
		if d > fastTimeoutCap {
			return fastTimeoutCap
		}
	case ModeThorough:
		if d < thoroughTimeoutFloor {
			return thoroughTimeoutFloor
		}
	}
	return d
}

// pickProvider ranks the configured chain against the stats snapshot. With
// no samples at all the head of the chain wins (cold start).
func (s *Selector) pickProvider(m Mode, stats map[providers.Type]monitor.ProviderStats) (providers.Type, bool) {
	var best providers.Type
	var bestScore float64
	found := false

	for _, t := range s.cfg.FallbackChain {
		ps, ok := stats[t]
		if !ok {
			continue
		}
		score := scoreFor(m, ps)
		if !found || score > bestScore {
			best, bestScore, found = t, score, true
		}
	}

	if !found {
		if len(s.cfg.FallbackChain) > 0 {
			return s.cfg.FallbackChain[0], true
		}
		return "", false
	}
	return best, true
}

func scoreFor(m Mode, ps monitor.ProviderStats) float64 {
	switch m {
	case ModeFast:
		// Lowest latency wins.
		return -float64(ps.AvgLatency)
	case ModeThorough:
		return ps.SuccessRate
	default:
		return balancedScore(ps)
	}
}

// balancedScore weighs reliability over speed. The latency term goes
// negative for providers averaging above balancedLatencyScale, which keeps
// sorting monotonic but can drag the total below zero.
func balancedScore(ps monitor.ProviderStats) float64 {
	latencyMs := float64(ps.AvgLatency.Milliseconds())
	return 0.6*ps.SuccessRate + 0.4*(1-latencyMs/float64(balancedLatencyScale.Milliseconds()))
}
