package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/codeforge-dev/codeforge/services/monitor"
	"github.com/codeforge-dev/codeforge/services/providers"
	"go.uber.org/zap"
)

// TimeoutError marks an attempt that exceeded its budget. The attempt's
// context is cancelled, but a backend that ignores cancellation may still be
// processing when the executor moves on.
type TimeoutError struct {
	Provider providers.Type
	Budget   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Provider, e.Budget)
}

// AggregateError reports that every candidate in the chain failed. The
// message carries the last candidate's failure text.
type AggregateError struct {
	Attempts     int
	LastProvider providers.Type
	LastErr      error
}

func (e *AggregateError) Error() string {
	if e.Attempts == 0 {
		return "no providers available for request"
	}
	return fmt.Sprintf("all %d providers failed, last error (%s): %v",
		e.Attempts, e.LastProvider, e.LastErr)
}

// Unwrap exposes the last underlying failure.
func (e *AggregateError) Unwrap() error {
	return e.LastErr
}

// Executor walks a request down an ordered provider chain until one backend
// answers, recording every attempt and emitting lifecycle events.
type Executor struct {
	registry *providers.Registry
	monitor  *monitor.Monitor
	notifier *Notifier
	chain    []providers.Type
	logger   *zap.Logger
}

// NewExecutor creates an executor over the configured fallback chain.
func NewExecutor(registry *providers.Registry, mon *monitor.Monitor, notifier *Notifier, chain []providers.Type, logger *zap.Logger) *Executor {
	return &Executor{
		registry: registry,
		monitor:  mon,
		notifier: notifier,
		chain:    chain,
		logger:   logger,
	}
}

// Execute tries each candidate in order, racing every attempt against the
// strategy's timeout budget. The first success wins. A validation error
// stops the walk immediately; any other failure falls through to the next
// candidate. Exhausting the chain yields an *AggregateError.
func (e *Executor) Execute(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext, strat Strategy) (*providers.Response, error) {
	candidates := e.buildChain(strat)

	var lastErr error
	var lastProvider providers.Type
	attempts := 0

	for _, t := range candidates {
		p, ok := e.registry.Get(t)
		if !ok {
			e.logger.Debug("provider not registered, skipping",
				zap.String("request_id", req.ID),
				zap.String("provider", string(t)))
			continue
		}

		attempts++
		attempt := e.monitor.Begin(req.ID, t, p.ModelName())
		e.notifier.emit(Event{
			Type:      EventRequestStart,
			RequestID: req.ID,
			Provider:  t,
			Model:     p.ModelName(),
		})

		resp, err := e.attempt(ctx, p, req, pctx, strat.Timeout)
		attempt.EndTime = time.Now()

		if err == nil {
			attempt.Success = true
			if resp.Usage != nil {
				attempt.TokenCount = resp.Usage.TotalTokens
			}
			e.monitor.Record(attempt)
			e.notifier.emit(Event{
				Type:      EventRequestComplete,
				RequestID: req.ID,
				Provider:  t,
				Model:     p.ModelName(),
				Success:   true,
				LatencyMs: attempt.Latency().Milliseconds(),
				Tokens:    attempt.TokenCount,
			})
			return resp, nil
		}

		attempt.Error = err.Error()
		e.monitor.Record(attempt)
		e.notifier.emit(Event{
			Type:      EventRequestComplete,
			RequestID: req.ID,
			Provider:  t,
			Model:     p.ModelName(),
			Success:   false,
			Error:     err.Error(),
			LatencyMs: attempt.Latency().Milliseconds(),
		})

		if providers.IsValidation(err) {
			// Input rejection is not provider-specific; fallback cannot help.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.logger.Warn("attempt failed, falling back",
			zap.String("request_id", req.ID),
			zap.String("provider", string(t)),
			zap.Error(err))
		lastErr = err
		lastProvider = t
	}

	return nil, &AggregateError{
		Attempts:     attempts,
		LastProvider: lastProvider,
		LastErr:      lastErr,
	}
}

// buildChain puts the selected provider first and keeps the configured order
// for the rest; every configured type appears exactly once.
func (e *Executor) buildChain(strat Strategy) []providers.Type {
	if !strat.HasProvider {
		out := make([]providers.Type, len(e.chain))
		copy(out, e.chain)
		return out
	}

	out := make([]providers.Type, 0, len(e.chain)+1)
	out = append(out, strat.Provider)
	for _, t := range e.chain {
		if t != strat.Provider {
			out = append(out, t)
		}
	}
	return out
}

type attemptResult struct {
	resp *providers.Response
	err  error
}

// attempt races the provider call against the budget. The call gets a
// deadline-carrying context, and the executor stops waiting when the deadline
// fires regardless of whether the backend noticed; the result channel is
// buffered so a straggling call settles into it and its goroutine exits.
func (e *Executor) attempt(ctx context.Context, p providers.Provider, req *providers.Request, pctx *providers.ProjectContext, budget time.Duration) (*providers.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		resp, err := p.Generate(cctx, req, pctx)
		ch <- attemptResult{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Provider: p.Type(), Budget: budget}
	}
}
