package queue

import (
	"context"
	"sync"

	"github.com/codeforge-dev/codeforge/services/providers"
	"github.com/codeforge-dev/codeforge/services/routing"
	"go.uber.org/zap"
)

// Dispatch executes one admitted request to completion.
type Dispatch func(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error)

// Queue bounds the number of in-flight requests. Requests beyond capacity
// wait in strict FIFO order among themselves; no ordering holds between an
// immediately admitted request and a queued one.
//
// Draining is serial by policy: the drain loop pops the front entry and
// awaits its full completion before popping the next, even when several
// capacity slots are free.
type Queue struct {
	mu       sync.Mutex
	max      int
	active   int
	waiting  []*entry
	draining bool
	dispatch Dispatch
	logger   *zap.Logger
}

type entry struct {
	ctx   context.Context
	req   *providers.Request
	pctx  *providers.ProjectContext
	strat routing.Strategy
	done  chan outcome
}

type outcome struct {
	resp *providers.Response
	err  error
}

// New creates a queue with the given concurrency bound.
func New(maxConcurrent int, dispatch Dispatch, logger *zap.Logger) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		max:      maxConcurrent,
		dispatch: dispatch,
		logger:   logger,
	}
}

// Enqueue admits the request immediately when a slot is free, dispatching on
// the caller's goroutine; otherwise it parks the request at the back of the
// FIFO and blocks until the drain loop settles it. A parked request whose
// context is cancelled leaves the queue and returns the context error.
func (q *Queue) Enqueue(ctx context.Context, req *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
	q.mu.Lock()
	if q.active < q.max {
		q.active++
		q.mu.Unlock()

		resp, err := q.dispatch(ctx, req, pctx, strat)
		q.release()
		return resp, err
	}

	e := &entry{
		ctx:   ctx,
		req:   req,
		pctx:  pctx,
		strat: strat,
		done:  make(chan outcome, 1),
	}
	q.waiting = append(q.waiting, e)
	depth := len(q.waiting)
	q.mu.Unlock()

	q.logger.Debug("request queued",
		zap.String("request_id", req.ID),
		zap.Int("depth", depth))
	q.maybeDrain()

	select {
	case out := <-e.done:
		return out.resp, out.err
	case <-ctx.Done():
		if q.remove(e) {
			return nil, ctx.Err()
		}
		// The drain loop already claimed the entry; its dispatch runs with
		// the cancelled context and settles shortly.
		out := <-e.done
		return out.resp, out.err
	}
}

// remove unlinks a still-waiting entry; false means the drain loop got to it
// first.
func (q *Queue) remove(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiting {
		if w == e {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Depth reports the number of waiting entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.waiting)
}

// Active reports the number of dispatches currently running.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.active
}

// InFlight reports active dispatches plus waiting entries.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.active + len(q.waiting)
}

func (q *Queue) release() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()

	q.maybeDrain()
}

// maybeDrain starts the single-flight drain goroutine when waiting work and
// free capacity coexist.
func (q *Queue) maybeDrain() {
	q.mu.Lock()
	if q.draining || len(q.waiting) == 0 || q.active >= q.max {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	go q.drain()
}

// drain serves queued entries one at a time. A per-entry failure settles only
// that entry's waiter; the loop keeps going.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.waiting) == 0 || q.active >= q.max {
			q.draining = false
			q.mu.Unlock()
			return
		}
		e := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.active++
		q.mu.Unlock()

		resp, err := q.dispatch(e.ctx, e.req, e.pctx, e.strat)
		e.done <- outcome{resp: resp, err: err}

		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}
}
