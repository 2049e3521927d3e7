package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codeforge-dev/codeforge/services/providers"
	"github.com/codeforge-dev/codeforge/services/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func req(id string) *providers.Request {
	return &providers.Request{ID: id, Prompt: "hi"}
}

func TestEnqueueDispatchesImmediatelyUnderCapacity(t *testing.T) {
	var calls int
	var mu sync.Mutex
	q := New(2, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &providers.Response{Content: "ok"}, nil
	}, zap.NewNop())

	resp, err := q.Enqueue(context.Background(), req("r1"), nil, routing.Strategy{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 0, q.Active())
}

func TestEnqueueBlocksBeyondCapacity(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)

	q := New(3, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		started <- r.ID
		<-release
		return &providers.Response{Content: r.ID}, nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	for _, id := range []string{"r1", "r2", "r3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), req(id), nil, routing.Strategy{})
			assert.NoError(t, err)
		}(id)
	}

	// Wait until all three slots are occupied.
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch did not start in time")
		}
	}

	// The fourth request must queue, not dispatch.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Enqueue(context.Background(), req("r4"), nil, routing.Strategy{})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case id := <-started:
		t.Fatalf("request %s dispatched past capacity", id)
	case <-time.After(50 * time.Millisecond):
	}

	// Freeing the slots lets the queued request run.
	close(release)
	select {
	case id := <-started:
		assert.Equal(t, "r4", id)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request never dispatched")
	}

	wg.Wait()
	assert.Equal(t, 0, q.InFlight())
}

func TestQueuedRequestsDrainInOrder(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)
	var order []string
	var mu sync.Mutex

	q := New(3, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		mu.Lock()
		order = append(order, r.ID)
		mu.Unlock()
		started <- r.ID
		<-release
		return &providers.Response{Content: r.ID}, nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	enqueue := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), req(id), nil, routing.Strategy{})
			assert.NoError(t, err)
		}()
	}

	enqueue("r1")
	enqueue("r2")
	enqueue("r3")
	for i := 0; i < 3; i++ {
		<-started
	}

	enqueue("r4")
	require.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 5*time.Millisecond)
	enqueue("r5")
	require.Eventually(t, func() bool { return q.Depth() == 2 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	// FIFO holds among the queued entries.
	assert.Equal(t, "r4", order[3])
	assert.Equal(t, "r5", order[4])
}

func TestDrainIsSerialAcrossFreeSlots(t *testing.T) {
	releaseActive := make(chan struct{})
	releaseHead := make(chan struct{})
	started := make(chan string, 8)

	q := New(3, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		started <- r.ID
		switch r.ID {
		case "q1":
			<-releaseHead
		case "q2":
		default:
			<-releaseActive
		}
		return &providers.Response{Content: r.ID}, nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	enqueue := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), req(id), nil, routing.Strategy{})
			assert.NoError(t, err)
		}()
	}

	enqueue("a1")
	enqueue("a2")
	enqueue("a3")
	for i := 0; i < 3; i++ {
		<-started
	}

	enqueue("q1")
	require.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 5*time.Millisecond)
	enqueue("q2")
	require.Eventually(t, func() bool { return q.Depth() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Free every slot; the drain loop picks up the head entry and blocks
	// inside its dispatch.
	close(releaseActive)
	select {
	case id := <-started:
		assert.Equal(t, "q1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("head entry never dispatched")
	}

	// Two slots are free, but the drain loop completes the head entry before
	// touching the next one.
	select {
	case id := <-started:
		t.Fatalf("request %s dispatched while the head entry was still running", id)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, q.Depth())

	close(releaseHead)
	select {
	case id := <-started:
		assert.Equal(t, "q2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("second queued entry never dispatched")
	}

	wg.Wait()
	assert.Equal(t, 0, q.InFlight())
}

func TestEnqueueReturnsOnContextCancellation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)

	q := New(1, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		started <- r.ID
		<-release
		return &providers.Response{Content: r.ID}, nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Enqueue(context.Background(), req("r1"), nil, routing.Strategy{})
		assert.NoError(t, err)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, req("r2"), nil, routing.Strategy{})
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}
	assert.Equal(t, 0, q.Depth())

	close(release)
	wg.Wait()

	// The cancelled entry left the queue and must never dispatch.
	select {
	case id := <-started:
		t.Fatalf("request %s dispatched after cancellation", id)
	default:
	}
	assert.Equal(t, 0, q.InFlight())
}

func TestQueueFailureIsolation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)
	boom := errors.New("backend down")

	q := New(1, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		started <- r.ID
		if r.ID == "r1" {
			<-release
			return nil, boom
		}
		return &providers.Response{Content: r.ID}, nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := q.Enqueue(context.Background(), req("r1"), nil, routing.Strategy{})
		errs <- err
	}()
	<-started
	go func() {
		defer wg.Done()
		_, err := q.Enqueue(context.Background(), req("r2"), nil, routing.Strategy{})
		errs <- err
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, boom)
			failures++
		}
	}
	// Exactly one waiter sees the failure; the other completes normally.
	assert.Equal(t, 1, failures)
	assert.Equal(t, 0, q.InFlight())
}

func TestQueueMinimumCapacity(t *testing.T) {
	q := New(0, func(ctx context.Context, r *providers.Request, pctx *providers.ProjectContext, strat routing.Strategy) (*providers.Response, error) {
		return &providers.Response{}, nil
	}, zap.NewNop())

	_, err := q.Enqueue(context.Background(), req("r1"), nil, routing.Strategy{})
	assert.NoError(t, err)
}
