package routing

import (
	"sync"

	"github.com/codeforge-dev/codeforge/services/providers"
)

// EventType distinguishes attempt lifecycle notifications.
type EventType string

const (
	EventRequestStart    EventType = "request_start"
	EventRequestComplete EventType = "request_complete"
)

// Event is one lifecycle notification for a single attempt. Completion
// events carry the outcome; latency and token fields are zero on start.
type Event struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id"`
	Provider  providers.Type `json:"provider"`
	Model     string         `json:"model,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Error     string         `json:"error,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Tokens    int            `json:"tokens,omitempty"`
}

// Notifier delivers events synchronously, in emission order, to an explicit
// per-instance subscriber list. There is no process-global emitter; each
// router owns its notifier, so tests never leak events across instances.
type Notifier struct {
	mu        sync.Mutex
	listeners []func(Event)
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a listener. Listeners run on the emitting goroutine
// and should return quickly.
func (n *Notifier) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listeners = append(n.listeners, fn)
}

func (n *Notifier) emit(ev Event) {
	n.mu.Lock()
	listeners := make([]func(Event), len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
