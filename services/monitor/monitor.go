package monitor

import (
	"sync"
	"time"

	"github.com/codeforge-dev/codeforge/services/providers"
	"go.uber.org/zap"
)

// Attempt captures one try against a single backend. It lives in the active
// map while the attempt is outstanding, is folded into the provider aggregate
// by Record, and is discarded afterwards. No per-attempt history is kept here.
type Attempt struct {
	RequestID  string
	Provider   providers.Type
	Model      string
	StartTime  time.Time
	EndTime    time.Time
	TokenCount int
	Success    bool
	Error      string
}

// Latency returns the attempt duration.
func (a *Attempt) Latency() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// ProviderStats is the rolling aggregate for one backend: a simple running
// mean over every recorded sample (not exponentially decayed). Stats live for
// the process lifetime and reset only on restart.
type ProviderStats struct {
	AvgLatency  time.Duration `json:"avg_latency"`
	SuccessRate float64       `json:"success_rate"`
	Samples     int           `json:"samples"`
}

type accum struct {
	totalLatency time.Duration
	successes    int
	samples      int
}

// Monitor maintains per-provider rolling statistics and the set of attempts
// currently in flight. All access is mutex-guarded.
type Monitor struct {
	mu     sync.Mutex
	stats  map[providers.Type]*accum
	active map[string]*Attempt
	logger *zap.Logger
}

// New creates an empty monitor.
func New(logger *zap.Logger) *Monitor {
	return &Monitor{
		stats:  make(map[providers.Type]*accum),
		active: make(map[string]*Attempt),
		logger: logger,
	}
}

// Begin opens an active attempt record for one request/provider pair.
func (m *Monitor) Begin(requestID string, p providers.Type, model string) *Attempt {
	a := &Attempt{
		RequestID: requestID,
		Provider:  p,
		Model:     model,
		StartTime: time.Now(),
	}

	m.mu.Lock()
	m.active[attemptKey(requestID, p)] = a
	m.mu.Unlock()

	return a
}

// Record folds a finished attempt into the provider's running mean and drops
// it from the active map.
func (m *Monitor) Record(a *Attempt) {
	if a.EndTime.IsZero() {
		a.EndTime = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, attemptKey(a.RequestID, a.Provider))

	acc := m.stats[a.Provider]
	if acc == nil {
		acc = &accum{}
		m.stats[a.Provider] = acc
	}
	acc.totalLatency += a.Latency()
	if a.Success {
		acc.successes++
	}
	acc.samples++
}

// Snapshot returns an independent copy of the per-provider aggregates.
func (m *Monitor) Snapshot() map[providers.Type]ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[providers.Type]ProviderStats, len(m.stats))
	for t, acc := range m.stats {
		out[t] = ProviderStats{
			AvgLatency:  acc.totalLatency / time.Duration(acc.samples),
			SuccessRate: float64(acc.successes) / float64(acc.samples),
			Samples:     acc.samples,
		}
	}
	return out
}

// ActiveCount reports the number of attempts with no terminal record yet.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

func attemptKey(requestID string, p providers.Type) string {
	return requestID + "/" + string(p)
}
