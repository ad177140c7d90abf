package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// StageTimer accumulates wall time and invocation counts per named pipeline
// stage. It replaces ad-hoc counters and console timing with a query
// interface. Safe for concurrent use by pipeline workers.
type StageTimer struct {
	clock clockwork.Clock

	mu     sync.Mutex
	totals map[string]time.Duration
	counts map[string]int
}

// NewStageTimer returns a timer using the real clock.
func NewStageTimer() *StageTimer {
	return NewStageTimerWithClock(clockwork.NewRealClock())
}

// NewStageTimerWithClock returns a timer with an injected clock, so tests can
// assert exact durations.
func NewStageTimerWithClock(clock clockwork.Clock) *StageTimer {
	return &StageTimer{
		clock:  clock,
		totals: make(map[string]time.Duration),
		counts: make(map[string]int),
	}
}

// Add records one invocation of a stage with the given duration.
func (t *StageTimer) Add(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals[stage] += d
	t.counts[stage]++
}

// Start begins timing a stage and returns a function that records the elapsed
// time when called.
func (t *StageTimer) Start(stage string) func() {
	begin := t.clock.Now()
	return func() {
		t.Add(stage, t.clock.Since(begin))
	}
}

// Total returns the accumulated duration for a stage.
func (t *StageTimer) Total(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[stage]
}

// Count returns the number of recorded invocations for a stage.
func (t *StageTimer) Count(stage string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[stage]
}

// Stages returns the recorded stage names, sorted.
func (t *StageTimer) Stages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.totals))
	for name := range t.totals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all accumulated totals and counts.
func (t *StageTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = make(map[string]time.Duration)
	t.counts = make(map[string]int)
}
