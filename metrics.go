package cosched

import (
	"sync"
	"time"

	uberatomic "go.uber.org/atomic"
)

// Metrics tracks runtime statistics for a Scheduler. Collection is opt-in
// via [WithMetrics]; when disabled the scheduler carries no metrics state at
// all.
//
// Thread Safety:
//   - Counters are atomic and can be bumped from any goroutine.
//   - Dispatch-latency quantiles are guarded by a mutex (P-Square state is
//     not lock-free).
//   - [Scheduler.Metrics] returns a copy, safe for concurrent reads.
type Metrics struct {
	p50 *p2Quantile
	p90 *p2Quantile
	p99 *p2Quantile

	submitted  uberatomic.Uint64
	executed   uberatomic.Uint64
	promoted   uberatomic.Uint64
	spawned    uberatomic.Uint64
	panics     uberatomic.Uint64
	polls      uberatomic.Uint64
	timerFires uberatomic.Uint64
	notifies   uberatomic.Uint64

	mu sync.Mutex
}

func newMetrics() *Metrics {
	return &Metrics{
		p50: newP2Quantile(0.50),
		p90: newP2Quantile(0.90),
		p99: newP2Quantile(0.99),
	}
}

// recordDispatch folds one submit→dispatch latency into the quantile
// estimators.
func (m *Metrics) recordDispatch(d time.Duration) {
	x := float64(d)
	m.mu.Lock()
	m.p50.Update(x)
	m.p90.Update(x)
	m.p99.Update(x)
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of a scheduler's metrics.
type MetricsSnapshot struct {
	Submitted  uint64 // tasks accepted into the queue
	Executed   uint64 // tasks swapped in by workers
	Promoted   uint64 // bare callbacks promoted into temp coroutines
	Spawned    uint64 // swap-ins that started a fresh backing goroutine
	Panics     uint64 // panics trapped by coroutine trampolines
	Polls      uint64 // pollAndHandle rounds across all workers
	TimerFires uint64 // timer callbacks handed to the queue
	Notifies   uint64 // cross-thread wakeups posted

	// Queue latency from submission to worker pickup.
	DispatchP50 time.Duration
	DispatchP90 time.Duration
	DispatchP99 time.Duration
}

func (m *Metrics) snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Submitted:  m.submitted.Load(),
		Executed:   m.executed.Load(),
		Promoted:   m.promoted.Load(),
		Spawned:    m.spawned.Load(),
		Panics:     m.panics.Load(),
		Polls:      m.polls.Load(),
		TimerFires: m.timerFires.Load(),
		Notifies:   m.notifies.Load(),
	}
	m.mu.Lock()
	s.DispatchP50 = time.Duration(m.p50.Quantile())
	s.DispatchP90 = time.Duration(m.p90.Quantile())
	s.DispatchP99 = time.Duration(m.p99.Quantile())
	m.mu.Unlock()
	return s
}

// Recording helpers; each is a no-op when metrics are disabled so call
// sites stay unconditional.

func (s *Scheduler) countPoll() {
	if s.metrics != nil {
		s.metrics.polls.Inc()
	}
}

func (s *Scheduler) countTimerFire() {
	if s.metrics != nil {
		s.metrics.timerFires.Inc()
	}
}

func (s *Scheduler) countNotify() {
	if s.metrics != nil {
		s.metrics.notifies.Inc()
	}
}

func (s *Scheduler) countPanic() {
	if s.metrics != nil {
		s.metrics.panics.Inc()
	}
}
