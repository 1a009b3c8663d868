package supervisor

import (
	"context"
	"sync"
	"time"

	"trigger-engine-go/executor"
	"trigger-engine-go/metrics"
	"trigger-engine-go/order"
)

// execStats accumulates executor outcomes across monitor restarts.
type execStats struct {
	mu           sync.Mutex
	attempted    int64
	succeeded    int64
	failed       int64
	totalLatency time.Duration
}

func (e *execStats) record(d time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempted++
	if ok {
		e.succeeded++
	} else {
		e.failed++
	}
	e.totalLatency += d
}

// measuredExecutor times every swap attempt before delegating.
type measuredExecutor struct {
	inner executor.SwapExecutor
	stats *execStats
	mset  *metrics.Set
}

func (m *measuredExecutor) Execute(ctx context.Context, o *order.Order) (executor.Result, error) {
	start := time.Now()
	res, err := m.inner.Execute(ctx, o)
	elapsed := time.Since(start)
	m.stats.record(elapsed, err == nil && res.Success)
	if m.mset != nil {
		m.mset.ExecutionLatency.Observe(elapsed.Seconds())
	}
	return res, err
}

// StatsSnapshot is the read-only aggregate view.
type StatsSnapshot struct {
	State            State
	Attempted        int64
	Succeeded        int64
	Failed           int64
	AvgExecutionTime time.Duration
	Uptime           time.Duration
}

// Stats returns running totals since construction and uptime since the
// last successful Start.
func (s *Supervisor) Stats() StatsSnapshot {
	s.stats.mu.Lock()
	attempted, succeeded, failed := s.stats.attempted, s.stats.succeeded, s.stats.failed
	total := s.stats.totalLatency
	s.stats.mu.Unlock()

	snap := StatsSnapshot{
		Attempted: attempted,
		Succeeded: succeeded,
		Failed:    failed,
	}
	if attempted > 0 {
		snap.AvgExecutionTime = total / time.Duration(attempted)
	}

	s.mu.Lock()
	snap.State = s.state
	if s.state == StateRunning {
		snap.Uptime = time.Since(s.startedAt)
	}
	s.mu.Unlock()
	return snap
}
