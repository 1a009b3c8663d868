// Package engine implements the price monitor: the periodic cycle that
// samples the oracle, evaluates triggers over pending orders, executes
// eligible ones sequentially and sweeps expirations.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trigger-engine-go/executor"
	"trigger-engine-go/metrics"
	"trigger-engine-go/oracle"
	"trigger-engine-go/order"
	"trigger-engine-go/store"
)

// ErrBadInterval is returned by Start for a non-positive interval.
var ErrBadInterval = errors.New("monitoring interval must be positive")

// Monitor drives the tick cycle. One instance per tracked pair.
type Monitor struct {
	oracle oracle.PriceOracle
	store  store.OrderStore
	exec   executor.SwapExecutor
	logger *zap.Logger
	mset   *metrics.Set
	now    func() time.Time

	// Reentrancy guard: a timer firing while a tick is still in flight is
	// skipped, not queued. Without this two overlapping ticks could both
	// observe the same eligible order.
	inFlight atomic.Bool

	mu             sync.RWMutex
	running        bool
	interval       time.Duration
	stopChan       chan struct{}
	doneChan       chan struct{}
	lastPrice      decimal.Decimal
	lastSampleTime time.Time
	totalTicks     int64
	executedCount  int64
	errorCount     int64
}

// Option customizes a Monitor.
type Option func(*Monitor)

func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.logger = l } }

func WithMetrics(s *metrics.Set) Option { return func(m *Monitor) { m.mset = s } }

func WithClock(f func() time.Time) Option { return func(m *Monitor) { m.now = f } }

// New wires the monitor's collaborators.
func New(po oracle.PriceOracle, st store.OrderStore, ex executor.SwapExecutor, opts ...Option) *Monitor {
	m := &Monitor{
		oracle: po,
		store:  st,
		exec:   ex,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins periodic ticking and performs one tick immediately.
// Starting a running monitor is a logged no-op.
func (m *Monitor) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrBadInterval
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("price monitor already running, start ignored")
		return nil
	}
	m.running = true
	m.interval = interval
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	stop, done := m.stopChan, m.doneChan
	m.mu.Unlock()

	m.logger.Info("price monitor started", zap.Duration("interval", interval))
	if m.mset != nil {
		m.mset.MonitorRunning.Set(1)
	}
	go m.loop(stop, done, interval)
	return nil
}

// Stop cancels the periodic timer and waits for an in-flight tick to
// finish. Stopping a stopped monitor is a logged no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Warn("price monitor not running, stop ignored")
		return
	}
	m.running = false
	close(m.stopChan)
	done := m.doneChan
	m.mu.Unlock()

	<-done
	if m.mset != nil {
		m.mset.MonitorRunning.Set(0)
	}
	m.logger.Info("price monitor stopped")
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)
	m.Tick(context.Background())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Tick(context.Background())
		}
	}
}

// TickSummary reports what one cycle did.
type TickSummary struct {
	At       time.Time
	Skipped  bool
	Price    decimal.Decimal
	Scanned  int
	Eligible int
	Executed int
	Failed   int
	Expired  int
	Err      error
}

// Tick runs one cycle: sample, filter, execute, sweep. Safe to call from
// the timer and manually; overlapping invocations are coalesced.
func (m *Monitor) Tick(ctx context.Context) TickSummary {
	if !m.inFlight.CompareAndSwap(false, true) {
		if m.mset != nil {
			m.mset.TicksSkipped.Inc()
		}
		m.logger.Debug("tick skipped, previous tick still in flight")
		return TickSummary{Skipped: true}
	}
	defer m.inFlight.Store(false)

	now := m.now()
	summary := TickSummary{At: now}

	price, err := m.oracle.Sample(ctx)
	if err != nil || !price.IsPositive() {
		if err == nil {
			err = oracle.ErrInvalidPrice
		}
		summary.Err = err
		m.recordOracleError(err)
		return summary
	}
	summary.Price = price

	candidates, err := m.store.ListEligible(ctx, now)
	if err != nil {
		// Read failure: no order can be evaluated this cycle, but the
		// sweep below may still make progress.
		summary.Err = err
		m.logger.Error("eligible-order query failed", zap.Error(err))
		m.bumpErrors(1)
	}
	summary.Scanned = len(candidates)

	var eligible []*order.Order
	for _, o := range candidates {
		if order.ShouldExecute(o, price) {
			eligible = append(eligible, o)
		}
	}
	summary.Eligible = len(eligible)

	// Sequential on purpose: orders sharing a funding identity must never
	// hit the executor concurrently.
	for _, o := range eligible {
		if m.executeOne(ctx, o, price) {
			summary.Executed++
		} else {
			summary.Failed++
		}
	}

	summary.Expired = m.sweep(ctx, now)

	m.mu.Lock()
	m.lastPrice = price
	m.lastSampleTime = now
	m.totalTicks++
	m.executedCount += int64(summary.Executed)
	m.mu.Unlock()

	if m.mset != nil {
		m.mset.TicksTotal.Inc()
		m.mset.OrdersScanned.Add(float64(summary.Scanned))
		lastPrice, _ := price.Float64()
		m.mset.LastPrice.Set(lastPrice)
	}
	m.logger.Info("tick complete",
		zap.String("price", price.String()),
		zap.Int("scanned", summary.Scanned),
		zap.Int("eligible", summary.Eligible),
		zap.Int("executed", summary.Executed),
		zap.Int("failed", summary.Failed),
		zap.Int("expired", summary.Expired))
	return summary
}

// executeOne submits a single order and applies the resulting transition.
// Returns true only when the order reached EXECUTED. A failure here never
// aborts the remaining orders of the tick.
func (m *Monitor) executeOne(ctx context.Context, o *order.Order, price decimal.Decimal) bool {
	res, err := m.exec.Execute(ctx, o)
	if err == nil && res.Success {
		executedAt := m.now()
		fill := res.PriceAtFill
		if !fill.IsPositive() {
			fill = price
		}
		mut := store.Mutation{
			Status:         order.StatusExecuted,
			ExecutedAt:     &executedAt,
			ExecutedPrice:  &fill,
			ExecutedAmount: &res.RealizedAmount,
			TransactionRef: &res.Reference,
		}
		if terr := m.store.Transition(ctx, o.ID, order.StatusActive, mut); terr != nil {
			// Likely cancelled between the query and the write; the CAS
			// keeps the terminal state authoritative.
			m.logger.Error("executed-order write failed",
				zap.String("order_id", o.ID), zap.Error(terr))
			m.bumpErrors(1)
			return false
		}
		if m.mset != nil {
			m.mset.OrdersExecuted.Inc()
		}
		m.logger.Info("order executed",
			zap.String("order_id", o.ID),
			zap.String("fill_price", fill.String()),
			zap.String("realized_amount", res.RealizedAmount.String()),
			zap.String("tx_ref", res.Reference))
		return true
	}

	reason := res.Reason
	if reason == "" && err != nil {
		reason = err.Error()
	}
	if reason == "" {
		reason = "executor rejected swap"
	}
	retries := o.RetryCount + 1
	status := order.StatusActive
	if retries >= o.MaxRetries {
		status = order.StatusFailed
	}
	mut := store.Mutation{
		Status:        status,
		RetryCount:    &retries,
		FailureReason: &reason,
	}
	if terr := m.store.Transition(ctx, o.ID, order.StatusActive, mut); terr != nil {
		m.logger.Error("failed-attempt write failed",
			zap.String("order_id", o.ID), zap.Error(terr))
	}
	if m.mset != nil {
		m.mset.OrderFailures.Inc()
	}
	m.bumpErrors(1)
	m.logger.Warn("order execution failed",
		zap.String("order_id", o.ID),
		zap.Int("retry_count", retries),
		zap.Int("max_retries", o.MaxRetries),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	return false
}

// sweep expires every ACTIVE order past its deadline, independent of the
// tick's price. A store failure here is logged and does not stop the loop.
func (m *Monitor) sweep(ctx context.Context, now time.Time) int {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		m.logger.Error("expiration sweep query failed", zap.Error(err))
		m.bumpErrors(1)
		return 0
	}
	expired := 0
	for _, o := range active {
		if !o.Expired(now) {
			continue
		}
		if err := m.store.Transition(ctx, o.ID, order.StatusActive, store.Mutation{Status: order.StatusExpired}); err != nil {
			m.logger.Error("expiration write failed",
				zap.String("order_id", o.ID), zap.Error(err))
			m.bumpErrors(1)
			continue
		}
		if m.mset != nil {
			m.mset.OrdersExpired.Inc()
		}
		m.logger.Info("order expired", zap.String("order_id", o.ID))
		expired++
	}
	return expired
}

// Simulate evaluates triggers against a caller-supplied price without
// touching the executor or the store. Pure dry run for diagnostics.
func (m *Monitor) Simulate(ctx context.Context, price decimal.Decimal) ([]string, error) {
	if !price.IsPositive() {
		return nil, oracle.ErrInvalidPrice
	}
	candidates, err := m.store.ListEligible(ctx, m.now())
	if err != nil {
		return nil, err
	}
	var fired []string
	for _, o := range candidates {
		if order.ShouldExecute(o, price) {
			fired = append(fired, o.ID)
		}
	}
	return fired, nil
}

// WouldFire answers the point query "would order id fire at price".
func (m *Monitor) WouldFire(ctx context.Context, id string, price decimal.Decimal) (bool, error) {
	o, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if o.Status != order.StatusActive || o.Expired(m.now()) || o.RetriesExhausted() {
		return false, nil
	}
	return order.ShouldExecute(o, price), nil
}

// StatusSnapshot is a read-only view of the monitor.
type StatusSnapshot struct {
	Running        bool
	Interval       time.Duration
	LastPrice      decimal.Decimal
	LastSampleTime time.Time
	NextSampleTime time.Time
	TotalTicks     int64
	ExecutedCount  int64
	ErrorCount     int64
}

// Status returns a snapshot without side effects.
func (m *Monitor) Status() StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := StatusSnapshot{
		Running:        m.running,
		Interval:       m.interval,
		LastPrice:      m.lastPrice,
		LastSampleTime: m.lastSampleTime,
		TotalTicks:     m.totalTicks,
		ExecutedCount:  m.executedCount,
		ErrorCount:     m.errorCount,
	}
	if m.running && !m.lastSampleTime.IsZero() {
		s.NextSampleTime = m.lastSampleTime.Add(m.interval)
	}
	return s
}

// Running reports whether the periodic loop is active.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) recordOracleError(err error) {
	// lastPrice is retained for diagnostics; it is never fed into this
	// tick's trigger evaluation.
	m.bumpErrors(1)
	if m.mset != nil {
		m.mset.OracleErrors.Inc()
	}
	m.logger.Warn("tick aborted, no valid price sample", zap.Error(err))
}

func (m *Monitor) bumpErrors(n int64) {
	m.mu.Lock()
	m.errorCount += n
	m.mu.Unlock()
}
