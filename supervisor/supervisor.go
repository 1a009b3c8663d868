// Package supervisor wraps the price monitor with lifecycle control, an
// independent health loop and aggregate execution statistics. One
// Supervisor instance is constructed at process start and passed by
// handle to anything needing status or control.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trigger-engine-go/engine"
	"trigger-engine-go/executor"
	"trigger-engine-go/metrics"
	"trigger-engine-go/oracle"
	"trigger-engine-go/store"
)

// State is the supervisor's own two-state machine.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Config carries the executor-facing runtime knobs.
type Config struct {
	MonitoringInterval  time.Duration
	HealthCheckInterval time.Duration
	// MaxConcurrentExecutions is reserved for future bounded cross-owner
	// parallelism. The tick loop is sequential; per-owner execution locks
	// must exist before any value above 1 takes effect.
	MaxConcurrentExecutions int
	EnableAutoRestart       bool
	LogLevel                string
	// RestartGrace is the pause between stop and start on restart, letting
	// in-flight work settle. Zero means 2s.
	RestartGrace time.Duration

	healthProbeTimeout time.Duration
}

// Supervisor owns the monitor and its health loop.
type Supervisor struct {
	cfg     Config
	monitor *engine.Monitor
	oracle  oracle.PriceOracle
	store   store.OrderStore
	logger  *zap.Logger
	level   *zap.AtomicLevel
	mset    *metrics.Set
	stats   *execStats

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	healthStop chan struct{}
	healthDone chan struct{}
	// stopSeq counts operator stops. Restart captures it before the grace
	// sleep and aborts if a Stop landed in between, so an explicit stop is
	// never undone by a pending auto-restart.
	stopSeq uint64
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *zap.Logger) Option { return func(s *Supervisor) { s.logger = l } }

func WithMetrics(m *metrics.Set) Option { return func(s *Supervisor) { s.mset = m } }

// WithLogLevel hands over the logger's level handle so SetLogLevel can
// retune it at runtime.
func WithLogLevel(lvl zap.AtomicLevel) Option { return func(s *Supervisor) { s.level = &lvl } }

// New builds the supervisor and its monitor. The executor is wrapped so
// every attempt feeds the latency/outcome statistics.
func New(po oracle.PriceOracle, st store.OrderStore, ex executor.SwapExecutor, cfg Config, opts ...Option) *Supervisor {
	if cfg.MonitoringInterval <= 0 {
		cfg.MonitoringInterval = 30 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 2 * time.Minute
	}
	if cfg.RestartGrace <= 0 {
		cfg.RestartGrace = 2 * time.Second
	}
	if cfg.healthProbeTimeout <= 0 {
		cfg.healthProbeTimeout = 5 * time.Second
	}

	s := &Supervisor{
		cfg:    cfg,
		oracle: po,
		store:  st,
		logger: zap.NewNop(),
		stats:  &execStats{},
	}
	for _, opt := range opts {
		opt(s)
	}
	instrumented := &measuredExecutor{inner: ex, stats: s.stats, mset: s.mset}
	monitorOpts := []engine.Option{engine.WithLogger(s.logger)}
	if s.mset != nil {
		monitorOpts = append(monitorOpts, engine.WithMetrics(s.mset))
	}
	s.monitor = engine.New(po, st, instrumented, monitorOpts...)
	return s
}

// Start launches the monitor and the health loop. Starting a running
// supervisor is a logged no-op.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.state == StateRunning {
		s.logger.Warn("executor already running, start ignored")
		return nil
	}
	if err := s.monitor.Start(s.cfg.MonitoringInterval); err != nil {
		return err
	}
	s.healthStop = make(chan struct{})
	s.healthDone = make(chan struct{})
	go s.healthLoop(s.healthStop, s.healthDone)

	s.state = StateRunning
	s.startedAt = time.Now().UTC()
	s.logger.Info("executor started",
		zap.Duration("monitoring_interval", s.cfg.MonitoringInterval),
		zap.Duration("health_check_interval", s.cfg.HealthCheckInterval),
		zap.Int("max_concurrent_executions", s.cfg.MaxConcurrentExecutions),
		zap.Bool("auto_restart", s.cfg.EnableAutoRestart))
	if s.cfg.MaxConcurrentExecutions > 1 {
		s.logger.Warn("max_concurrent_executions > 1 is reserved, execution stays sequential")
	}
	return nil
}

// Stop halts the health loop, then the monitor. The in-flight tick, if
// any, completes before Stop returns. Stopping a stopped supervisor is a
// logged no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSeq++
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.state == StateStopped {
		s.logger.Warn("executor not running, stop ignored")
		return
	}
	close(s.healthStop)
	<-s.healthDone
	s.monitor.Stop()
	s.state = StateStopped
	s.logger.Info("executor stopped")
}

// Restart is stop, a grace period, then start. An operator Stop during
// the grace period wins: the start half is abandoned.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	s.stopLocked()
	seq := s.stopSeq
	s.mu.Unlock()

	s.logger.Info("restarting executor", zap.Duration("grace", s.cfg.RestartGrace))
	time.Sleep(s.cfg.RestartGrace)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSeq != seq {
		s.logger.Info("restart abandoned, stop requested during grace period")
		return nil
	}
	return s.startLocked()
}

// State returns the supervisor's lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ForceTick runs one cycle outside the timer cadence and returns its
// summary synchronously. Coalesced like any other tick.
func (s *Supervisor) ForceTick(ctx context.Context) engine.TickSummary {
	s.logger.Info("manual tick requested")
	return s.monitor.Tick(ctx)
}

// Simulate reports which orders would fire at price without touching the
// swap executor or any order state.
func (s *Supervisor) Simulate(ctx context.Context, price decimal.Decimal) ([]string, error) {
	return s.monitor.Simulate(ctx, price)
}

// WouldFire answers the point query for a single order.
func (s *Supervisor) WouldFire(ctx context.Context, id string, price decimal.Decimal) (bool, error) {
	return s.monitor.WouldFire(ctx, id, price)
}

// MonitorStatus exposes the monitor's read-only snapshot.
func (s *Supervisor) MonitorStatus() engine.StatusSnapshot {
	return s.monitor.Status()
}

// SetLogLevel is the only tunable applied on config hot reload. It is a
// logged no-op unless the supervisor was built WithLogLevel.
func (s *Supervisor) SetLogLevel(level string) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		s.logger.Warn("rejecting log level change", zap.String("level", level), zap.Error(err))
		return
	}
	if s.level == nil {
		s.logger.Warn("no level handle attached, log level unchanged", zap.String("level", level))
		return
	}
	s.level.SetLevel(parsed)
	s.logger.Info("log level changed", zap.String("level", level))
}

func (s *Supervisor) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if restart := s.checkHealth(); restart {
				// The loop must exit before Restart stops it, or Stop
				// would wait on this goroutine forever.
				go func() {
					if err := s.Restart(); err != nil {
						s.logger.Error("auto-restart failed", zap.Error(err))
					}
				}()
				return
			}
		}
	}
}

// checkHealth probes oracle and store. Returns true when the supervisor
// should auto-restart (confirmed store-connectivity loss only; an oracle
// outage is external and a restart would not fix it).
func (s *Supervisor) checkHealth() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.healthProbeTimeout)
	defer cancel()

	price, err := s.oracle.Sample(ctx)
	oracleUp := err == nil && price.IsPositive()
	if s.mset != nil {
		s.mset.OracleUp.Set(boolGauge(oracleUp))
	}
	if !oracleUp {
		s.logger.Warn("health check: oracle unavailable", zap.Error(err))
	}

	storeErr := s.store.Ping(ctx)
	storeUp := storeErr == nil
	if s.mset != nil {
		s.mset.StoreUp.Set(boolGauge(storeUp))
	}
	if storeUp {
		return false
	}
	s.logger.Error("health check: store connectivity lost", zap.Error(storeErr))
	if !s.cfg.EnableAutoRestart {
		return false
	}
	s.logger.Warn("auto-restart enabled, restarting price monitor")
	return true
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
