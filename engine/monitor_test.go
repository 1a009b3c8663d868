package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigger-engine-go/executor"
	"trigger-engine-go/oracle"
	"trigger-engine-go/order"
	"trigger-engine-go/store"
)

// fakeExecutor scripts per-order outcomes and records call order.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool  // Success=false with a reason
	errs  map[string]error // transport-level error
	delay time.Duration
}

func (f *fakeExecutor) Execute(_ context.Context, o *order.Order) (executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, o.ID)
	fail := f.fail[o.ID]
	err := f.errs[o.ID]
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return executor.Result{}, err
	}
	if fail {
		return executor.Result{Success: false, Reason: "insufficient funds"}, nil
	}
	return executor.Result{
		Success:        true,
		RealizedAmount: decimal.NewFromInt(5),
		PriceAtFill:    decimal.RequireFromString("0.049"),
		Reference:      "tx-" + o.ID,
	}, nil
}

func (f *fakeExecutor) callIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func seed(t *testing.T, st *store.Memory, id string, createdAt time.Time, mutate func(*order.Order)) {
	t.Helper()
	o := &order.Order{
		ID:               id,
		Owner:            "acct-1",
		Direction:        order.DirectionBuy,
		FromToken:        "USDC",
		ToToken:          "SOL",
		Amount:           decimal.NewFromInt(10),
		TriggerPrice:     decimal.RequireFromString("0.05"),
		TriggerCondition: order.ConditionBelow,
		Status:           order.StatusActive,
		MaxRetries:       3,
		ExpiresAt:        createdAt.Add(24 * time.Hour),
		CreatedAt:        createdAt,
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, st.Create(context.Background(), o))
}

func newMonitor(st *store.Memory, po oracle.PriceOracle, ex executor.SwapExecutor) *Monitor {
	return New(po, st, ex)
}

func TestTickExecutesInCreationOrder(t *testing.T) {
	st := store.NewMemory()
	now := time.Now().UTC()
	seed(t, st, "third", now.Add(2*time.Second), nil)
	seed(t, st, "first", now, nil)
	seed(t, st, "second", now.Add(time.Second), nil)

	ex := &fakeExecutor{}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.04")}, ex)

	sum := m.Tick(context.Background())
	assert.False(t, sum.Skipped)
	assert.Equal(t, 3, sum.Eligible)
	assert.Equal(t, 3, sum.Executed)
	assert.Equal(t, []string{"first", "second", "third"}, ex.callIDs())

	for _, id := range []string{"first", "second", "third"} {
		o, err := st.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, order.StatusExecuted, o.Status)
		require.NotNil(t, o.ExecutedAt)
		assert.Equal(t, "tx-"+id, o.TransactionRef)
		assert.True(t, o.ExecutedPrice.Equal(decimal.RequireFromString("0.049")))
	}
}

func TestTickSkipsUntriggeredOrders(t *testing.T) {
	st := store.NewMemory()
	now := time.Now().UTC()
	seed(t, st, "below-far", now, func(o *order.Order) {
		o.TriggerPrice = decimal.RequireFromString("0.03")
	})
	seed(t, st, "above-hit", now, func(o *order.Order) {
		o.TriggerCondition = order.ConditionAbove
		o.TriggerPrice = decimal.RequireFromString("0.04")
	})

	ex := &fakeExecutor{}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.045")}, ex)

	sum := m.Tick(context.Background())
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 1, sum.Eligible)
	assert.Equal(t, []string{"above-hit"}, ex.callIDs())

	o, _ := st.Get(context.Background(), "below-far")
	assert.Equal(t, order.StatusActive, o.Status)
}

func TestRetryBoundDrivesFailed(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, st, "a", now, nil)

	ex := &fakeExecutor{fail: map[string]bool{"a": true}}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.04")}, ex)

	for i := 1; i <= 3; i++ {
		sum := m.Tick(ctx)
		assert.Equal(t, 1, sum.Failed, "tick %d", i)
		o, err := st.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, i, o.RetryCount)
		assert.Equal(t, "insufficient funds", o.FailureReason)
		if i < 3 {
			assert.Equal(t, order.StatusActive, o.Status)
		} else {
			assert.Equal(t, order.StatusFailed, o.Status)
		}
	}

	// a fourth tick must not touch the failed order
	sum := m.Tick(ctx)
	assert.Equal(t, 0, sum.Eligible)
	o, _ := st.Get(ctx, "a")
	assert.Equal(t, 3, o.RetryCount, "retryCount must never exceed maxRetries")
	assert.Equal(t, 3, len(ex.callIDs()))
}

func TestExpirationPrecedesExecution(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	// trigger satisfied AND already expired: must expire, never execute
	seed(t, st, "late", now, func(o *order.Order) {
		o.ExpiresAt = now.Add(-time.Minute)
	})

	ex := &fakeExecutor{}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.01")}, ex)

	sum := m.Tick(ctx)
	assert.Equal(t, 0, sum.Eligible)
	assert.Equal(t, 1, sum.Expired)
	assert.Empty(t, ex.callIDs())

	o, err := st.Get(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, order.StatusExpired, o.Status)
	assert.Nil(t, o.ExecutedAt)
}

func TestOracleFailureAbortsTickWithoutMutation(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, st, "a", now, nil)

	ex := &fakeExecutor{}
	sampleErr := errors.New("feed unreachable")
	m := newMonitor(st, oracle.Func(func(context.Context) (decimal.Decimal, error) {
		return decimal.Zero, sampleErr
	}), ex)

	sum := m.Tick(ctx)
	assert.ErrorIs(t, sum.Err, sampleErr)
	assert.Empty(t, ex.callIDs())

	o, _ := st.Get(ctx, "a")
	assert.Equal(t, order.StatusActive, o.Status)
	assert.Equal(t, 0, o.RetryCount)
	assert.EqualValues(t, 1, m.Status().ErrorCount)
	assert.EqualValues(t, 0, m.Status().TotalTicks)
}

func TestNonPositiveSampleAbortsTick(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "a", time.Now().UTC(), nil)
	ex := &fakeExecutor{}
	m := newMonitor(st, oracle.Func(func(context.Context) (decimal.Decimal, error) {
		return decimal.Zero, nil
	}), ex)

	sum := m.Tick(context.Background())
	assert.ErrorIs(t, sum.Err, oracle.ErrInvalidPrice)
	assert.Empty(t, ex.callIDs())
}

func TestExecutorErrorDoesNotAbortRemainingOrders(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, st, "first", now, nil)
	seed(t, st, "second", now.Add(time.Second), nil)

	ex := &fakeExecutor{errs: map[string]error{"first": errors.New("rpc timeout")}}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.04")}, ex)

	sum := m.Tick(ctx)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, []string{"first", "second"}, ex.callIDs())

	first, _ := st.Get(ctx, "first")
	assert.Equal(t, order.StatusActive, first.Status)
	assert.Equal(t, 1, first.RetryCount)
	assert.Equal(t, "rpc timeout", first.FailureReason)

	second, _ := st.Get(ctx, "second")
	assert.Equal(t, order.StatusExecuted, second.Status)
}

// Two overlapping ticks must coalesce into one: this is the scenario the
// reentrancy guard exists to prevent.
func TestOverlappingTicksCoalesce(t *testing.T) {
	st := store.NewMemory()
	now := time.Now().UTC()
	seed(t, st, "a", now, nil)

	ex := &fakeExecutor{delay: 150 * time.Millisecond}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.04")}, ex)

	results := make(chan TickSummary, 2)
	go func() { results <- m.Tick(context.Background()) }()
	time.Sleep(30 * time.Millisecond) // first tick is inside the executor call
	go func() { results <- m.Tick(context.Background()) }()

	first, second := <-results, <-results
	skipped := 0
	for _, s := range []TickSummary{first, second} {
		if s.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped, "exactly one of the overlapping ticks must be skipped")
	assert.Equal(t, []string{"a"}, ex.callIDs(), "order must execute at most once")
}

func TestTerminalOrdersStayUntouched(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, st, "a", now, nil)

	ex := &fakeExecutor{}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.04")}, ex)
	m.Tick(ctx)

	executed, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, order.StatusExecuted, executed.Status)
	executedAt := *executed.ExecutedAt

	// further ticks over arbitrary prices change nothing
	for _, p := range []string{"0.04", "0.001", "100"} {
		m2 := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString(p)}, ex)
		m2.Tick(ctx)
	}
	after, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, order.StatusExecuted, after.Status)
	assert.Equal(t, executedAt, *after.ExecutedAt, "executedAt is set at most once")
	assert.Equal(t, "tx-a", after.TransactionRef)
	assert.Equal(t, 1, len(ex.callIDs()))
}

func TestSimulateIsPure(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	// 3 eligible at 0.04, 2 not
	seed(t, st, "e1", now, nil)
	seed(t, st, "e2", now.Add(time.Second), nil)
	seed(t, st, "e3", now.Add(2*time.Second), func(o *order.Order) {
		o.TriggerCondition = order.ConditionAbove
		o.TriggerPrice = decimal.RequireFromString("0.03")
	})
	seed(t, st, "n1", now, func(o *order.Order) {
		o.TriggerPrice = decimal.RequireFromString("0.01")
	})
	seed(t, st, "n2", now, func(o *order.Order) { o.Status = order.StatusCancelled })

	ex := &fakeExecutor{}
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.05")}, ex)

	fired, err := m.Simulate(ctx, decimal.RequireFromString("0.04"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, fired)
	assert.Empty(t, ex.callIDs(), "simulation must not reach the executor")

	for _, id := range []string{"e1", "e2", "e3", "n1"} {
		o, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, order.StatusActive, o.Status, "simulate must not mutate %s", id)
	}
	cancelled, _ := st.Get(ctx, "n2")
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	_, err = m.Simulate(ctx, decimal.Zero)
	assert.ErrorIs(t, err, oracle.ErrInvalidPrice)
}

func TestWouldFire(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, st, "a", now, nil)
	seed(t, st, "done", now, func(o *order.Order) { o.Status = order.StatusExecuted })

	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.05")}, &fakeExecutor{})

	fire, err := m.WouldFire(ctx, "a", decimal.RequireFromString("0.04"))
	require.NoError(t, err)
	assert.True(t, fire)

	fire, err = m.WouldFire(ctx, "a", decimal.RequireFromString("0.06"))
	require.NoError(t, err)
	assert.False(t, fire)

	fire, err = m.WouldFire(ctx, "done", decimal.RequireFromString("0.04"))
	require.NoError(t, err)
	assert.False(t, fire, "terminal orders never fire")

	_, err = m.WouldFire(ctx, "missing", decimal.RequireFromString("0.04"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartStopLifecycle(t *testing.T) {
	st := store.NewMemory()
	m := newMonitor(st, oracle.Fixed{Price: decimal.RequireFromString("0.05")}, &fakeExecutor{})

	assert.ErrorIs(t, m.Start(0), ErrBadInterval)
	assert.ErrorIs(t, m.Start(-time.Second), ErrBadInterval)

	require.NoError(t, m.Start(time.Hour))
	assert.True(t, m.Running())
	require.NoError(t, m.Start(time.Hour), "second start is a no-op")

	// the immediate first tick has run by the time Stop returns
	m.Stop()
	assert.False(t, m.Running())
	assert.EqualValues(t, 1, m.Status().TotalTicks)

	m.Stop() // idempotent
	assert.False(t, m.Running())
}

func TestStatusSnapshot(t *testing.T) {
	st := store.NewMemory()
	now := time.Now().UTC()
	seed(t, st, "a", now, nil)
	fixed := now.Add(time.Minute)
	m := New(oracle.Fixed{Price: decimal.RequireFromString("0.04")}, st, &fakeExecutor{},
		WithClock(func() time.Time { return fixed }))

	require.NoError(t, m.Start(time.Minute))
	m.Stop()

	s := m.Status()
	assert.False(t, s.Running)
	assert.True(t, s.LastPrice.Equal(decimal.RequireFromString("0.04")))
	assert.Equal(t, fixed, s.LastSampleTime)
	assert.EqualValues(t, 1, s.TotalTicks)
	assert.EqualValues(t, 1, s.ExecutedCount)
}
