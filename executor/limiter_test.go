package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiterBurstIsFree(t *testing.T) {
	l := NewTokenBucketLimiter(10, 3)

	start := time.Now()
	l.Wait()
	l.Wait()
	l.Wait()
	assert.Less(t, time.Since(start), 50*time.Millisecond,
		"waits within the burst capacity must not sleep")
}

func TestTokenBucketLimiterPacesPastBurst(t *testing.T) {
	l := NewTokenBucketLimiter(50, 1) // one token per 20ms

	start := time.Now()
	l.Wait() // burst token
	require.Less(t, time.Since(start), 15*time.Millisecond)

	start = time.Now()
	l.Wait()
	l.Wait()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond,
		"each wait past the burst pays the full token interval, not less")
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestTokenBucketLimiterRefillsWhileIdle(t *testing.T) {
	l := NewTokenBucketLimiter(100, 1)
	l.Wait()
	l.Wait() // drains the bucket and sleeps ~10ms

	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	l.Wait()
	assert.Less(t, time.Since(start), 15*time.Millisecond,
		"an idle period refills the bucket")
}

func TestTokenBucketLimiterDefaults(t *testing.T) {
	l := NewTokenBucketLimiter(0, 0)
	assert.Equal(t, float64(1), l.rate)
	assert.Equal(t, 1, l.burst)
}
