package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, capacity int) (*MemoryRateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewMemoryRateLimiter(capacity, 0, WithClock(clock.Now))
	t.Cleanup(rl.Close)
	return rl, clock
}

func TestMemoryRateLimiter_CapacityWithinWindow(t *testing.T) {
	rl, clock := newLimiter(t, 60)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.True(t, rl.Admit(ctx, "alice").Allowed, "admission %d", i+1)
		clock.Advance(100 * time.Millisecond)
	}

	d := rl.Admit(ctx, "alice")
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfterSeconds, 1)
	assert.LessOrEqual(t, d.RetryAfterSeconds, 60)
	assert.Equal(t, 54, d.RetryAfterSeconds)
}

func TestMemoryRateLimiter_SendersAreIndependent(t *testing.T) {
	rl, _ := newLimiter(t, 1)
	ctx := context.Background()

	assert.True(t, rl.Admit(ctx, "alice").Allowed)
	assert.False(t, rl.Admit(ctx, "alice").Allowed)
	assert.True(t, rl.Admit(ctx, "bob").Allowed)
}

func TestMemoryRateLimiter_WindowResets(t *testing.T) {
	rl, clock := newLimiter(t, 2)
	ctx := context.Background()

	assert.True(t, rl.Admit(ctx, "alice").Allowed)
	assert.True(t, rl.Admit(ctx, "alice").Allowed)
	assert.False(t, rl.Admit(ctx, "alice").Allowed)

	clock.Advance(Window + time.Millisecond)
	assert.True(t, rl.Admit(ctx, "alice").Allowed)
}

func TestMemoryRateLimiter_RejectionDoesNotExtendWindow(t *testing.T) {
	rl, clock := newLimiter(t, 1)
	ctx := context.Background()

	rl.Admit(ctx, "alice")
	clock.Advance(59*time.Second + 500*time.Millisecond)
	d := rl.Admit(ctx, "alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfterSeconds)
}

func TestMemoryRateLimiter_Sweep(t *testing.T) {
	rl, clock := newLimiter(t, 5)
	ctx := context.Background()

	rl.Admit(ctx, "alice")
	rl.Admit(ctx, "bob")
	clock.Advance(30 * time.Second)
	rl.Admit(ctx, "carol")
	clock.Advance(31 * time.Second)

	rl.Sweep()
	assert.Equal(t, 1, rl.Len())
}

func TestMemoryRateLimiter_Concurrent(t *testing.T) {
	rl, _ := newLimiter(t, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Admit(ctx, "alice").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestMemoryRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewMemoryRateLimiter(1, time.Millisecond)
	rl.Close()
	rl.Close()
}

func TestRetryAfterBounds(t *testing.T) {
	assert.Equal(t, 1, retryAfter(0))
	assert.Equal(t, 1, retryAfter(-time.Second))
	assert.Equal(t, 2, retryAfter(1100*time.Millisecond))
	assert.Equal(t, 60, retryAfter(2*time.Minute))
}
