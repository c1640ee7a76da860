package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const Window = time.Minute

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Limiter admits or rejects message sends per sender.
type Limiter interface {
	Admit(ctx context.Context, senderID string) Decision
	Close()
}

type windowRecord struct {
	count       int
	windowStart time.Time
}

// MemoryRateLimiter is a process-local fixed window limiter.
type MemoryRateLimiter struct {
	capacity int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*windowRecord

	stopCh    chan struct{}
	closeOnce sync.Once
}

type Option func(*MemoryRateLimiter)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(rl *MemoryRateLimiter) { rl.now = now }
}

// NewMemoryRateLimiter creates a limiter admitting capacity sends per minute.
// A sweep goroutine evicts stale windows every sweepInterval until Close.
func NewMemoryRateLimiter(capacity int, sweepInterval time.Duration, opts ...Option) *MemoryRateLimiter {
	rl := &MemoryRateLimiter{
		capacity: capacity,
		window:   Window,
		now:      time.Now,
		windows:  make(map[string]*windowRecord),
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(rl)
	}
	if sweepInterval > 0 {
		go rl.sweepLoop(sweepInterval)
	}
	return rl
}

func (rl *MemoryRateLimiter) Admit(_ context.Context, senderID string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rec, ok := rl.windows[senderID]
	if !ok || now.Sub(rec.windowStart) > rl.window {
		rl.windows[senderID] = &windowRecord{count: 1, windowStart: now}
		return Decision{Allowed: true}
	}

	if rec.count >= rl.capacity {
		return Decision{Allowed: false, RetryAfterSeconds: retryAfter(rec.windowStart.Add(rl.window).Sub(now))}
	}

	rec.count++
	return Decision{Allowed: true}
}

// Len returns the number of tracked senders.
func (rl *MemoryRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func (rl *MemoryRateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.stopCh:
			return
		}
	}
}

// Sweep removes windows that have expired.
func (rl *MemoryRateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, rec := range rl.windows {
		if now.Sub(rec.windowStart) > rl.window {
			delete(rl.windows, id)
		}
	}
}

// Close stops the sweep goroutine.
func (rl *MemoryRateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopCh) })
}

// retryAfter rounds the remaining window up to whole seconds, within [1, 60].
func retryAfter(remaining time.Duration) int {
	s := int(math.Ceil(remaining.Seconds()))
	if s < 1 {
		s = 1
	}
	if s > int(Window/time.Second) {
		s = int(Window / time.Second)
	}
	return s
}
