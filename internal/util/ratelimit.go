package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces operations at a fixed minimum interval. Unlike a token
// bucket it never accumulates a burst: callers are paced one interval apart,
// which is what API quota windows actually want.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time // earliest time the next caller may proceed
}

// NewRateLimiter creates a RateLimiter allowing perMinute operations per
// minute. A non-positive rate disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{}
	if perMinute > 0 {
		rl.interval = time.Minute / time.Duration(perMinute)
	}
	return rl
}

// Wait blocks until this caller's slot arrives or the context is cancelled.
// Each call reserves the next slot before sleeping, so concurrent callers
// are serialized without holding the lock while waiting.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.interval <= 0 {
		return ctx.Err()
	}

	rl.mu.Lock()
	now := time.Now()
	at := rl.next
	if at.Before(now) {
		at = now
	}
	rl.next = at.Add(rl.interval)
	rl.mu.Unlock()

	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
