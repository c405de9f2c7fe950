package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces outgoing upstream calls. Wait blocks until a call may
// proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// New picks a limiter the way the server wires it: a token bucket when a
// per-minute budget is set, otherwise a minimum interval, otherwise nil.
func New(maxPerMinute, burst int, minInterval time.Duration) Limiter {
	if maxPerMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		return NewTokenBucket(float64(maxPerMinute)/60.0, burst)
	}
	if minInterval > 0 {
		return &MinInterval{Interval: minInterval}
	}
	return nil
}

// MinInterval enforces a minimum time between calls.
// Concurrent callers queue behind each other; each waits until Interval has
// elapsed since the previous call was released, or returns early if ctx is
// canceled.
type MinInterval struct {
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.mu.Lock()
	now := time.Now()
	slot := m.next
	if slot.Before(now) {
		slot = now
	}
	m.next = slot.Add(m.Interval)
	m.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
