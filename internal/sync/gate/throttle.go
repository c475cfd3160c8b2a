// Package gate rate-limits and batches outbound sync triggers.
package gate

import (
	"sync"
	"time"
)

// Throttle enforces a minimum spacing between executions. A call that
// arrives while the gate is closed is skipped outright with no side
// effects.
//
// This is deliberately not a token bucket: callers need a non-consuming
// CanExecute check, TimeUntilNext, and an explicit Reset.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a Throttle with the given minimum spacing.
func NewThrottle(interval time.Duration) *Throttle {
	return NewThrottleWithClock(interval, time.Now)
}

// NewThrottleWithClock creates a Throttle with an injected clock for tests.
func NewThrottleWithClock(interval time.Duration, now func() time.Time) *Throttle {
	return &Throttle{interval: interval, now: now}
}

// CanExecute reports whether the gate is open. It does not consume the
// slot.
func (t *Throttle) CanExecute() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canExecuteLocked()
}

func (t *Throttle) canExecuteLocked() bool {
	return t.last.IsZero() || t.now().Sub(t.last) >= t.interval
}

// Execute runs op if the gate is open, stamping the execution time first.
// It returns false without running op when the gate is closed.
func (t *Throttle) Execute(op func() error) (bool, error) {
	t.mu.Lock()
	if !t.canExecuteLocked() {
		t.mu.Unlock()
		return false, nil
	}
	t.last = t.now()
	t.mu.Unlock()

	return true, op()
}

// TimeUntilNext returns how long until the gate opens. Zero when open.
func (t *Throttle) TimeUntilNext() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.canExecuteLocked() {
		return 0
	}
	return t.interval - t.now().Sub(t.last)
}

// Reset reopens the gate immediately.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
}
