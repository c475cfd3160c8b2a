package gate

import (
	"sync"
	"time"
)

// Debounce collapses bursts of scheduled operations into a single
// execution after a quiescent period. Each Schedule call replaces the
// pending operation and restarts the delay, so the last scheduled
// operation is the one that fires.
type Debounce struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending func()
	gen     uint64
}

// NewDebounce creates a Debounce with the given quiescence delay.
func NewDebounce(delay time.Duration) *Debounce {
	return &Debounce{delay: delay}
}

// Schedule replaces any pending operation with op and restarts the delay
// timer.
func (d *Debounce) Schedule(op func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	// Stop can lose to a timer that already expired; the generation check
	// in fire keeps that stale callback from running op early.
	d.gen++
	gen := d.gen
	d.pending = op
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debounce) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	op := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if op != nil {
		op()
	}
}

// ExecuteNow cancels the timer and runs the pending operation
// synchronously, if one exists.
func (d *Debounce) ExecuteNow() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	op := d.pending
	d.pending = nil
	d.mu.Unlock()

	if op != nil {
		op()
	}
}

// Cancel discards the pending operation without running it.
func (d *Debounce) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = nil
}

// HasPendingOperation reports whether an operation is scheduled.
func (d *Debounce) HasPendingOperation() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
