package scheduler

import (
	"sync"
	"time"
)

// Debouncer runs fn once a quiet period has passed since the last Touch.
type Debouncer struct {
	sched Scheduler
	quiet time.Duration
	fn    func()

	mu      sync.Mutex
	stopped bool
}

// NewDebouncer wires fn to sched with the given quiet period.
func NewDebouncer(sched Scheduler, quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{sched: sched, quiet: quiet, fn: fn}
}

// Touch restarts the quiet period.
func (d *Debouncer) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.sched.Arm(d.quiet, d.fire)
}

// Cancel drops a pending trigger without stopping the debouncer.
func (d *Debouncer) Cancel() {
	d.sched.Cancel()
}

// Stop cancels any pending trigger; later Touch calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.sched.Cancel()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.fn()
	}
}
