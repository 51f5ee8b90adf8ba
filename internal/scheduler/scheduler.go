// Package scheduler provides the delayed-trigger primitive used for autosave.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler holds at most one pending trigger. Arm replaces whatever was
// pending; Cancel drops it.
type Scheduler interface {
	Arm(delay time.Duration, fn func())
	Cancel()
}

// Timer is a Scheduler backed by time.AfterFunc.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewTimer returns an idle Timer scheduler.
func NewTimer() *Timer {
	return &Timer{}
}

func (t *Timer) Arm(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(delay, func() {
		// Stop does not wait for a callback that already started, so a
		// replaced or cancelled trigger checks its generation first.
		t.mu.Lock()
		current := gen == t.gen
		if current {
			t.timer = nil
		}
		t.mu.Unlock()
		if current {
			fn()
		}
	})
}

func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Manual is a deterministic Scheduler driven by Advance. Callbacks run on the
// goroutine that calls Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	due     time.Time
	fn      func()
	pending bool
	fired   int
}

// NewManual creates a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Arm(delay time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.due = m.now.Add(delay)
	m.fn = fn
	m.pending = true
}

func (m *Manual) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = nil
	m.pending = false
}

// Now returns the scheduler's clock; usable as a func() time.Time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and runs the pending trigger if it
// became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var fn func()
	if m.pending && !m.now.Before(m.due) {
		fn = m.fn
		m.fn = nil
		m.pending = false
		m.fired++
	}
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pending reports whether a trigger is armed.
func (m *Manual) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Fired returns how many triggers have run.
func (m *Manual) Fired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}
