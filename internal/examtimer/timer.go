// Package examtimer turns a server-issued exam deadline into a local
// countdown and submits the exam exactly once, either when the student asks
// or when the countdown reaches zero.
package examtimer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the timer's lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSubmitted State = "submitted"
)

// Reason says which path triggered the submission.
type Reason string

const (
	ReasonUser     Reason = "user"
	ReasonDeadline Reason = "deadline"
)

var (
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrNotRunning       = errors.New("exam timer is not running")
	ErrAlreadyStarted   = errors.New("exam timer already started")
	ErrNothingToRetry   = errors.New("no failed submission to retry")
)

// SubmitFunc hands the exam in. It is called at most once per attempt.
type SubmitFunc func(ctx context.Context, reason Reason) error

// DeadlineSource re-reads the authoritative deadline from the server.
type DeadlineSource interface {
	Deadline(ctx context.Context) (time.Time, error)
}

// DeadlineFunc adapts a function to a DeadlineSource.
type DeadlineFunc func(ctx context.Context) (time.Time, error)

func (f DeadlineFunc) Deadline(ctx context.Context) (time.Time, error) { return f(ctx) }

// Options configures a Timer. Submit is required.
type Options struct {
	Submit SubmitFunc
	// Source, when set, is polled every ResyncInterval.
	Source         DeadlineSource
	Now            func() time.Time
	TickInterval   time.Duration
	ResyncInterval time.Duration
	Logger         zerolog.Logger
	// OnTick receives the remaining seconds after every tick.
	OnTick func(remaining int)
}

// Timer is the exam countdown. It is safe for concurrent use.
type Timer struct {
	submit SubmitFunc
	source DeadlineSource
	now    func() time.Time
	tick   time.Duration
	resync time.Duration
	onTick func(int)
	log    zerolog.Logger

	done chan struct{}

	mu         sync.Mutex
	state      State
	deadline   time.Time
	remaining  int
	reason     Reason
	submitting bool
	err        error
}

// New creates an idle Timer.
func New(opts Options) *Timer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = time.Minute
	}
	return &Timer{
		submit: opts.Submit,
		source: opts.Source,
		now:    opts.Now,
		tick:   opts.TickInterval,
		resync: opts.ResyncInterval,
		onTick: opts.OnTick,
		log:    opts.Logger.With().Str("component", "exam_timer").Logger(),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
}

// remainingAt is max(0, ceil(deadline - now)) in whole seconds.
func remainingAt(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Start moves the timer to Running with the server's deadline. A deadline
// that has already passed submits immediately.
func (t *Timer) Start(ctx context.Context, deadline time.Time) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.state = StateRunning
	t.deadline = deadline
	t.mu.Unlock()

	t.log.Info().Time("deadline", deadline).Msg("Exam timer started")
	t.Tick(ctx)
	return nil
}

// Tick re-derives the remaining time from the deadline and submits if it has
// reached zero. It returns the remaining seconds.
func (t *Timer) Tick(ctx context.Context) int {
	t.mu.Lock()
	if t.state == StateIdle {
		t.mu.Unlock()
		return 0
	}
	if t.state == StateRunning {
		t.remaining = remainingAt(t.deadline, t.now())
	}
	remaining := t.remaining
	expired := t.state == StateRunning && remaining == 0
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(remaining)
	}
	if expired {
		if err := t.fire(ctx, ReasonDeadline); err != nil && !errors.Is(err, ErrAlreadySubmitted) {
			t.log.Error().Err(err).Msg("Deadline submission failed")
		}
	}
	return remaining
}

// Resync re-reads the deadline from the source, keeping the last known one if
// that fails, then ticks.
func (t *Timer) Resync(ctx context.Context) int {
	if t.source != nil && t.State() == StateRunning {
		deadline, err := t.source.Deadline(ctx)
		switch {
		case err != nil:
			t.log.Warn().Err(err).Msg("Deadline resync failed, keeping last known deadline")
		case deadline.IsZero():
		default:
			t.mu.Lock()
			if t.state == StateRunning && !deadline.Equal(t.deadline) {
				t.log.Info().Time("old", t.deadline).Time("new", deadline).Msg("Exam deadline corrected")
				t.deadline = deadline
			}
			t.mu.Unlock()
		}
	}
	return t.Tick(ctx)
}

// Submit is the student's explicit hand-in. It fails with ErrAlreadySubmitted
// if the exam was already handed in by either path.
func (t *Timer) Submit(ctx context.Context) error {
	return t.fire(ctx, ReasonUser)
}

// fire is the single submission routine shared by both paths. The state check
// and the transition happen under one lock, so only one caller gets through.
func (t *Timer) fire(ctx context.Context, reason Reason) error {
	t.mu.Lock()
	switch t.state {
	case StateIdle:
		t.mu.Unlock()
		return ErrNotRunning
	case StateSubmitted:
		t.mu.Unlock()
		return ErrAlreadySubmitted
	}
	if reason == ReasonUser && remainingAt(t.deadline, t.now()) == 0 {
		reason = ReasonDeadline
	}
	t.state = StateSubmitted
	t.reason = reason
	t.remaining = remainingAt(t.deadline, t.now())
	t.submitting = true
	t.mu.Unlock()

	t.log.Info().Str("reason", string(reason)).Msg("Submitting exam")
	err := t.callSubmit(ctx, reason)
	close(t.done)
	return err
}

func (t *Timer) callSubmit(ctx context.Context, reason Reason) error {
	var err error
	if t.submit != nil {
		err = t.submit(ctx, reason)
	}

	t.mu.Lock()
	t.submitting = false
	t.err = err
	t.mu.Unlock()

	if err != nil {
		t.log.Error().Err(err).Str("reason", string(reason)).Msg("Exam submission failed")
	}
	return err
}

// RetrySubmit repeats a submission whose last attempt failed. The timer stays
// Submitted either way; only the hand-in call is repeated.
func (t *Timer) RetrySubmit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateSubmitted || t.submitting || t.err == nil {
		t.mu.Unlock()
		return ErrNothingToRetry
	}
	t.submitting = true
	reason := t.reason
	t.mu.Unlock()

	return t.callSubmit(ctx, reason)
}

// Run ticks every TickInterval and resyncs every ResyncInterval until the exam
// is submitted or ctx is done.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	resync := time.NewTicker(t.resync)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-ticker.C:
			t.Tick(ctx)
		case <-resync.C:
			t.Resync(ctx)
		}
	}
}

// Done is closed once the first hand-in attempt has finished, by either path.
// Err reports whether that attempt failed.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Remaining returns the seconds left as of now.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return t.remaining
	}
	return remainingAt(t.deadline, t.now())
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Submitted reports whether the exam was handed in and by which path.
func (t *Timer) Submitted() (bool, Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateSubmitted, t.reason
}

// Err returns the error from the most recent submission attempt.
func (t *Timer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
