package examtimer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type submitRecorder struct {
	calls   atomic.Int32
	mu      sync.Mutex
	reasons []Reason
	err     error
}

func (s *submitRecorder) Submit(_ context.Context, reason Reason) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
	return s.err
}

func newTimer(c *clock, rec *submitRecorder, src DeadlineSource) *Timer {
	return New(Options{
		Submit: rec.Submit,
		Source: src,
		Now:    c.Now,
		Logger: zerolog.Nop(),
	})
}

func TestRemainingAt(t *testing.T) {
	deadline := start.Add(90 * time.Second)
	assert.Equal(t, 90, remainingAt(deadline, start))
	assert.Equal(t, 90, remainingAt(deadline, start.Add(100*time.Millisecond)), "partial seconds round up")
	assert.Equal(t, 1, remainingAt(deadline, deadline.Add(-time.Millisecond)))
	assert.Equal(t, 0, remainingAt(deadline, deadline))
	assert.Equal(t, 0, remainingAt(deadline, deadline.Add(time.Hour)))
}

func TestTickCountsDownAndSubmitsAtZero(t *testing.T) {
	c := &clock{now: start}
	rec := &submitRecorder{}
	var ticks []int
	tm := New(Options{Submit: rec.Submit, Now: c.Now, Logger: zerolog.Nop(), OnTick: func(r int) { ticks = append(ticks, r) }})

	assert.Equal(t, StateIdle, tm.State())
	require.NoError(t, tm.Start(context.Background(), start.Add(3*time.Second)))
	assert.Equal(t, StateRunning, tm.State())

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		tm.Tick(context.Background())
	}

	assert.Equal(t, []int{3, 2, 1, 0}, ticks)
	assert.Equal(t, int32(1), rec.calls.Load())
	submitted, reason := tm.Submitted()
	assert.True(t, submitted)
	assert.Equal(t, ReasonDeadline, reason)

	c.Advance(time.Second)
	tm.Tick(context.Background())
	assert.Equal(t, int32(1), rec.calls.Load(), "later ticks never submit again")
}

func TestSuspendedTabCatchesUp(t *testing.T) {
	c := &clock{now: start}
	rec := &submitRecorder{}
	tm := newTimer(c, rec, nil)
	require.NoError(t, tm.Start(context.Background(), start.Add(10*time.Minute)))

	// No ticks for four minutes, as when timers are throttled in the background.
	c.Advance(4*time.Minute + 500*time.Millisecond)
	assert.Equal(t, 360, tm.Tick(context.Background()))

	c.Advance(10 * time.Minute)
	assert.Equal(t, 0, tm.Tick(context.Background()))
	assert.Equal(t, int32(1), rec.calls.Load())
}

func TestStartWithPassedDeadlineSubmitsImmediately(t *testing.T) {
	c := &clock{now: start}
	rec := &submitRecorder{}
	tm := newTimer(c, rec, nil)

	require.NoError(t, tm.Start(context.Background(), start.Add(-time.Second)))
	assert.Equal(t, StateSubmitted, tm.State())
	assert.Equal(t, []Reason{ReasonDeadline}, rec.reasons)

	assert.ErrorIs(t, tm.Start(context.Background(), start.Add(time.Hour)), ErrAlreadyStarted)
}

func TestUserSubmit(t *testing.T) {
	c := &clock{now: start}
	rec := &submitRecorder{}
	tm := newTimer(c, rec, nil)

	assert.ErrorIs(t, tm.Submit(context.Background()), ErrNotRunning)

	require.NoError(t, tm.Start(context.Background(), start.Add(time.Minute)))
	c.Advance(20 * time.Second)
	require.NoError(t, tm.Submit(context.Background()))

	assert.Equal(t, StateSubmitted, tm.State())
	assert.Equal(t, 40, tm.Remaining())
	assert.ErrorIs(t, tm.Submit(context.Background()), ErrAlreadySubmitted)

	c.Advance(time.Minute)
	tm.Tick(context.Background())
	assert.Equal(t, []Reason{ReasonUser}, rec.reasons)

	select {
	case <-tm.Done():
	default:
		t.Fatal("Done should be closed after submission")
	}
}

func TestSingleSubmissionUnderRace(t *testing.T) {
	for round := 0; round < 50; round++ {
		c := &clock{now: start}
		rec := &submitRecorder{}
		tm := newTimer(c, rec, nil)
		require.NoError(t, tm.Start(context.Background(), start.Add(time.Second)))

		// The deadline tick and the user's click land together.
		c.Advance(time.Second)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				tm.Tick(context.Background())
			}()
			go func() {
				defer wg.Done()
				_ = tm.Submit(context.Background())
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), rec.calls.Load(), "round %d", round)
	}
}

func TestResyncCorrectsDeadline(t *testing.T) {
	c := &clock{now: start}
	rec := &submitRecorder{}
	server := start.Add(5 * time.Minute)
	var fail atomic.Bool
	src := DeadlineFunc(func(context.Context) (time.Time, error) {
		if fail.Load() {
			return time.Time{}, errors.New("offline")
		}
		return server, nil
	})
	tm := newTimer(c, rec, src)
	require.NoError(t, tm.Start(context.Background(), start.Add(10*time.Minute)))

	assert.Equal(t, 300, tm.Resync(context.Background()))
	assert.True(t, server.Equal(tm.Deadline()))

	fail.Store(true)
	c.Advance(time.Minute)
	assert.Equal(t, 240, tm.Resync(context.Background()), "a failed resync keeps the last deadline")
	assert.True(t, server.Equal(tm.Deadline()))
}

func TestFailedSubmissionCanBeRetried(t *testing.T) {
	c := &clock{now: start}
	rec := &submitRecorder{err: errors.New("gateway timeout")}
	tm := newTimer(c, rec, nil)
	require.NoError(t, tm.Start(context.Background(), start.Add(time.Minute)))

	assert.ErrorIs(t, tm.RetrySubmit(context.Background()), ErrNothingToRetry)

	require.Error(t, tm.Submit(context.Background()))
	assert.Equal(t, StateSubmitted, tm.State(), "submission is latched even when the call fails")
	require.Error(t, tm.Err())
	assert.ErrorIs(t, tm.Submit(context.Background()), ErrAlreadySubmitted)

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	require.NoError(t, tm.RetrySubmit(context.Background()))
	assert.NoError(t, tm.Err())
	assert.Equal(t, []Reason{ReasonUser, ReasonUser}, rec.reasons)

	assert.ErrorIs(t, tm.RetrySubmit(context.Background()), ErrNothingToRetry)
}

func TestRunStopsAfterSubmission(t *testing.T) {
	rec := &submitRecorder{}
	tm := New(Options{
		Submit:       rec.Submit,
		TickInterval: 5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, tm.Start(context.Background(), time.Now().Add(30*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tm.Run(ctx))
	assert.Equal(t, int32(1), rec.calls.Load())
}

func TestRunHonoursContext(t *testing.T) {
	tm := New(Options{Submit: (&submitRecorder{}).Submit, Logger: zerolog.Nop()})
	require.NoError(t, tm.Start(context.Background(), time.Now().Add(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tm.Run(ctx), context.Canceled)
	assert.Equal(t, StateRunning, tm.State())
}
