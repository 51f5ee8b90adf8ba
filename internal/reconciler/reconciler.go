// Package reconciler keeps one draft consistent across the in-memory editor
// value, the local cache and the remote store.
//
// A remote read never replaces an unsaved local edit, and an older record
// never replaces a newer one. Saves are serialized; a save that has been
// superseded by a later one never reaches the network.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/draft"
	"github.com/stemsi/draftsync/internal/notify"
	"github.com/stemsi/draftsync/internal/remote"
	"github.com/stemsi/draftsync/internal/scheduler"
)

// DefaultQuietPeriod is how long editing must pause before an autosave.
const DefaultQuietPeriod = 5 * time.Second

// LocalCache is the synchronous best-effort store for the draft.
type LocalCache interface {
	Read(subjectID, variant string) (draft.Record, bool)
	Write(rec draft.Record) error
}

// RemoteStore is the authoritative store for the draft.
type RemoteStore interface {
	FetchLatest(ctx context.Context, subjectID, variant string) (*draft.Record, error)
	Persist(ctx context.Context, subjectID, variant, content string, origin draft.Origin) (draft.Record, error)
}

// Options configures a Reconciler. SubjectID, Cache and Remote are required.
type Options struct {
	SubjectID string
	Variant   string

	Cache     LocalCache
	Remote    RemoteStore
	Scheduler scheduler.Scheduler
	Notifier  notify.Notifier
	Logger    zerolog.Logger

	// Now is used for local cache timestamps. Defaults to time.Now.
	Now         func() time.Time
	QuietPeriod time.Duration
}

// Reconciler owns one draft for one subject/variant pair.
type Reconciler struct {
	subjectID string
	variant   string
	cache     LocalCache
	remote    RemoteStore
	notifier  notify.Notifier
	log       zerolog.Logger
	now       func() time.Time

	debouncer *scheduler.Debouncer
	pipeline  chan struct{}
	ready     chan struct{}
	baseCtx   context.Context
	stopFetch context.CancelFunc

	mu          sync.Mutex
	value       string
	dirty       bool
	editGen     uint64
	seq         uint64
	lastSavedAt *time.Time
	lastOrigin  *draft.Origin
	status      Status
	lastErr     error
	persisted   *persistedKey
	closed      bool
}

// New seeds a Reconciler from the local cache and starts fetching the remote
// copy in the background. Ready is closed once that fetch has been applied or
// discarded.
func New(ctx context.Context, opts Options) (*Reconciler, error) {
	if opts.SubjectID == "" {
		return nil, errors.New("reconciler: subject id is required")
	}
	if opts.Cache == nil || opts.Remote == nil {
		return nil, errors.New("reconciler: cache and remote store are required")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.NewTimer()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLog(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}

	fetchCtx, stop := context.WithCancel(ctx)
	r := &Reconciler{
		subjectID: opts.SubjectID,
		variant:   opts.Variant,
		cache:     opts.Cache,
		remote:    opts.Remote,
		notifier:  opts.Notifier,
		log: opts.Logger.With().
			Str("component", "reconciler").
			Str("subject_id", opts.SubjectID).
			Str("variant", opts.Variant).
			Logger(),
		now:       opts.Now,
		pipeline:  make(chan struct{}, 1),
		ready:     make(chan struct{}),
		baseCtx:   context.WithoutCancel(ctx),
		stopFetch: stop,
		status:    StatusIdle,
	}
	r.debouncer = scheduler.NewDebouncer(opts.Scheduler, opts.QuietPeriod, r.autosave)

	if rec, ok := r.cache.Read(r.subjectID, r.variant); ok {
		r.value = rec.Content
		saved := rec.SavedAt
		origin := rec.Origin
		r.lastSavedAt = &saved
		r.lastOrigin = &origin
	}

	go r.bootstrap(fetchCtx)
	return r, nil
}

// Ready is closed when the initial remote fetch has finished.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.ready
}

func (r *Reconciler) bootstrap(ctx context.Context) {
	defer close(r.ready)

	fetched, err := r.remote.FetchLatest(ctx, r.subjectID, r.variant)
	if err != nil {
		r.log.Warn().Err(err).Str("kind", string(remote.KindOf(err))).Msg("Remote draft fetch failed, keeping local copy")
		return
	}
	if fetched == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return
	case r.dirty:
		r.log.Debug().Msg("Discarding remote draft: local edits pending")
		return
	case !fetched.NewerThan(r.lastSavedAt):
		r.log.Debug().Time("remote_saved_at", fetched.SavedAt).Msg("Discarding remote draft: local copy is newer")
		return
	}

	r.value = fetched.Content
	saved := fetched.SavedAt
	origin := fetched.Origin
	r.lastSavedAt = &saved
	r.lastOrigin = &origin
	r.persisted = &persistedKey{content: fetched.Content, origin: fetched.Origin}
	r.writeLocalLocked(fetched.Content, fetched.Origin, fetched.SavedAt)

	r.log.Info().Time("saved_at", saved).Msg("Adopted newer remote draft")
}

// SetValue replaces the editor content and restarts the autosave quiet period.
func (r *Reconciler) SetValue(content string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.value = content
	r.dirty = true
	r.editGen++
	r.mu.Unlock()

	r.debouncer.Touch()
}

// Value returns the current content.
func (r *Reconciler) Value() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// State returns a copy of the reconciler's state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := State{
		Value:     r.value,
		Dirty:     r.dirty,
		Status:    r.status,
		LastError: r.lastErr,
	}
	if r.lastSavedAt != nil {
		t := *r.lastSavedAt
		s.LastSavedAt = &t
	}
	if r.lastOrigin != nil {
		o := *r.lastOrigin
		s.LastOrigin = &o
	}
	return s
}

// Save writes the current content locally and then to the remote store. The
// returned error is the remote failure, if any; local failures are only
// logged.
func (r *Reconciler) Save(ctx context.Context, origin draft.Origin) error {
	return r.save(ctx, origin, true)
}

func (r *Reconciler) autosave() {
	r.mu.Lock()
	dirty := r.dirty && !r.closed
	r.mu.Unlock()
	if !dirty {
		return
	}
	if err := r.save(r.baseCtx, draft.OriginAuto, true); err != nil {
		r.log.Debug().Err(err).Msg("Autosave failed")
	}
}

func (r *Reconciler) save(ctx context.Context, origin draft.Origin, writeLocal bool) error {
	r.mu.Lock()
	r.seq++
	token := r.seq
	snapshot := r.value
	gen := r.editGen
	r.status = StatusSaving
	if writeLocal {
		r.writeLocalLocked(snapshot, origin, r.now())
	}
	r.mu.Unlock()

	select {
	case r.pipeline <- struct{}{}:
	case <-ctx.Done():
		return r.fail(token, &remote.Error{Op: "persist", Kind: remote.KindNetwork, Err: ctx.Err()})
	}
	defer func() { <-r.pipeline }()

	r.mu.Lock()
	if r.seq > token {
		r.mu.Unlock()
		r.log.Debug().Uint64("token", token).Msg("Skipping superseded save")
		return nil
	}
	if p := r.persisted; p != nil && p.content == snapshot && p.origin == origin {
		r.settleLocked(token, gen)
		r.mu.Unlock()
		r.log.Debug().Msg("Draft unchanged since last save")
		return nil
	}
	// Until this persist is confirmed the remote content is unknown: a call
	// that fails or times out may still have been stored.
	r.persisted = nil
	r.mu.Unlock()

	rec, err := r.remote.Persist(ctx, r.subjectID, r.variant, snapshot, origin)
	if err != nil {
		return r.fail(token, err)
	}

	r.mu.Lock()
	saved := rec.SavedAt
	r.lastSavedAt = &saved
	r.lastOrigin = &origin
	r.lastErr = nil
	r.persisted = &persistedKey{content: snapshot, origin: origin}
	current := r.settleLocked(token, gen)
	if current {
		r.writeLocalLocked(snapshot, origin, saved)
	}
	closed := r.closed
	r.mu.Unlock()

	r.log.Info().
		Str("origin", string(origin)).
		Time("saved_at", saved).
		Bool("superseded_by_edit", !current).
		Msg("Draft saved")

	if origin != draft.OriginAuto && !closed {
		notify.Safe(r.log, r.notifier, notify.KindSuccess, "Draft saved", "Your code has been saved.")
	}
	return nil
}

// settleLocked finishes a save whose content the remote store now holds.
// Dirty is cleared only if no edit happened after the snapshot was taken.
func (r *Reconciler) settleLocked(token, gen uint64) bool {
	if r.editGen != gen {
		if r.seq == token {
			r.status = StatusIdle
		}
		return false
	}
	r.dirty = false
	r.status = StatusSuccess
	return true
}

func (r *Reconciler) fail(token uint64, err error) error {
	r.mu.Lock()
	r.lastErr = err
	r.persisted = nil
	if r.seq == token || r.status != StatusSaving {
		r.status = StatusError
	}
	closed := r.closed
	r.mu.Unlock()

	kind := remote.KindOf(err)
	r.log.Warn().Err(err).Str("kind", string(kind)).Msg("Draft save failed, kept locally")
	if !closed {
		notify.Safe(r.log, r.notifier, notify.KindError, "Save failed", failureMessage(kind, err))
	}
	return err
}

func failureMessage(kind remote.Kind, err error) string {
	switch kind {
	case remote.KindTimeout:
		return "The server did not respond in time. Your draft is kept on this device."
	case remote.KindAuth:
		return "Your session has expired. Your draft is kept on this device."
	case remote.KindRejected:
		var re *remote.Error
		if errors.As(err, &re) && re.Message != "" {
			return "The server rejected the draft: " + re.Message
		}
		return "The server rejected the draft."
	default:
		return "Could not reach the server. Your draft is kept on this device."
	}
}

// writeLocalLocked stores content in the local cache. Local writes happen
// under r.mu so they land in the same order as the state changes they
// reflect.
func (r *Reconciler) writeLocalLocked(content string, origin draft.Origin, savedAt time.Time) {
	err := r.cache.Write(draft.Record{
		SubjectID: r.subjectID,
		Variant:   r.variant,
		Content:   content,
		SavedAt:   savedAt,
		Origin:    origin,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Local draft write failed")
	}
}

// FlushOnHide writes the current content to the local cache immediately and,
// if it has unsaved changes, persists it in the background. A clean value
// keeps the timestamp and origin of its last save. The returned
// channel is closed when that background save has finished; callers that are
// about to exit may wait on it briefly or ignore it.
func (r *Reconciler) FlushOnHide() <-chan struct{} {
	r.debouncer.Cancel()

	done := make(chan struct{})

	r.mu.Lock()
	dirty := r.dirty
	if !dirty && r.lastSavedAt != nil && r.lastOrigin != nil {
		r.writeLocalLocked(r.value, *r.lastOrigin, *r.lastSavedAt)
	} else {
		r.writeLocalLocked(r.value, draft.OriginAuto, r.now())
	}
	r.mu.Unlock()

	if !dirty {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		if err := r.save(r.baseCtx, draft.OriginAuto, false); err != nil {
			r.log.Debug().Err(err).Msg("Flush-on-hide persist failed")
		}
	}()
	return done
}

// Close stops autosave and the pending remote fetch. Saves already running
// complete, but they no longer notify.
func (r *Reconciler) Close() {
	r.debouncer.Stop()
	r.stopFetch()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
