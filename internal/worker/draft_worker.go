package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/model"
)

// DraftInserter is implemented by repository.DraftRepository. Insert must be
// idempotent on the draft id.
type DraftInserter interface {
	Insert(ctx context.Context, d *model.CodeDraft) error
}

// DraftWorker consumes persist_drafts_queue and inserts drafts into PostgreSQL.
type DraftWorker struct {
	store      DraftInserter
	rdb        *redis.Client
	queue      string
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewDraftWorker creates a new DraftWorker.
func NewDraftWorker(store DraftInserter, rdb *redis.Client, log zerolog.Logger) *DraftWorker {
	return &DraftWorker{
		store:      store,
		rdb:        rdb,
		queue:      config.WorkerKey.PersistDraftsQueue,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "draft_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *DraftWorker) Start(ctx context.Context) {
	w.log.Info().Str("queue", w.queue).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *DraftWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleepCtx(ctx, time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	d, ok := w.decode(result[1])
	if !ok {
		return
	}

	if err := w.store.Insert(ctx, d); err != nil {
		w.log.Error().Err(err).
			Int("student_id", d.StudentID).
			Str("problem_id", d.ProblemID).
			Str("draft_id", d.ID.String()).
			Dur("retry_in", w.retryDelay).
			Msg("Persist error, re-queued")
		// Push back to queue for retry.
		w.rdb.RPush(context.WithoutCancel(ctx), w.queue, result[1])
		sleepCtx(ctx, w.retryDelay)
	}
}

// decode drops payloads that can never be inserted so they do not loop
// through the queue forever.
func (w *DraftWorker) decode(raw string) (*model.CodeDraft, bool) {
	var d model.CodeDraft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping payload")
		return nil, false
	}
	if d.ID == uuid.Nil || d.StudentID == 0 || d.ProblemID == "" || d.CreatedAt.IsZero() {
		w.log.Error().Str("draft_id", d.ID.String()).Msg("Incomplete draft, dropping payload")
		return nil, false
	}
	return &d, true
}

// drain processes all remaining items in the queue before shutdown.
func (w *DraftWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		d, ok := w.decode(result)
		if !ok {
			continue
		}

		if err := w.store.Insert(ctx, d); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, w.queue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
