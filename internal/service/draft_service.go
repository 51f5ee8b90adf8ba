package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/model"
	"golang.org/x/sync/singleflight"
)

// Draft errors.
var (
	ErrDraftNotFound = errors.New("draft not found")
)

// DraftStore is the durable draft history, implemented by
// repository.DraftRepository.
type DraftStore interface {
	Latest(ctx context.Context, studentID int, problemID, language string) (*model.CodeDraft, error)
	List(ctx context.Context, studentID int, problemID, language string, limit int) ([]model.CodeDraft, error)
}

// DraftService stores code drafts. The newest draft per
// student/problem/language lives in Redis; every draft is queued for
// DraftWorker to insert into PostgreSQL.
type DraftService struct {
	store DraftStore
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
	log   zerolog.Logger
}

// NewDraftService creates a new DraftService. ttl bounds how long a latest
// draft stays cached after its last save.
func NewDraftService(store DraftStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *DraftService {
	return &DraftService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With().Str("component", "draft_service").Logger(),
	}
}

// Save assigns the draft its id and timestamp, makes it the latest draft and
// queues it for persistence.
func (s *DraftService) Save(ctx context.Context, studentID int, problemID string, req *model.SaveDraftRequest) (*model.CodeDraft, error) {
	saveType := req.SaveType
	if saveType == "" {
		saveType = model.SaveTypeManual
	}

	d := &model.CodeDraft{
		ID:        uuid.New(),
		StudentID: studentID,
		ProblemID: problemID,
		Language:  req.Language,
		Code:      req.Code,
		SaveType:  saveType,
		CreatedAt: s.now().UTC(),
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal draft: %w", err)
	}

	// The latest key and the queue entry are written together so the worker
	// never persists a draft that readers could not see.
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, config.CacheKey.LatestDraftKey(studentID, problemID, req.Language), payload, s.ttl)
		if req.Language != "" {
			pipe.Set(ctx, config.CacheKey.LatestDraftKey(studentID, problemID, ""), payload, s.ttl)
		}
		pipe.RPush(ctx, config.WorkerKey.PersistDraftsQueue, payload)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}

	s.log.Debug().
		Int("student_id", studentID).
		Str("problem_id", problemID).
		Str("language", d.Language).
		Str("save_type", string(d.SaveType)).
		Msg("Draft saved")

	return d, nil
}

// Latest returns the newest draft, or ErrDraftNotFound. Cache misses are
// collapsed so concurrent readers share one database query.
func (s *DraftService) Latest(ctx context.Context, studentID int, problemID, language string) (*model.CodeDraft, error) {
	key := config.CacheKey.LatestDraftKey(studentID, problemID, language)

	val, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var d model.CodeDraft
		if err := json.Unmarshal(val, &d); err == nil {
			return &d, nil
		}
		s.log.Warn().Str("key", key).Msg("Corrupt cached draft, reloading from database")
		_ = s.rdb.Del(ctx, key).Err()
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis error getting latest draft: %w", err)
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		d, err := s.store.Latest(ctx, studentID, problemID, language)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrDraftNotFound
			}
			return nil, fmt.Errorf("get latest draft: %w", err)
		}

		// Self-heal the cache for the next reader. The database trails the
		// persist queue, so a Save that landed meanwhile keeps its key.
		payload, err := json.Marshal(d)
		if err != nil {
			return d, nil
		}
		healed, err := s.rdb.SetNX(ctx, key, payload, s.ttl).Result()
		if err != nil || healed {
			return d, nil
		}
		if val, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			var newer model.CodeDraft
			if json.Unmarshal(val, &newer) == nil {
				return &newer, nil
			}
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.CodeDraft), nil
}

// History returns up to limit drafts, newest first. Drafts still waiting in
// the persistence queue are not included.
func (s *DraftService) History(ctx context.Context, studentID int, problemID, language string, limit int) ([]model.CodeDraft, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	drafts, err := s.store.List(ctx, studentID, problemID, language, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	if drafts == nil {
		drafts = []model.CodeDraft{}
	}
	return drafts, nil
}
