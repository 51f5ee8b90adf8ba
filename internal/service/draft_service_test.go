package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDraftStore struct {
	latest   *model.CodeDraft
	err      error
	calls    atomic.Int32
	release  chan struct{}
	gotLimit int
}

func (f *fakeDraftStore) Latest(context.Context, int, string, string) (*model.CodeDraft, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.latest, f.err
}

func (f *fakeDraftStore) List(_ context.Context, _ int, _, _ string, limit int) ([]model.CodeDraft, error) {
	f.gotLimit = limit
	return nil, f.err
}

func TestDraftService_SaveCachesAndQueues(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	s := NewDraftService(&fakeDraftStore{err: errors.New("must not be read")}, rdb, time.Hour, zerolog.Nop())
	s.now = func() time.Time { return now }

	d, err := s.Save(ctx, 7, "two-sum", &model.SaveDraftRequest{Language: "go", Code: "package main"})
	require.NoError(t, err)
	assert.Equal(t, model.SaveTypeManual, d.SaveType, "manual is the default")
	assert.Equal(t, time.UTC, d.CreatedAt.Location())
	assert.True(t, d.CreatedAt.Equal(now))

	got, err := s.Latest(ctx, 7, "two-sum", "go")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	newest, err := s.Latest(ctx, 7, "two-sum", "")
	require.NoError(t, err)
	assert.Equal(t, d.ID, newest.ID, "the language-less key tracks the newest draft of any language")

	ttl, err := rdb.TTL(ctx, config.CacheKey.LatestDraftKey(7, "two-sum", "go")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistDraftsQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var q model.CodeDraft
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &q))
	assert.Equal(t, d.ID, q.ID)
	assert.Equal(t, "package main", q.Code)
}

func TestDraftService_LatestFallsBackAndHeals(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	stored := &model.CodeDraft{ProblemID: "two-sum", Language: "go", Code: "from db"}
	store := &fakeDraftStore{latest: stored}
	s := NewDraftService(store, rdb, time.Hour, zerolog.Nop())

	got, err := s.Latest(ctx, 7, "two-sum", "go")
	require.NoError(t, err)
	assert.Equal(t, "from db", got.Code)

	_, err = s.Latest(ctx, 7, "two-sum", "go")
	require.NoError(t, err)
	assert.EqualValues(t, 1, store.calls.Load(), "second read is served from the healed cache")
}

func TestDraftService_HealNeverOverwritesConcurrentSave(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	store := &fakeDraftStore{
		latest:  &model.CodeDraft{ProblemID: "two-sum", Language: "go", Code: "older row"},
		release: make(chan struct{}),
	}
	s := NewDraftService(store, rdb, time.Hour, zerolog.Nop())

	type result struct {
		d   *model.CodeDraft
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := s.Latest(ctx, 7, "two-sum", "go")
		done <- result{d, err}
	}()
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	saved, err := s.Save(ctx, 7, "two-sum", &model.SaveDraftRequest{Language: "go", Code: "newer save"})
	require.NoError(t, err)
	close(store.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, saved.ID, res.d.ID, "the reader sees the save that beat the heal")

	got, err := s.Latest(ctx, 7, "two-sum", "go")
	require.NoError(t, err)
	assert.Equal(t, "newer save", got.Code)
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestDraftService_LatestNotFound(t *testing.T) {
	rdb := newTestRedis(t)
	s := NewDraftService(&fakeDraftStore{err: pgx.ErrNoRows}, rdb, time.Hour, zerolog.Nop())

	_, err := s.Latest(context.Background(), 7, "two-sum", "go")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftService_LatestCollapsesConcurrentMisses(t *testing.T) {
	rdb := newTestRedis(t)
	store := &fakeDraftStore{latest: &model.CodeDraft{Code: "x"}, release: make(chan struct{})}
	s := NewDraftService(store, rdb, time.Hour, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Latest(context.Background(), 7, "two-sum", "go")
			assert.NoError(t, err)
		}()
	}
	// Let every reader reach the database call before it returns.
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.EqualValues(t, 1, store.calls.Load())
}

func TestDraftService_HistoryLimits(t *testing.T) {
	store := &fakeDraftStore{}
	s := NewDraftService(store, nil, time.Hour, zerolog.Nop())

	drafts, err := s.History(context.Background(), 7, "two-sum", "", 0)
	require.NoError(t, err)
	assert.NotNil(t, drafts)
	assert.Empty(t, drafts)
	assert.Equal(t, 20, store.gotLimit)

	_, err = s.History(context.Background(), 7, "two-sum", "", 500)
	require.NoError(t, err)
	assert.Equal(t, 20, store.gotLimit)

	_, err = s.History(context.Background(), 7, "two-sum", "", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, store.gotLimit)
}
