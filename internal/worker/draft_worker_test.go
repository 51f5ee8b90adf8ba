package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	mu       sync.Mutex
	inserted []uuid.UUID
	failures int
}

func (f *fakeInserter) Insert(_ context.Context, d *model.CodeDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("database unavailable")
	}
	f.inserted = append(f.inserted, d.ID)
	return nil
}

func (f *fakeInserter) ids() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.inserted...)
}

func payload(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	d := model.CodeDraft{
		ID:        uuid.New(),
		StudentID: 3,
		ProblemID: "two-sum",
		Language:  "go",
		Code:      "package main",
		SaveType:  model.SaveTypeAuto,
		CreatedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return d.ID, string(b)
}

func TestDraftWorker_Decode(t *testing.T) {
	w := NewDraftWorker(nil, nil, zerolog.Nop())

	id, raw := payload(t)
	d, ok := w.decode(raw)
	require.True(t, ok)
	assert.Equal(t, id, d.ID)

	for name, raw := range map[string]string{
		"not json":        "{",
		"missing id":      `{"student_id":3,"problem_id":"p","created_at":"2026-01-01T00:00:00Z"}`,
		"missing time":    `{"id":"` + uuid.NewString() + `","student_id":3,"problem_id":"p"}`,
		"missing owner":   `{"id":"` + uuid.NewString() + `","problem_id":"p","created_at":"2026-01-01T00:00:00Z"}`,
		"missing problem": `{"id":"` + uuid.NewString() + `","student_id":3,"created_at":"2026-01-01T00:00:00Z"}`,
	} {
		_, ok := w.decode(raw)
		assert.False(t, ok, name)
	}
}

func newTestWorker(t *testing.T, store DraftInserter) (*DraftWorker, *redis.Client) {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/13"
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("skip: redis not available: %v", err)
	}

	w := NewDraftWorker(store, rdb, zerolog.Nop())
	w.queue = "test:persist_drafts_queue:" + uuid.NewString()
	w.retryDelay = 10 * time.Millisecond
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), w.queue).Err()
		_ = rdb.Close()
	})
	return w, rdb
}

func TestDraftWorker_PersistsInOrderAndRetries(t *testing.T) {
	store := &fakeInserter{failures: 1}
	w, rdb := newTestWorker(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, raw1 := payload(t)
	second, raw2 := payload(t)
	require.NoError(t, rdb.RPush(ctx, w.queue, raw1, "garbage", raw2).Err())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(store.ids()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	// The failed first draft went to the back of the queue.
	assert.ElementsMatch(t, []uuid.UUID{first, second}, store.ids())
	n, err := rdb.LLen(context.Background(), w.queue).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "garbage is dropped, not re-queued")
}

func TestDraftWorker_DrainsOnShutdown(t *testing.T) {
	store := &fakeInserter{}
	w, rdb := newTestWorker(t, store)

	id, raw := payload(t)
	require.NoError(t, rdb.RPush(context.Background(), w.queue, raw).Err())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	assert.Equal(t, []uuid.UUID{id}, store.ids())
}
