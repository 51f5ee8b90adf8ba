// Package localcache is the best-effort durable copy of each draft, kept on
// the same machine as the editor so a reload shows the last typed content
// with no network round trip.
package localcache

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/draft"
)

// Error wraps any failure to serialize or store a draft locally. It is never
// fatal to the caller.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("local cache %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Key returns the store key for a subject/variant pair. Both parts are
// query-escaped so the ':' separators cannot appear inside them.
func Key(subjectID, variant string) string {
	return "code-draft:" + url.QueryEscape(subjectID) + ":" + url.QueryEscape(variant)
}

// legacyKey is the dash-joined key used before Key was escaped. It is only
// read; a hit is accepted when the embedded subject and variant match.
func legacyKey(subjectID, variant string) string {
	return fmt.Sprintf("code-draft-%s-%s", subjectID, variant)
}

// Cache reads and writes draft records on top of a Store.
type Cache struct {
	store Store
	log   zerolog.Logger
}

// New creates a Cache over store.
func New(store Store, log zerolog.Logger) *Cache {
	return &Cache{
		store: store,
		log:   log.With().Str("component", "local_cache").Logger(),
	}
}

// Read returns the cached record. Unreadable or mismatched entries are
// reported as absent.
func (c *Cache) Read(subjectID, variant string) (draft.Record, bool) {
	key := Key(subjectID, variant)

	raw, ok, err := c.store.GetItem(key)
	if err == nil && !ok {
		key = legacyKey(subjectID, variant)
		raw, ok, err = c.store.GetItem(key)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Local cache read failed")
		return draft.Record{}, false
	}
	if !ok {
		return draft.Record{}, false
	}

	var rec draft.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable local draft")
		return draft.Record{}, false
	}
	if rec.SubjectID != subjectID || rec.Variant != variant {
		return draft.Record{}, false
	}
	if rec.Origin == "" {
		rec.Origin = draft.OriginAuto
	}
	return rec, true
}

// Write stores rec under its subject/variant key.
func (c *Cache) Write(rec draft.Record) (err error) {
	key := Key(rec.SubjectID, rec.Variant)

	// Some stores panic on exhausted storage; treat that like any other failure.
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Key: key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if rec.Origin == "" {
		rec.Origin = draft.OriginAuto
	}
	rec.SavedAt = rec.SavedAt.UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return &Error{Key: key, Err: err}
	}
	if err := c.store.SetItem(key, string(raw)); err != nil {
		return &Error{Key: key, Err: err}
	}
	return nil
}
