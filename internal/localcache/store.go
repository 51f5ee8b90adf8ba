package localcache

import (
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned by a Store that refuses a write because it is full.
var ErrQuotaExceeded = errors.New("local store quota exceeded")

// Store is a synchronous, durable string key-value store.
type Store interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
}

// MemoryStore keeps items in process memory. A positive Quota caps the total
// number of bytes held across all values.
type MemoryStore struct {
	Quota int

	mu    sync.Mutex
	items map[string]string
	used  int
}

// NewMemoryStore creates an empty MemoryStore without a quota.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[string]string)
	}
	next := s.used - len(s.items[key]) + len(value)
	if s.Quota > 0 && next > s.Quota {
		return ErrQuotaExceeded
	}
	s.items[key] = value
	s.used = next
	return nil
}
