package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/bionicpro/auth-service/internal/errors"
)

// InMemoryStore is a thread-safe in-memory implementation of Store. Entries
// carry an absolute deadline checked on every read, so expiry behaves like
// the Redis backend without a background sweeper. It backs unit tests and
// single-instance development deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	nowTime func() time.Time
}

type entry struct {
	value    []byte
	deadline time.Time // zero means no expiry
}

// NewInMemoryStore creates a new in-memory key-value store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]entry),
		nowTime: time.Now,
	}
}

// SetNowFunc overrides the clock (primarily for testing TTL behaviour).
func (s *InMemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowTime = now
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.Wrapf(errors.ErrStoreUnavailable, "key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deadline time.Time
	if ttl > 0 {
		deadline = s.nowTime().Add(ttl)
	}

	// Copy to prevent external modifications
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = entry{value: v, deadline: deadline}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) GetDel(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.getLocked(key)
	if err != nil {
		return nil, err
	}
	delete(s.entries, key)
	return value, nil
}

func (s *InMemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getLocked(key); err == nil {
		return false, nil
	}

	var deadline time.Time
	if ttl > 0 {
		deadline = s.nowTime().Add(ttl)
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = entry{value: v, deadline: deadline}
	return true, nil
}

func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}

// Len reports the number of live entries. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if _, err := s.getLocked(key); err == nil {
			n++
		}
	}
	return n
}

// getLocked returns a copy of the live value under key. Callers must hold mu.
func (s *InMemoryStore) getLocked(key string) ([]byte, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if !e.deadline.IsZero() && !s.nowTime().Before(e.deadline) {
		delete(s.entries, key)
		return nil, errors.ErrNotFound
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}
