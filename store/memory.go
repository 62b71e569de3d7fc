package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// Expired entries are dropped when read. A full sweep runs on write once
// sweepInterval has passed since the last one or the map holds sweepThreshold
// entries.
const (
	sweepInterval  = time.Minute
	sweepThreshold = 4096
)

// MemoryStore is an in-process Store for single-instance deployments and tests.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]memEntry
	now       func() time.Time
	lastSweep time.Time
	// next map size that forces a sweep; doubles while live entries fill it
	threshold int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memEntry{}, now: time.Now, threshold: sweepThreshold}
}

// Set stores a value with no expiry. Used to seed price overrides.
func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	s.items[key] = memEntry{value: value}
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return "", NotFound, nil
	}
	if e.expired(s.now()) {
		delete(s.items, key)
		return "", NotFound, nil
	}
	return e.value, Found, nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key string) (Result, error) {
	_, res, err := s.Get(ctx, key)
	return res, err
}

// SetEX implements Store. A non-positive ttl stores without expiry.
func (s *MemoryStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.now()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.mu.Lock()
	if len(s.items) >= s.threshold || now.Sub(s.lastSweep) >= sweepInterval {
		s.sweepLocked(now)
	}
	s.items[key] = e
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.items)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range s.items {
		if e.expired(now) {
			delete(s.items, k)
		}
	}
	s.lastSweep = now
	s.threshold = sweepThreshold
	for len(s.items) >= s.threshold {
		s.threshold *= 2
	}
}
