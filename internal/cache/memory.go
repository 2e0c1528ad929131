package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	purgeAt   time.Time
}

func (e memoryEntry) purged(now time.Time) bool {
	return !e.purgeAt.IsZero() && !now.Before(e.purgeAt)
}

// MemoryStore is an in-process Store for single-instance deployments and tests.
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.purged(s.opts.Now()) {
		return Entry{}, false, nil
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return Entry{Value: value, ExpiresAt: e.expiresAt}, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.opts.Now()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
		e.purgeAt = e.expiresAt.Add(s.opts.StaleRetention)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// IncrementWithTTL bumps a counter that resets once window has elapsed since its first increment.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.purged(now) {
		e = memoryEntry{value: []byte("0"), expiresAt: now.Add(window), purgeAt: now.Add(window)}
	}
	count, _ := strconv.ParseInt(string(e.value), 10, 64)
	count++
	e.value = []byte(strconv.FormatInt(count, 10))
	s.entries[key] = e

	return count, e.purgeAt.Sub(now), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Prune drops entries past their stale-retention window.
func (s *MemoryStore) Prune(_ context.Context) (int64, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, e := range s.entries {
		if e.purged(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
