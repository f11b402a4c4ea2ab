package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It suits a single replica and tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]Entry
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: map[string]Entry{}}
}

func (s *MemoryStore) live(key string) (Entry, bool) {
	entry, ok := s.entries[digest([]byte(key))]
	if !ok || !s.now().Before(entry.ExpiresAt) {
		return Entry{}, false
	}
	return entry, true
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, ttl time.Duration) (Entry, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.live(key); ok {
		outcome, err := outcomeOf(entry, fingerprint)
		return entry, outcome, err
	}
	entry := Entry{Fingerprint: fingerprint, ExpiresAt: s.now().Add(ttlOrDefault(ttl))}
	s.entries[digest([]byte(key))] = entry
	return entry, Fresh, nil
}

func (s *MemoryStore) Finish(_ context.Context, key, fingerprint string, resp Captured, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.live(key); ok && entry.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	captured := replayable(resp)
	s.entries[digest([]byte(key))] = Entry{
		Fingerprint: fingerprint,
		Response:    &captured,
		ExpiresAt:   s.now().Add(ttlOrDefault(ttl)),
	}
	return nil
}

func (s *MemoryStore) Abort(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.live(key); ok && entry.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	delete(s.entries, digest([]byte(key)))
	return nil
}

// Sweep drops up to limit expired entries; limit <= 0 means all of them.
func (s *MemoryStore) Sweep(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
