package track

import (
	"sync"
	"time"
)

// ttlStore is a mutex-guarded map whose entries are logically absent once
// older than the TTL. Expired entries are swept on every insert, so no
// background eviction goroutine is needed; the map stays bounded by the
// insert rate within one TTL window.
type ttlStore[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry[T]
}

type ttlEntry[T any] struct {
	value    T
	markedAt time.Time
}

func newTTLStore[T any](ttl time.Duration) *ttlStore[T] {
	return &ttlStore[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]ttlEntry[T]),
	}
}

// setIfAbsent inserts value under key unless a fresh entry already exists.
// Returns true if the insert happened. The check and the insert are atomic,
// so two concurrent callers for the same key cannot both win.
func (s *ttlStore[T]) setIfAbsent(key string, value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	if _, ok := s.entries[key]; ok {
		return false
	}
	s.entries[key] = ttlEntry[T]{value: value, markedAt: now}
	return true
}

// set inserts or replaces the entry under key.
func (s *ttlStore[T]) set(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)
	s.entries[key] = ttlEntry[T]{value: value, markedAt: now}
}

// get returns the fresh entry under key, if any.
func (s *ttlStore[T]) get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().Sub(entry.markedAt) >= s.ttl {
		var zero T
		return zero, false
	}
	return entry.value, true
}

// delete removes the entry under key, fresh or not.
func (s *ttlStore[T]) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *ttlStore[T]) evictLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.Sub(entry.markedAt) >= s.ttl {
			delete(s.entries, key)
		}
	}
}
