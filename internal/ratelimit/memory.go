package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxSize = 10000

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is the in-process Store implementation. It guards a single
// process's limits only: with multiple instances each enforces its own
// independent limit. Callers needing a global limit should use RedisStore.
//
// Capacity is bounded: inserting a new key at capacity first evicts the
// earliest-inserted key still tracked. Expired entries are removed lazily
// when observed by Get or Has; there is no background sweep.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[T]
	order   []string
	maxSize int
	now     func() time.Time
}

var _ Store[int] = (*MemoryStore[int])(nil)

// NewMemoryStore constructs a store bounded to maxSize entries. A maxSize
// of zero or less falls back to the default bound.
func NewMemoryStore[T any](maxSize int) *MemoryStore[T] {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &MemoryStore[T]{
		entries: make(map[string]memoryEntry[T]),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (s *MemoryStore[T]) Get(_ context.Context, key string) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	entry, ok := s.entries[key]
	if !ok {
		return zero, false, nil
	}
	if s.expired(entry) {
		s.remove(key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry[T]{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	if _, exists := s.entries[key]; exists {
		// Updates keep the key's original insertion position and never
		// count toward the size check.
		s.entries[key] = entry
		return nil
	}
	if len(s.entries) >= s.maxSize && len(s.order) > 0 {
		s.remove(s.order[0])
	}
	s.entries[key] = entry
	s.order = append(s.order, key)
	return nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	s.remove(key)
	return true, nil
}

func (s *MemoryStore[T]) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if s.expired(entry) {
		s.remove(key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore[T]) Size(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore[T]) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys, nil
}

func (s *MemoryStore[T]) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]memoryEntry[T])
	s.order = nil
	return nil
}

func (s *MemoryStore[T]) expired(entry memoryEntry[T]) bool {
	return !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)
}

// remove must be called with the mutex held.
func (s *MemoryStore[T]) remove(key string) {
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
