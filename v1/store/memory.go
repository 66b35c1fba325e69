package store

import (
	"context"
	"sync"
	"time"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

type memoryEntry struct {
	token string
	timer *time.Timer
}

// InMemory implements Store using local memory. It provides the same
// atomicity guarantees as the networked backends within a single process and
// is intended for tests and local development.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewInMemory returns a new in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]*memoryEntry)}
}

// TrySet implements Store.TrySet.
func (s *InMemory) TrySet(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, latcherrors.ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	e := &memoryEntry{token: token}
	e.timer = time.AfterFunc(ttl, func() {
		s.expire(key, e)
	})
	s.entries[key] = e
	return true, nil
}

// DeleteIfOwner implements Store.DeleteIfOwner.
func (s *InMemory) DeleteIfOwner(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.token != token {
		return false, nil
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true, nil
}

// ExtendIfOwner implements Store.ExtendIfOwner.
func (s *InMemory) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, latcherrors.ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.token != token {
		return false, nil
	}
	e.timer.Stop()
	e.timer = time.AfterFunc(ttl, func() {
		s.expire(key, e)
	})
	return true, nil
}

// expire removes an entry when its lease runs out. The entry pointer is
// compared so a timer firing late cannot remove a successor's lock.
func (s *InMemory) expire(key string, e *memoryEntry) {
	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}
