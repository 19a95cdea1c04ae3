// Package sessions keeps short-lived, process-local interaction state such as
// open payment sheets and scanner sessions. Nothing here survives a restart.
package sessions

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value   T
	owner   string
	touched time.Time
}

// Store maps ids to values owned by one user. Entries idle longer than ttl
// are dropped lazily on the next write.
type Store[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*entry[T]
}

func NewStore[T any](ttl time.Duration) *Store[T] {
	return &Store[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
}

func (s *Store[T]) Put(id, owner string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	s.entries[id] = &entry[T]{value: value, owner: owner, touched: now}
}

// Get returns the value only to its owner and refreshes its idle timer.
func (s *Store[T]) Get(id, owner string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	e, ok := s.entries[id]
	if !ok || e.owner != owner {
		return zero, false
	}
	if s.ttl > 0 && s.now().Sub(e.touched) > s.ttl {
		delete(s.entries, id)
		return zero, false
	}
	e.touched = s.now()
	return e.value, true
}

// Find returns the value whatever its owner, without refreshing it. It is
// for bookkeeping by the service itself, never for caller lookups.
func (s *Store[T]) Find(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	e, ok := s.entries[id]
	if !ok || (s.ttl > 0 && s.now().Sub(e.touched) > s.ttl) {
		return zero, false
	}
	return e.value, true
}

func (s *Store[T]) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store[T]) sweep(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for id, e := range s.entries {
		if now.Sub(e.touched) > s.ttl {
			delete(s.entries, id)
		}
	}
}
