package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	reset time.Time
}

// MemoryStore is a single-process WindowStore. Expired windows are only
// removed by Sweep, or inline once MaxEntries is reached. When nothing has
// expired the window that resets first is evicted.
type MemoryStore struct {
	MaxEntries int

	mu sync.Mutex
	m  map[string]*window
}

// NewMemoryStore returns an empty store; maxEntries <= 0 means 100000.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	return &MemoryStore{MaxEntries: maxEntries, m: make(map[string]*window)}
}

// Take counts one request against key's window.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, win time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.m[key]
	if !ok {
		if len(s.m) >= s.MaxEntries {
			s.sweepLocked(now)
			if len(s.m) >= s.MaxEntries {
				s.evictOldestLocked()
			}
		}
		s.m[key] = &window{count: 1, reset: now.Add(win)}
		return Decision{Allowed: true}, nil
	}

	if now.After(w.reset) {
		w.count = 1
		w.reset = now.Add(win)
		return Decision{Allowed: true}, nil
	}
	if w.count < limit {
		w.count++
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: w.reset.Sub(now)}, nil
}

// Sweep removes windows whose reset time is before now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for k, w := range s.m {
		if now.After(w.reset) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// evictOldestLocked drops the window that resets first.
func (s *MemoryStore) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, w := range s.m {
		if oldest == "" || w.reset.Before(at) {
			oldest, at = k, w.reset
		}
	}
	delete(s.m, oldest)
}

// Len reports how many windows are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
