package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local sliding window store. Suitable for
// single-instance deployments and tests; multi-instance deployments should
// use the Redis store so limits hold across replicas.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	kept := s.hits[key][:0]
	for _, hit := range s.hits[key] {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}

	if len(kept) >= limit {
		s.hits[key] = kept
		return false, len(kept), nil
	}

	kept = append(kept, now)
	s.hits[key] = kept
	return true, len(kept), nil
}

// Prune drops keys whose every hit has aged out of the window. Called
// periodically so idle keys do not accumulate.
func (s *MemoryStore) Prune(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	for key, hits := range s.hits {
		live := false
		for _, hit := range hits {
			if hit.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(s.hits, key)
		}
	}
}
