package api

import (
	"context"
	"sync"
	"time"
)

// NonceStore remembers claimed request nonces for a TTL.
type NonceStore interface {
	// Claim reports false if key was claimed before and has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is a NonceStore for a single API instance.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	seen   map[string]time.Time // key -> expiry
	claims int
}

// NewMemoryNonceStore creates a MemoryNonceStore. A nil now uses time.Now.
func NewMemoryNonceStore(now func() time.Time) *MemoryNonceStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryNonceStore{now: now, seen: make(map[string]time.Time)}
}

// Claim implements NonceStore.
func (s *MemoryNonceStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.claims++; s.claims%1024 == 0 {
		s.pruneLocked(now)
	}
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of remembered nonces, expired ones included.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *MemoryNonceStore) pruneLocked(now time.Time) {
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
		}
	}
}
