package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/keyward/ports"
)

// MemoryStore is an in-memory session deny-list
type MemoryStore struct {
	invalidatedTokens map[string]time.Time
	now               func() time.Time
	mu                sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(now func() time.Time) ports.RevocationStore {
	return &MemoryStore{
		invalidatedTokens: make(map[string]time.Time),
		now:               clockOrDefault(now),
	}
}

// InvalidateToken marks a session as ended until expiry elapses
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, until := range s.invalidatedTokens {
		if !now.Before(until) {
			delete(s.invalidatedTokens, id)
		}
	}

	s.invalidatedTokens[tokenID] = now.Add(expiry)
	return nil
}

// IsTokenInvalidated checks if a session is on the deny-list
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	return s.now().Before(until), nil
}
