package store

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

// sweepThreshold is the map size above which Issue drops expired entries
const sweepThreshold = 1024

// MemoryChallengeStore keeps challenges in process memory. Issue and Consume
// are serialised by one mutex, so consumption is exactly-once within a
// single instance only.
type MemoryChallengeStore struct {
	challenges map[string]core.Challenge
	ttl        time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// NewMemoryChallengeStore creates a new in-memory challenge store
func NewMemoryChallengeStore(ttl time.Duration, now func() time.Time) ports.ChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]core.Challenge),
		ttl:        ttl,
		now:        clockOrDefault(now),
	}
}

// Issue creates a challenge for subject, overwriting any live one
func (s *MemoryChallengeStore) Issue(ctx context.Context, subject string) (*core.Challenge, error) {
	now := s.now()
	challenge, err := newChallenge(subject, now, s.ttl)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.challenges) > sweepThreshold {
		for key, c := range s.challenges {
			if c.Expired(now) {
				delete(s.challenges, key)
			}
		}
	}
	s.challenges[subject] = *challenge

	return challenge, nil
}

// Consume redeems the challenge for subject
func (s *MemoryChallengeStore) Consume(ctx context.Context, subject, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[subject]
	if !ok {
		return core.ErrNoActiveChallenge
	}

	if challenge.Expired(s.now()) {
		delete(s.challenges, subject)
		return core.ErrChallengeExpired
	}

	if subtle.ConstantTimeCompare([]byte(challenge.Nonce), []byte(nonce)) != 1 {
		return core.ErrInvalidNonce
	}

	delete(s.challenges, subject)
	return nil
}
