package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/layer-3/keyward/core"
)

const nonceSize = 16

func newChallenge(subject string, now time.Time, ttl time.Duration) (*core.Challenge, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: empty challenge subject", core.ErrInvalidInput)
	}

	nonceBytes := make([]byte, nonceSize)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Millisecond precision matches what clients receive and what Redis stores
	issuedAt := now.Truncate(time.Millisecond)
	return &core.Challenge{
		Subject:   subject,
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
