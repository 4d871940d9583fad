package store

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps an expired challenge around long enough for Consume to
// report ErrChallengeExpired instead of ErrNoActiveChallenge
const expiryGrace = time.Minute

// consumeScript checks, compares and deletes in one server-side step. Expiry
// is judged from the key's remaining PTTL, so only the Redis clock counts: a
// challenge is live while more than the grace period is left.
// Returns 1 on success, 0 when absent, -1 when expired, -2 on nonce mismatch.
var consumeScript = redis.NewScript(`
local nonce = redis.call('HGET', KEYS[1], 'nonce')
if not nonce then
	return 0
end
if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[2]) then
	redis.call('DEL', KEYS[1])
	return -1
end
if nonce ~= ARGV[1] then
	return -2
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisChallengeStore shares challenges across service instances. The local
// clock only stamps the timestamps handed to clients; the challenge window is
// enforced by the key TTL on the Redis server, so instances with skewed
// clocks agree on expiry.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisChallengeStore creates a new Redis challenge store
func NewRedisChallengeStore(client *redis.Client, ttl time.Duration, now func() time.Time) ports.ChallengeStore {
	return &RedisChallengeStore{
		client: client,
		prefix: "keyward:challenge:",
		ttl:    ttl,
		now:    clockOrDefault(now),
	}
}

// Issue creates a challenge for subject, overwriting any live one
func (s *RedisChallengeStore) Issue(ctx context.Context, subject string) (*core.Challenge, error) {
	challenge, err := newChallenge(subject, s.now(), s.ttl)
	if err != nil {
		return nil, err
	}

	key := s.prefix + subject
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "nonce", challenge.Nonce)
		pipe.PExpire(ctx, key, s.ttl+expiryGrace)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// Consume redeems the challenge for subject
func (s *RedisChallengeStore) Consume(ctx context.Context, subject, nonce string) error {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + subject}, nonce, expiryGrace.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return core.ErrChallengeExpired
	case -2:
		return core.ErrInvalidNonce
	default:
		return core.ErrNoActiveChallenge
	}
}
