// Package ratelimit throttles the challenge and key-release endpoints. Each
// route keeps a separate token bucket per calling client, identified by
// wallet once a session is known and by remote address before that.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// Key selects one bucket
type Key struct {
	Route  string
	Client string
}

// WalletClient identifies an authenticated caller
func WalletClient(wallet string) string {
	return "wallet:" + wallet
}

// IPClient identifies an anonymous caller by address
func IPClient(ip string) string {
	return "ip:" + ip
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds token buckets keyed by route and client. A nil *Limiter
// allows everything.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	buckets   map[Key]*bucket
	lastSweep time.Time
}

// New creates a limiter refilling rps tokens per second up to burst. It
// returns nil when either is not positive.
func New(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[Key]*bucket),
	}
}

// Allow takes one token from the key's bucket. When the bucket is empty it
// returns false and the time until the next token.
func (l *Limiter) Allow(key Key, now time.Time) (bool, time.Duration) {
	if l == nil || key.Client == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.evictIdle(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}

	missing := 1 - b.limiter.TokensAt(now)
	wait := time.Duration(math.Ceil(missing / float64(l.limit) * float64(time.Second)))
	return false, wait
}

func (l *Limiter) evictIdle(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// Len returns the number of live buckets
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
