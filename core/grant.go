package core

import (
	"fmt"
	"time"
)

// GrantDuration is the closed set of lifetimes an owner can give a grant
type GrantDuration string

const (
	GrantDuration24h       GrantDuration = "24h"
	GrantDuration7d        GrantDuration = "7d"
	GrantDuration30d       GrantDuration = "30d"
	GrantDurationUnlimited GrantDuration = "unlimited"
)

// ParseGrantDuration maps a request value onto a GrantDuration.
// Unknown values are rejected rather than defaulted.
func ParseGrantDuration(s string) (GrantDuration, error) {
	switch d := GrantDuration(s); d {
	case GrantDuration24h, GrantDuration7d, GrantDuration30d, GrantDurationUnlimited:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown grant duration %q", ErrInvalidInput, s)
}

// Duration returns the grant lifetime. ok is false for unlimited grants.
func (d GrantDuration) Duration() (lifetime time.Duration, ok bool) {
	switch d {
	case GrantDuration24h:
		return 24 * time.Hour, true
	case GrantDuration7d:
		return 7 * 24 * time.Hour, true
	case GrantDuration30d:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// ExpiresAt returns the absolute expiry for a grant created at now, or nil
// when the grant never expires.
func (d GrantDuration) ExpiresAt(now time.Time) *time.Time {
	lifetime, ok := d.Duration()
	if !ok {
		return nil
	}
	t := now.Add(lifetime)
	return &t
}

// AccessGrant lets one viewer wallet read one resource
type AccessGrant struct {
	ID           string     // Unique grant identifier
	ResourceID   string     // Resource the grant applies to
	OwnerWallet  string     // Owner that issued the grant
	ViewerWallet string     // Wallet that receives access
	CreatedAt    time.Time  // First time the grant was issued
	UpdatedAt    time.Time  // Last upsert or revocation
	ExpiresAt    *time.Time // nil means unlimited
	RevokedAt    *time.Time // nil means not revoked
}

// IsActive reports whether the grant allows access at now
func (g *AccessGrant) IsActive(now time.Time) bool {
	if g == nil || g.RevokedAt != nil {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Grant change actions reported to event subscribers
const (
	GrantActionUpserted = "upserted"
	GrantActionRevoked  = "revoked"
)
