package ports

import (
	"context"
	"time"

	"github.com/layer-3/keyward/core"
)

// ChallengeStore holds single-use nonces keyed by subject
type ChallengeStore interface {
	// Issue creates a challenge for subject, replacing any live one
	Issue(ctx context.Context, subject string) (*core.Challenge, error)

	// Consume redeems the challenge for subject exactly once
	Consume(ctx context.Context, subject, nonce string) error
}

// RevocationStore is the deny-list for sessions ended by logout
type RevocationStore interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}

// GrantFilter narrows a grant listing
type GrantFilter struct {
	OwnerWallet string
	ResourceID  string // optional
	Limit       int
}

// GrantStore persists access grants
type GrantStore interface {
	// UpsertGrant creates or replaces the grant for (ResourceID, ViewerWallet)
	// and clears any revocation
	UpsertGrant(ctx context.Context, grant *core.AccessGrant) (*core.AccessGrant, error)

	// GetGrant returns core.ErrNotFound when no grant exists
	GetGrant(ctx context.Context, resourceID, viewerWallet string) (*core.AccessGrant, error)

	// RevokeGrant marks the grant revoked; the first revocation time is kept
	RevokeGrant(ctx context.Context, resourceID, viewerWallet string, at time.Time) (*core.AccessGrant, error)

	ListGrants(ctx context.Context, filter GrantFilter) ([]core.AccessGrant, error)
}

// ResourceStore persists registered resources and their wrapped keys
type ResourceStore interface {
	// CreateResource stores the resource and, for private resources, its
	// secret in one transaction
	CreateResource(ctx context.Context, resource *core.Resource, secret *core.ResourceSecret) error

	GetResource(ctx context.Context, resourceID string) (*core.Resource, error)
	ListResources(ctx context.Context, ownerWallet string, limit int) ([]core.Resource, error)
	GetSecret(ctx context.Context, resourceID string) (*core.ResourceSecret, error)
}
