package service

import (
	"context"
	"fmt"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/wallet"
	"github.com/layer-3/keyward/ports"
)

// GrantService lets resource owners give and take away read access
type GrantService struct {
	resources ports.ResourceStore
	grants    ports.GrantStore

	options
}

// NewGrantService creates a new grant service
func NewGrantService(resources ports.ResourceStore, grants ports.GrantStore, opts ...Option) *GrantService {
	return &GrantService{
		resources: resources,
		grants:    grants,
		options:   newOptions(opts),
	}
}

// Upsert creates the grant for viewer on resourceID or replaces it, setting a
// new expiry and clearing any revocation. Only the resource owner may call it.
func (s *GrantService) Upsert(ctx context.Context, caller, resourceID, viewer, duration string) (*core.AccessGrant, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", core.ErrInvalidInput)
	}
	if err := wallet.Validate(viewer); err != nil {
		return nil, err
	}
	d, err := core.ParseGrantDuration(duration)
	if err != nil {
		return nil, err
	}

	resource, err := s.resources.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if resource.OwnerWallet != caller {
		return nil, core.ErrUnauthorized
	}

	now := s.now()
	grant, err := s.grants.UpsertGrant(ctx, &core.AccessGrant{
		ResourceID:   resourceID,
		OwnerWallet:  caller,
		ViewerWallet: viewer,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    d.ExpiresAt(now),
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "grant."+core.GrantActionUpserted, func(ctx context.Context, p ports.EventPublisher) error {
		return p.PublishGrantChanged(ctx, core.GrantActionUpserted, grant)
	})

	return grant, nil
}

// Revoke marks the viewer's grant revoked. Revoking twice keeps the first
// revocation time.
func (s *GrantService) Revoke(ctx context.Context, caller, resourceID, viewer string) (*core.AccessGrant, error) {
	if resourceID == "" || viewer == "" {
		return nil, fmt.Errorf("%w: resource id and viewer wallet are required", core.ErrInvalidInput)
	}

	existing, err := s.grants.GetGrant(ctx, resourceID, viewer)
	if err != nil {
		return nil, err
	}
	if existing.OwnerWallet != caller {
		return nil, core.ErrUnauthorized
	}

	grant, err := s.grants.RevokeGrant(ctx, resourceID, viewer, s.now())
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "grant."+core.GrantActionRevoked, func(ctx context.Context, p ports.EventPublisher) error {
		return p.PublishGrantChanged(ctx, core.GrantActionRevoked, grant)
	})

	return grant, nil
}

// List returns the grants issued by caller, most recently changed first
func (s *GrantService) List(ctx context.Context, caller, resourceID string, limit int) ([]core.AccessGrant, error) {
	return s.grants.ListGrants(ctx, ports.GrantFilter{
		OwnerWallet: caller,
		ResourceID:  resourceID,
		Limit:       limit,
	})
}

// IsActive reports whether the grant allows access right now
func (s *GrantService) IsActive(grant *core.AccessGrant) bool {
	return grant.IsActive(s.now())
}
