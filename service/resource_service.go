package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

const maxResourceIDLength = 128

// ResourceAccess is a resource as seen by one caller
type ResourceAccess struct {
	Resource *core.Resource
	IsOwner  bool
	Grant    *core.AccessGrant // nil when the caller holds no grant
	Active   bool              // the grant is active now
}

// ResourceService registers resources and authorizes metadata reads
type ResourceService struct {
	resources ports.ResourceStore
	grants    ports.GrantStore
	custodian ports.KeyCustodian

	options
}

// NewResourceService creates a new resource service
func NewResourceService(resources ports.ResourceStore, grants ports.GrantStore, custodian ports.KeyCustodian, opts ...Option) *ResourceService {
	return &ResourceService{
		resources: resources,
		grants:    grants,
		custodian: custodian,
		options:   newOptions(opts),
	}
}

// Register records a resource owned by owner. Private resources get a wrapped
// content key: contentKey if given, otherwise a fresh one. The plaintext key
// is returned once so the owner can encrypt the body; public resources
// return a nil key.
func (s *ResourceService) Register(ctx context.Context, owner, resourceID string, isPublic bool, contentKey []byte) (*core.Resource, []byte, error) {
	if resourceID == "" || len(resourceID) > maxResourceIDLength {
		return nil, nil, fmt.Errorf("%w: resource id must be 1-%d characters", core.ErrInvalidInput, maxResourceIDLength)
	}
	if isPublic && len(contentKey) > 0 {
		return nil, nil, fmt.Errorf("%w: public resources have no content key", core.ErrInvalidInput)
	}

	now := s.now()
	resource := &core.Resource{
		ID:          resourceID,
		OwnerWallet: owner,
		IsPublic:    isPublic,
		CreatedAt:   now,
	}

	if isPublic {
		if err := s.resources.CreateResource(ctx, resource, nil); err != nil {
			return nil, nil, err
		}
		return resource, nil, nil
	}

	key := contentKey
	if len(key) == 0 {
		generated, err := core.NewContentKey()
		if err != nil {
			return nil, nil, err
		}
		key = generated
	}
	if len(key) != core.ContentKeySize {
		return nil, nil, fmt.Errorf("%w: content key must be %d bytes", core.ErrInvalidInput, core.ContentKeySize)
	}

	wrapped, err := s.custodian.Wrap(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap content key: %w", err)
	}

	secret := &core.ResourceSecret{
		ResourceID:   resourceID,
		EncryptedKey: wrapped,
		CreatedAt:    now,
	}
	if err := s.resources.CreateResource(ctx, resource, secret); err != nil {
		return nil, nil, err
	}

	return resource, key, nil
}

// Get returns a resource if caller may read it: it is public, caller owns it,
// or caller holds an active grant
func (s *ResourceService) Get(ctx context.Context, caller, resourceID string) (*ResourceAccess, error) {
	resource, err := s.resources.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	access := &ResourceAccess{
		Resource: resource,
		IsOwner:  resource.OwnerWallet == caller,
	}

	grant, err := s.grants.GetGrant(ctx, resourceID, caller)
	switch {
	case err == nil:
		access.Grant = grant
		access.Active = grant.IsActive(s.now())
	case !errors.Is(err, core.ErrNotFound):
		return nil, err
	}

	if !resource.IsPublic && !access.IsOwner && !access.Active {
		return nil, core.ErrAccessDenied
	}

	return access, nil
}

// ListMine returns the caller's resources, newest first
func (s *ResourceService) ListMine(ctx context.Context, owner string, limit int) ([]core.Resource, error) {
	return s.resources.ListResources(ctx, owner, limit)
}
