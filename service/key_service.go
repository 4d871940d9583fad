package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/canonical"
	"github.com/layer-3/keyward/internal/wallet"
	"github.com/layer-3/keyward/ports"
)

// KeyService releases content keys to viewers holding an active grant
type KeyService struct {
	challenges ports.ChallengeStore
	grants     ports.GrantStore
	resources  ports.ResourceStore
	custodian  ports.KeyCustodian

	options
}

// NewKeyService creates a new key release service
func NewKeyService(
	challenges ports.ChallengeStore,
	grants ports.GrantStore,
	resources ports.ResourceStore,
	custodian ports.KeyCustodian,
	opts ...Option,
) *KeyService {
	return &KeyService{
		challenges: challenges,
		grants:     grants,
		resources:  resources,
		custodian:  custodian,
		options:    newOptions(opts),
	}
}

// RequestChallenge issues a nonce scoped to (resourceID, viewer). Viewers
// without an active grant get core.ErrAccessDenied and no challenge.
func (s *KeyService) RequestChallenge(ctx context.Context, viewer, resourceID string) (*core.Challenge, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", core.ErrInvalidInput)
	}

	if err := s.requireActiveGrant(ctx, viewer, resourceID); err != nil {
		return nil, err
	}

	challenge, err := s.challenges.Issue(ctx, core.KeyReleaseSubject(resourceID, viewer))
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	return challenge, nil
}

// ClaimKey returns the plaintext content key of resourceID. Every gate must
// pass in order: the nonce is consumed, the signed access-key proof verifies,
// the grant is still active, and the stored key unwraps.
func (s *KeyService) ClaimKey(ctx context.Context, viewer, resourceID, nonce, signature string) ([]byte, error) {
	if resourceID == "" || nonce == "" || signature == "" {
		return nil, fmt.Errorf("%w: resource id, nonce and signature are required", core.ErrInvalidInput)
	}

	if err := s.challenges.Consume(ctx, core.KeyReleaseSubject(resourceID, viewer), nonce); err != nil {
		return nil, err
	}

	message, err := canonical.Marshal(core.AccessKeyProof(viewer, resourceID, nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof: %w", err)
	}
	if !wallet.Verify(message, wallet.DecodeSignature(signature), viewer) {
		return nil, core.ErrInvalidSignature
	}

	// The grant may have been revoked since the challenge was issued
	if err := s.requireActiveGrant(ctx, viewer, resourceID); err != nil {
		return nil, err
	}

	secret, err := s.resources.GetSecret(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	key, err := s.custodian.Unwrap(secret.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap content key for %s: %w", resourceID, err)
	}

	s.publish(ctx, "key.released", func(ctx context.Context, p ports.EventPublisher) error {
		return p.PublishKeyReleased(ctx, resourceID, viewer)
	})

	return key, nil
}

func (s *KeyService) requireActiveGrant(ctx context.Context, viewer, resourceID string) error {
	grant, err := s.grants.GetGrant(ctx, resourceID, viewer)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrAccessDenied
	}
	if err != nil {
		return err
	}
	if !grant.IsActive(s.now()) {
		return core.ErrAccessDenied
	}
	return nil
}
