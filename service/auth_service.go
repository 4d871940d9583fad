package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/canonical"
	"github.com/layer-3/keyward/internal/wallet"
	"github.com/layer-3/keyward/ports"
)

// AuthService handles authentication business logic
type AuthService struct {
	challenges  ports.ChallengeStore
	tokenizer   ports.Tokenizer
	revocations ports.RevocationStore

	options
}

// NewAuthService creates a new authentication service
func NewAuthService(
	challenges ports.ChallengeStore,
	tokenizer ports.Tokenizer,
	revocations ports.RevocationStore,
	opts ...Option,
) *AuthService {
	return &AuthService{
		challenges:  challenges,
		tokenizer:   tokenizer,
		revocations: revocations,
		options:     newOptions(opts),
	}
}

// CreateChallenge issues a login nonce for a wallet, replacing any
// outstanding one
func (s *AuthService) CreateChallenge(ctx context.Context, walletKey string) (*core.Challenge, error) {
	if err := wallet.Validate(walletKey); err != nil {
		return nil, err
	}

	challenge, err := s.challenges.Issue(ctx, walletKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	return challenge, nil
}

// Login redeems the wallet's challenge and, if the signature over the
// canonical auth proof verifies, issues a session token.
// The challenge is consumed even when the signature turns out to be invalid.
func (s *AuthService) Login(ctx context.Context, walletKey, nonce, signature string) (string, *core.Session, error) {
	if walletKey == "" || nonce == "" || signature == "" {
		return "", nil, fmt.Errorf("%w: wallet, nonce and signature are required", core.ErrInvalidInput)
	}

	if err := s.challenges.Consume(ctx, walletKey, nonce); err != nil {
		return "", nil, err
	}

	message, err := canonical.Marshal(core.AuthProof(walletKey, nonce))
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode proof: %w", err)
	}

	if !wallet.Verify(message, wallet.DecodeSignature(signature), walletKey) {
		return "", nil, core.ErrInvalidSignature
	}

	// Token timestamps carry whole seconds
	now := s.now().Truncate(time.Second)
	session := &core.Session{
		ID:        uuid.New().String(),
		Wallet:    walletKey,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return token, session, nil
}

// ValidateSession verifies a bearer token and checks it against the logout
// deny-list
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*core.Session, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return nil, err
	}

	// Signature is checked, but the clock may be ahead of the tokenizer's
	if !s.now().Before(session.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	if s.revocations != nil {
		invalidated, err := s.revocations.IsTokenInvalidated(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token invalidation: %w", err)
		}
		if invalidated {
			return nil, core.ErrTokenInvalidated
		}
	}

	return session, nil
}

// Logout ends a session before its expiry by deny-listing its id for the
// rest of its lifetime
func (s *AuthService) Logout(ctx context.Context, token string) error {
	session, err := s.ValidateSession(ctx, token)
	if err != nil {
		return err
	}

	if s.revocations == nil {
		return fmt.Errorf("session revocation store: %w", core.ErrMisconfigured)
	}

	remaining := session.ExpiresAt.Sub(s.now())
	if remaining < time.Second {
		remaining = time.Second
	}

	if err := s.revocations.InvalidateToken(ctx, session.ID, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	s.publish(ctx, "logout", func(ctx context.Context, p ports.EventPublisher) error {
		return p.PublishLogout(ctx, session.Wallet, session.ID)
	})

	return nil
}
