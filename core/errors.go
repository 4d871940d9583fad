package core

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidWallet     = errors.New("invalid wallet public key")
	ErrNoActiveChallenge = errors.New("no active challenge")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrInvalidNonce      = errors.New("invalid nonce")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUnauthorized      = errors.New("caller is not the resource owner")
	ErrAccessDenied      = errors.New("no active access grant")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidPayload    = errors.New("invalid encrypted key payload")
	ErrInvalidKeyLength  = errors.New("content key must be 32 bytes")
	ErrMisconfigured     = errors.New("server secret is not configured")

	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidToken     = errors.New("invalid token")

	ErrStoreOperationFailed = errors.New("store operation failed")
)
