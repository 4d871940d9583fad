package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

const AudienceSession = "session:access"

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret []byte
	now    func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer. A nil now uses time.Now.
func NewJWTTokenizer(secret []byte, now func() time.Time) ports.Tokenizer {
	if now == nil {
		now = time.Now
	}
	return &JWTTokenizer{secret: secret, now: now}
}

// SessionToToken converts a Session to a signed JWT
func (j *JWTTokenizer) SessionToToken(session *core.Session) (string, error) {
	if len(j.secret) == 0 {
		return "", fmt.Errorf("session signing secret: %w", core.ErrMisconfigured)
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Wallet,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession verifies a JWT and returns the session it carries.
// Expired tokens fail with core.ErrTokenExpired, anything else with
// core.ErrInvalidToken.
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	if len(j.secret) == 0 {
		return nil, fmt.Errorf("session signing secret: %w", core.ErrMisconfigured)
	}

	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AudienceSession),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse token: %w", core.ErrInvalidToken)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, core.ErrInvalidToken
	}

	return &core.Session{
		ID:        claims.ID,
		Wallet:    claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
