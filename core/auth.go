package core

import "time"

const (
	// ChallengeTTL bounds how long an issued nonce can be redeemed
	ChallengeTTL = 5 * time.Minute

	// SessionTTL bounds the lifetime of a bearer session
	SessionTTL = 2 * time.Hour
)

// Challenge represents a single-use nonce issued to a subject
type Challenge struct {
	Subject   string    // Wallet, or resource:wallet for key release
	Nonce     string    // 16 random bytes, hex encoded
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge stops being redeemable
}

// Expired reports whether the challenge can no longer be redeemed at now
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Session represents an authenticated wallet session
type Session struct {
	ID        string    // Unique session identifier (JWT ID)
	Wallet    string    // Base58 public key of the wallet
	IssuedAt  time.Time // When the session was created
	ExpiresAt time.Time // When the session expires
}

// KeyReleaseSubject scopes a key release challenge to one resource and one wallet
func KeyReleaseSubject(resourceID, wallet string) string {
	return resourceID + ":" + wallet
}
