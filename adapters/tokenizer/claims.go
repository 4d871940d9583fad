package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the standard claims of a session token; Subject carries
// the wallet and ID the session id used by the logout deny-list
type SessionClaims struct {
	jwt.RegisteredClaims
}
