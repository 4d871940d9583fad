// Package wallet handles wallet identities: base58-encoded Ed25519 public keys.
package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/layer-3/keyward/core"
	"github.com/mr-tron/base58"
)

// ParsePublicKey decodes a base58 wallet address into an Ed25519 public key
func ParsePublicKey(wallet string) (ed25519.PublicKey, error) {
	if wallet == "" {
		return nil, fmt.Errorf("%w: empty wallet", core.ErrInvalidWallet)
	}

	raw, err := base58.Decode(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidWallet, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: decoded key is %d bytes", core.ErrInvalidWallet, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}

// Validate reports whether wallet is a well-formed public key
func Validate(wallet string) error {
	_, err := ParsePublicKey(wallet)
	return err
}

// Encode returns the wallet address for a public key
func Encode(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// DecodeSignature decodes a base64 signature. Undecodable input yields nil,
// which Verify rejects.
func DecodeSignature(signature string) []byte {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil
	}
	return sig
}

// Verify reports whether signature is a valid Ed25519 signature of message by
// wallet. Every malformed input is a verification failure.
func Verify(message, signature []byte, wallet string) bool {
	pub, err := ParsePublicKey(wallet)
	if err != nil {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
