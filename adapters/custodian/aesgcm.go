package custodian

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

const (
	ivSize  = 12
	tagSize = 16
)

// AESGCMCustodian wraps content keys under a single AES-256-GCM master key.
// Wrapped form is base64(IV || TAG || CIPHERTEXT).
type AESGCMCustodian struct {
	aead cipher.AEAD
}

var _ ports.KeyCustodian = (*AESGCMCustodian)(nil)

// New derives the master key as SHA-256 of secret.
func New(secret string) (*AESGCMCustodian, error) {
	if secret == "" {
		return nil, fmt.Errorf("custodian secret is empty: %w", core.ErrMisconfigured)
	}
	master := sha256.Sum256([]byte(secret))
	return NewWithKey(master[:])
}

// NewWithKey creates a custodian from a raw 32-byte master key
func NewWithKey(master []byte) (*AESGCMCustodian, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d: %w", len(master), core.ErrMisconfigured)
	}

	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMCustodian{aead: aead}, nil
}

// Wrap encrypts a 32-byte content key under a fresh random IV
func (c *AESGCMCustodian) Wrap(key []byte) (string, error) {
	if len(key) != core.ContentKeySize {
		return "", fmt.Errorf("content key is %d bytes: %w", len(key), core.ErrInvalidKeyLength)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal appends CT || TAG; the stored layout puts the tag first
	sealed := c.aead.Seal(nil, iv, key, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, ivSize+tagSize+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Unwrap authenticates and decrypts a wrapped content key
func (c *AESGCMCustodian) Unwrap(wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("wrapped key is not base64: %w", core.ErrInvalidPayload)
	}
	if len(raw) < ivSize+tagSize+1 {
		return nil, fmt.Errorf("wrapped key is %d bytes: %w", len(raw), core.ErrInvalidPayload)
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+tagSize]
	ct := raw[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	key, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapped key failed authentication: %w", core.ErrInvalidPayload)
	}
	if len(key) != core.ContentKeySize {
		return nil, fmt.Errorf("unwrapped key is %d bytes: %w", len(key), core.ErrInvalidKeyLength)
	}

	return key, nil
}
