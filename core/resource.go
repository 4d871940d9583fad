package core

import (
	"crypto/rand"
	"fmt"
	"time"
)

// ContentKeySize is the size of a resource's symmetric content key
const ContentKeySize = 32

// NewContentKey returns a fresh random content key
func NewContentKey() ([]byte, error) {
	key := make([]byte, ContentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	return key, nil
}

// Resource is the slice of article metadata the access-control core reads
type Resource struct {
	ID          string    // Article identifier
	OwnerWallet string    // Author wallet
	IsPublic    bool      // Public resources have no secret
	CreatedAt   time.Time // When the resource was registered
}

// ResourceSecret holds a resource's content key wrapped by the custodian
type ResourceSecret struct {
	ResourceID   string    // Resource the key decrypts
	EncryptedKey string    // base64(IV || TAG || CIPHERTEXT)
	CreatedAt    time.Time // When the key was wrapped
}
