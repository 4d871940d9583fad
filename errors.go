package keyward

import (
	"errors"
	"fmt"
	"strings"

	"github.com/layer-3/keyward/core"
)

var (
	// ErrNotLoggedIn is returned when a call needs a session the client does not have
	ErrNotLoggedIn = errors.New("client is not logged in")

	// ErrUnexpectedResponse is returned when the server answers outside the envelope
	ErrUnexpectedResponse = errors.New("unexpected response from server")
)

// serverErrors are the sentinels whose text appears in server error messages
var serverErrors = []error{
	core.ErrInvalidWallet,
	core.ErrNoActiveChallenge,
	core.ErrChallengeExpired,
	core.ErrInvalidNonce,
	core.ErrInvalidSignature,
	core.ErrUnauthorized,
	core.ErrAccessDenied,
	core.ErrNotFound,
	core.ErrAlreadyExists,
	core.ErrInvalidInput,
}

// APIError is a failure envelope returned by the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keyward: %d %s", e.Status, e.Message)
}

// Unwrap lets callers match server errors with errors.Is against core sentinels
func (e *APIError) Unwrap() error {
	switch e.Message {
	case "session expired":
		return core.ErrTokenExpired
	case "invalid or missing bearer token":
		return core.ErrInvalidToken
	}
	for _, sentinel := range serverErrors {
		if strings.Contains(e.Message, sentinel.Error()) {
			return sentinel
		}
	}
	return nil
}
