package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/rs/zerolog/log"
)

const (
	msgInvalidRequest = "invalid request"
	msgBearer         = "invalid or missing bearer token"
	msgSessionExpired = "session expired"
	msgInternal       = "internal server error"
	msgRateLimited    = "too many requests"
)

// respond writes the success envelope
func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// fail writes the failure envelope
func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// statusFor maps a service error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidWallet),
		errors.Is(err, core.ErrNoActiveChallenge),
		errors.Is(err, core.ErrChallengeExpired),
		errors.Is(err, core.ErrInvalidNonce):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenInvalidated):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrUnauthorized),
		errors.Is(err, core.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict
	}
	// Misconfiguration, corrupt custody data and infrastructure failures
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes the failure envelope. Server
// errors are logged and never echoed to the client.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
		fail(c, status, msgInternal)
		return
	}

	msg := err.Error()
	if errors.Is(err, core.ErrTokenExpired) {
		msg = msgSessionExpired
	}
	fail(c, status, msg)
}
