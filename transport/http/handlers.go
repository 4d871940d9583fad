package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

type challengeResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"` // unix milliseconds
}

func newChallengeResponse(ch *core.Challenge) challengeResponse {
	return challengeResponse{Nonce: ch.Nonce, ExpiresAt: ch.ExpiresAt.UnixMilli()}
}

// Challenge handles the challenge request
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Wallet string `json:"wallet" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	challenge, err := h.authService.CreateChallenge(c.Request.Context(), req.Wallet)
	if err != nil {
		writeError(c, err)
		return
	}

	respond(c, http.StatusOK, newChallengeResponse(challenge))
}

// Verify redeems a signed challenge for a session token
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Wallet    string `json:"wallet" binding:"required"`
		Nonce     string `json:"nonce" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	token, session, err := h.authService.Login(c.Request.Context(), req.Wallet, req.Nonce, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"token":     token,
		"wallet":    session.Wallet,
		"expiresIn": formatTTL(session.ExpiresAt.Sub(session.IssuedAt)),
		"expiresAt": session.ExpiresAt.UnixMilli(),
	})
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), c.GetString(ctxSessionToken)); err != nil {
		writeError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns information about the authenticated wallet
func (h *AuthHandlers) Me(c *gin.Context) {
	value, exists := c.Get(ctxSession)
	session, ok := value.(*core.Session)
	if !exists || !ok {
		fail(c, http.StatusInternalServerError, msgInternal)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"wallet":    session.Wallet,
		"expiresAt": session.ExpiresAt.UnixMilli(),
	})
}

// formatTTL renders whole hours as "2h" and anything else as a Go duration
func formatTTL(d time.Duration) string {
	if d > 0 && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return d.String()
}
