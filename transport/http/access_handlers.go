package http

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/service"
)

// AccessHandlers serve grant management and key release
type AccessHandlers struct {
	grants *service.GrantService
	keys   *service.KeyService
}

// NewAccessHandlers creates new access-control handlers
func NewAccessHandlers(grants *service.GrantService, keys *service.KeyService) *AccessHandlers {
	return &AccessHandlers{grants: grants, keys: keys}
}

type grantResponse struct {
	ID           string     `json:"id"`
	ArticleID    string     `json:"articleId"`
	OwnerWallet  string     `json:"ownerWallet"`
	ViewerWallet string     `json:"viewerWallet"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	RevokedAt    *time.Time `json:"revokedAt"`
	Active       bool       `json:"active"`
}

func (h *AccessHandlers) grantResponse(g *core.AccessGrant) grantResponse {
	return grantResponse{
		ID:           g.ID,
		ArticleID:    g.ResourceID,
		OwnerWallet:  g.OwnerWallet,
		ViewerWallet: g.ViewerWallet,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
		ExpiresAt:    g.ExpiresAt,
		RevokedAt:    g.RevokedAt,
		Active:       h.grants.IsActive(g),
	}
}

// ListGrants returns the caller's grants, optionally for one article
func (h *AccessHandlers) ListGrants(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	grants, err := h.grants.List(c.Request.Context(), callerWallet(c), c.Query("articleId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]grantResponse, 0, len(grants))
	for i := range grants {
		items = append(items, h.grantResponse(&grants[i]))
	}

	respond(c, http.StatusOK, gin.H{"items": items})
}

// UpsertGrant creates or renews a viewer's grant
func (h *AccessHandlers) UpsertGrant(c *gin.Context) {
	var req struct {
		ArticleID    string `json:"articleId" binding:"required"`
		ViewerWallet string `json:"viewerWallet" binding:"required"`
		ExpiresIn    string `json:"expiresIn" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	grant, err := h.grants.Upsert(c.Request.Context(), callerWallet(c), req.ArticleID, req.ViewerWallet, req.ExpiresIn)
	if err != nil {
		writeError(c, err)
		return
	}

	respond(c, http.StatusOK, h.grantResponse(grant))
}

// RevokeGrant revokes a viewer's grant
func (h *AccessHandlers) RevokeGrant(c *gin.Context) {
	var req struct {
		ArticleID    string `json:"articleId" binding:"required"`
		ViewerWallet string `json:"viewerWallet" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	grant, err := h.grants.Revoke(c.Request.Context(), callerWallet(c), req.ArticleID, req.ViewerWallet)
	if err != nil {
		writeError(c, err)
		return
	}

	respond(c, http.StatusOK, h.grantResponse(grant))
}

// KeyChallenge issues a key release nonce to a viewer with an active grant
func (h *AccessHandlers) KeyChallenge(c *gin.Context) {
	var req struct {
		ArticleID string `json:"articleId" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	challenge, err := h.keys.RequestChallenge(c.Request.Context(), callerWallet(c), req.ArticleID)
	if err != nil {
		writeError(c, err)
		return
	}

	respond(c, http.StatusOK, newChallengeResponse(challenge))
}

// ClaimKey releases the article's content key
func (h *AccessHandlers) ClaimKey(c *gin.Context) {
	var req struct {
		ArticleID string `json:"articleId" binding:"required"`
		Nonce     string `json:"nonce" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	key, err := h.keys.ClaimKey(c.Request.Context(), callerWallet(c), req.ArticleID, req.Nonce, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	respond(c, http.StatusOK, gin.H{"key": base64.StdEncoding.EncodeToString(key)})
}

// queryLimit parses the optional limit query parameter. It writes a 400 and
// returns false when the value is not a number.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		fail(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
