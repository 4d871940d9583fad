package http

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/service"
)

// ResourceHandlers serve article registration and metadata reads
type ResourceHandlers struct {
	resources *service.ResourceService
}

// NewResourceHandlers creates new resource handlers
func NewResourceHandlers(resources *service.ResourceService) *ResourceHandlers {
	return &ResourceHandlers{resources: resources}
}

type resourceResponse struct {
	ID          string    `json:"id"`
	OwnerWallet string    `json:"ownerWallet"`
	IsPublic    bool      `json:"isPublic"`
	CreatedAt   time.Time `json:"createdAt"`
	ContentKey  string    `json:"contentKey,omitempty"`
}

func newResourceResponse(r *core.Resource) resourceResponse {
	return resourceResponse{
		ID:          r.ID,
		OwnerWallet: r.OwnerWallet,
		IsPublic:    r.IsPublic,
		CreatedAt:   r.CreatedAt,
	}
}

// Register records a new article owned by the caller
func (h *ResourceHandlers) Register(c *gin.Context) {
	var req struct {
		ResourceID string `json:"resourceId" binding:"required"`
		IsPublic   bool   `json:"isPublic"`
		ContentKey string `json:"contentKey"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	var contentKey []byte
	if req.ContentKey != "" {
		var err error
		contentKey, err = base64.StdEncoding.DecodeString(req.ContentKey)
		if err != nil {
			fail(c, http.StatusBadRequest, "contentKey must be base64")
			return
		}
	}

	resource, key, err := h.resources.Register(c.Request.Context(), callerWallet(c), req.ResourceID, req.IsPublic, contentKey)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := newResourceResponse(resource)
	if key != nil {
		c.Header("Cache-Control", "no-store")
		resp.ContentKey = base64.StdEncoding.EncodeToString(key)
	}

	respond(c, http.StatusCreated, resp)
}

// ListMine returns the caller's articles
func (h *ResourceHandlers) ListMine(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	resources, err := h.resources.ListMine(c.Request.Context(), callerWallet(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]resourceResponse, 0, len(resources))
	for i := range resources {
		items = append(items, newResourceResponse(&resources[i]))
	}

	respond(c, http.StatusOK, gin.H{"items": items})
}

// Get returns an article's metadata and the caller's access to it
func (h *ResourceHandlers) Get(c *gin.Context) {
	access, err := h.resources.Get(c.Request.Context(), callerWallet(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	view := gin.H{
		"isOwner":   access.IsOwner,
		"granted":   access.Grant != nil,
		"active":    access.Active,
		"expiresAt": nil,
	}
	if access.Grant != nil {
		view["expiresAt"] = access.Grant.ExpiresAt
	}

	respond(c, http.StatusOK, gin.H{
		"resource": newResourceResponse(access.Resource),
		"access":   view,
	})
}
