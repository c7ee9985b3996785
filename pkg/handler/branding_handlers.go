// Branding HTTP handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// BrandingHandler serves the customizable logo. Reading is public (the chat
// pages show it); writing requires the admin account.
type BrandingHandler struct {
	branding *service.BrandingService
	auth     *AuthHandler
}

func NewBrandingHandler(branding *service.BrandingService, auth *AuthHandler) *BrandingHandler {
	return &BrandingHandler{branding: branding, auth: auth}
}

// RegisterRoutes registers branding routes
func (h *BrandingHandler) RegisterRoutes(r *gin.RouterGroup) {
	branding := r.Group("/branding")
	{
		branding.GET("/logo", h.GetLogo)
		branding.PUT("/logo", h.auth.RequireAuth(), h.requireAdmin, h.SetLogo)
		branding.DELETE("/logo", h.auth.RequireAuth(), h.requireAdmin, h.ClearLogo)
	}
}

func (h *BrandingHandler) requireAdmin(c *gin.Context) {
	if user := CurrentUser(c); user == nil || !user.IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
	}
}

// GetLogo returns the stored logo data URL, empty when unset.
// GET /api/branding/logo
func (h *BrandingHandler) GetLogo(c *gin.Context) {
	dataURL, err := h.branding.GetLogo()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data_url": dataURL})
}

// SetLogo stores a new logo.
// PUT /api/branding/logo
func (h *BrandingHandler) SetLogo(c *gin.Context) {
	var req models.BrandingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.branding.SetLogo(req.DataURL); err != nil {
		if errors.Is(err, service.ErrLogoTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "logo exceeds size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// ClearLogo removes the logo.
// DELETE /api/branding/logo
func (h *BrandingHandler) ClearLogo(c *gin.Context) {
	if err := h.branding.ClearLogo(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
