// Owner inbox HTTP handlers
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// InboxHandler serves the owner inbox: the conversation list, selection,
// the human/AI handoff and human replies.
type InboxHandler struct {
	inboxes *service.InboxManager
	auth    *AuthHandler
}

func NewInboxHandler(inboxes *service.InboxManager, auth *AuthHandler) *InboxHandler {
	return &InboxHandler{inboxes: inboxes, auth: auth}
}

// RegisterRoutes registers inbox routes
func (h *InboxHandler) RegisterRoutes(r *gin.RouterGroup) {
	inbox := r.Group("/inbox", h.auth.RequireAuth())
	{
		inbox.GET("/conversations", h.List)
		inbox.POST("/conversations/:id/select", h.Select)
		inbox.POST("/conversations/deselect", h.Deselect)
		inbox.PATCH("/conversations/:id/ai-status", h.SetAIStatus)
		inbox.POST("/conversations/:id/reply", h.Reply)
	}
}

func (h *InboxHandler) session(c *gin.Context) *service.InboxSession {
	user := CurrentUser(c)
	return h.inboxes.Acquire(user.Email, user.IsAdmin)
}

// List refreshes and returns the inbox. Polled every few seconds by the
// dashboard.
// GET /api/inbox/conversations
func (h *InboxHandler) List(c *gin.Context) {
	snapshot, err := h.session(c).Refresh()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Select opens a conversation and marks it read.
// POST /api/inbox/conversations/:id/select
func (h *InboxHandler) Select(c *gin.Context) {
	conv, err := h.session(c).Select(c.Param("id"))
	if err != nil {
		writeConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Deselect closes the open conversation.
// POST /api/inbox/conversations/deselect
func (h *InboxHandler) Deselect(c *gin.Context) {
	h.session(c).Deselect()
	c.JSON(http.StatusOK, gin.H{"deselected": true})
}

// SetAIStatus flips the human/AI handoff.
// PATCH /api/inbox/conversations/:id/ai-status
func (h *InboxHandler) SetAIStatus(c *gin.Context) {
	var req models.AIStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.session(c).ToggleAI(c.Param("id"), req.Status)
	if err != nil {
		writeConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Reply sends a human reply. Only valid while the AI is paused.
// POST /api/inbox/conversations/:id/reply
func (h *InboxHandler) Reply(c *gin.Context) {
	var req models.HumanReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	msg, err := h.session(c).SendHumanReply(c.Param("id"), req.Text)
	if err != nil {
		if errors.Is(err, service.ErrAIActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "pause the ai before replying"})
			return
		}
		writeConversationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func writeConversationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
