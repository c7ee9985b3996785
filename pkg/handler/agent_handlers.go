// Agent management HTTP handlers - the owner dashboard surface
package handler

import (
	"errors"
	"net/http"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// AgentHandler handles agent CRUD for authenticated owners.
type AgentHandler struct {
	agents *service.AgentService
	auth   *AuthHandler
}

func NewAgentHandler(agents *service.AgentService, auth *AuthHandler) *AgentHandler {
	return &AgentHandler{agents: agents, auth: auth}
}

// RegisterRoutes registers agent routes
func (h *AgentHandler) RegisterRoutes(r *gin.RouterGroup) {
	agents := r.Group("/agents", h.auth.RequireAuth())
	{
		agents.GET("", h.List)
		agents.POST("", h.Create)
		agents.GET("/:id", h.Get)
		agents.PUT("/:id", h.Update)
		agents.PATCH("/:id/status", h.SetStatus)
		agents.DELETE("/:id", h.Delete)
	}
}

// List returns the caller's agents. Admins see all.
// GET /api/agents
func (h *AgentHandler) List(c *gin.Context) {
	user := CurrentUser(c)
	agents, err := h.agents.List(user.Email, user.IsAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// Create creates an agent owned by the caller.
// POST /api/agents
func (h *AgentHandler) Create(c *gin.Context) {
	var req models.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agents.Create(CurrentUser(c).Email, &req)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// Get returns one agent.
// GET /api/agents/:id
func (h *AgentHandler) Get(c *gin.Context) {
	agent, ok := h.ownedAgent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, agent)
}

// Update replaces an agent's configuration.
// PUT /api/agents/:id
func (h *AgentHandler) Update(c *gin.Context) {
	if _, ok := h.ownedAgent(c); !ok {
		return
	}

	var req models.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agents.Update(c.Param("id"), &req)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// SetStatus toggles an agent between active and inactive.
// PATCH /api/agents/:id/status
func (h *AgentHandler) SetStatus(c *gin.Context) {
	if _, ok := h.ownedAgent(c); !ok {
		return
	}

	var req models.AgentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agents.SetStatus(c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, service.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, agent)
}

// Delete removes an agent.
// DELETE /api/agents/:id
func (h *AgentHandler) Delete(c *gin.Context) {
	if _, ok := h.ownedAgent(c); !ok {
		return
	}

	if err := h.agents.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ownedAgent loads the agent and enforces ownership. Admins can touch any
// agent.
func (h *AgentHandler) ownedAgent(c *gin.Context) (*models.Agent, bool) {
	agent, err := h.agents.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}

	user := CurrentUser(c)
	if !user.IsAdmin && agent.OwnerEmail != user.Email {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your agent"})
		return nil, false
	}
	return agent, true
}

func writeAgentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "url slug already in use"})
	case errors.Is(err, service.ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url slug"})
	case errors.Is(err, service.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
