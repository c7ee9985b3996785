// Public chat HTTP handlers - the lead-facing surface
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// leadCookieName identifies a returning lead so they reattach to their
// earlier conversation with the same agent.
const leadCookieName = "agentdesk_lead"

// ChatHandler serves the public chat pages at /chat/:slug. No auth; the slug
// is the capability.
type ChatHandler struct {
	agents   *service.AgentService
	sessions *service.SessionManager
}

func NewChatHandler(agents *service.AgentService, sessions *service.SessionManager) *ChatHandler {
	return &ChatHandler{
		agents:   agents,
		sessions: sessions,
	}
}

// RegisterRoutes registers public chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	chat := r.Group("/chat")
	{
		chat.GET("/:slug", h.GetAgentCard)
		chat.GET("/:slug/transcript", h.GetTranscript)
		chat.POST("/:slug/messages", h.SendMessage)
	}
}

// GetAgentCard resolves a public chat URL.
// GET /api/chat/:slug
func (h *ChatHandler) GetAgentCard(c *gin.Context) {
	agent, err := h.agents.ResolveSlug(c.Param("slug"))
	if err != nil {
		writeResolveError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AgentCard{
		ID:      agent.ID,
		Name:    agent.Name,
		URLSlug: agent.URLSlug,
	})
}

// GetTranscript returns the lead's current transcript. Polled every few
// seconds by the chat page.
// GET /api/chat/:slug/transcript
func (h *ChatHandler) GetTranscript(c *gin.Context) {
	agent, err := h.agents.ResolveSlug(c.Param("slug"))
	if err != nil {
		writeResolveError(c, err)
		return
	}

	sess, leadToken := h.sessions.Acquire(agent, h.leadToken(c))
	h.setLeadCookie(c, leadToken)

	snapshot, err := sess.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// SendMessage submits one lead turn and streams the reply over SSE. While
// the owner has taken over, the stream carries only the final frame and no
// generated text.
// POST /api/chat/:slug/messages
func (h *ChatHandler) SendMessage(c *gin.Context) {
	agent, err := h.agents.ResolveSlug(c.Param("slug"))
	if err != nil {
		writeResolveError(c, err)
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	sess, leadToken := h.sessions.Acquire(agent, h.leadToken(c))
	h.setLeadCookie(c, leadToken)

	chunks, err := sess.SubmitText(c.Request.Context(), req.Text)
	if err != nil {
		if errors.Is(err, service.ErrSendInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	sseWriter := NewSSEWriter(c.Writer)
	for chunk := range chunks {
		if err := sseWriter.WriteEvent("", chunk); err != nil {
			break
		}
	}
	sseWriter.WriteDone()
}

func (h *ChatHandler) leadToken(c *gin.Context) string {
	token, err := c.Cookie(leadCookieName)
	if err != nil {
		return ""
	}
	return token
}

func (h *ChatHandler) setLeadCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(leadCookieName, token, 3600*24*365, "/", "", false, true)
}

// writeResolveError maps slug resolution failures: an unknown slug and a
// deactivated agent render different pages.
func writeResolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, service.ErrAgentUnavailable):
		c.JSON(http.StatusForbidden, gin.H{"error": "agent unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// SSEWriter wraps gin.ResponseWriter for proper SSE streaming
type SSEWriter struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w gin.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{
		writer:  w,
		flusher: flusher,
	}
}

// WriteEvent writes an SSE event
func (w *SSEWriter) WriteEvent(event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if event != "" {
		fmt.Fprintf(w.writer, "event: %s\n", event)
	}
	fmt.Fprintf(w.writer, "data: %s\n\n", jsonData)

	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// WriteDone writes the done event
func (w *SSEWriter) WriteDone() {
	fmt.Fprintf(w.writer, "data: [DONE]\n\n")
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
