// API types for the public chat surface and the owner inbox.
package models

import (
	"github.com/agentdesk/agentdesk/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type User = db.User
type Agent = db.Agent
type Attachment = db.Attachment
type Conversation = db.Conversation
type Message = db.Message
type MessageAttachment = db.MessageAttachment
type Citation = db.Citation
type Citations = db.Citations

// ========== Constant aliases from db package ==========

const (
	AgentStatusActive   = db.AgentStatusActive
	AgentStatusInactive = db.AgentStatusInactive
)

const (
	AIStatusActive = db.AIStatusActive
	AIStatusPaused = db.AIStatusPaused
)

const (
	SenderUser   = db.SenderUser
	SenderAgent  = db.SenderAgent
	SenderSystem = db.SenderSystem
)

const (
	SentByAI    = db.SentByAI
	SentByHuman = db.SentByHuman
)

const (
	UserStatusActive         = db.UserStatusActive
	UserStatusPendingPayment = db.UserStatusPendingPayment
)

const (
	AttachmentKindImage = db.AttachmentKindImage
	AttachmentKindVideo = db.AttachmentKindVideo
)

// ========== Public chat API types ==========

// AgentCard is the public projection of an agent served at its chat URL.
// It never exposes the system prompt or credentials.
type AgentCard struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URLSlug string `json:"url_slug"`
}

// SendMessageRequest is a lead's chat turn.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// TranscriptResponse is the poll answer for an open chat session.
type TranscriptResponse struct {
	ConversationID string    `json:"conversation_id"`
	AIStatus       string    `json:"ai_status"`
	Messages       []Message `json:"messages"`
}

// StreamChunk is one SSE frame of a streamed agent reply. Text carries the
// display text accumulated so far (directives already stripped); Citations is
// the latest-wins citation set; Final marks the persisted end of the turn.
type StreamChunk struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	Text           string     `json:"text"`
	Citations      []Citation `json:"citations,omitempty"`
	Final          bool       `json:"final,omitempty"`
	Message        *Message   `json:"message,omitempty"` // set on the final frame
	Error          string     `json:"error,omitempty"`
}

// ========== Owner API types ==========

// AgentRequest creates or updates an agent configuration.
type AgentRequest struct {
	Name           string              `json:"name"`
	URLSlug        string              `json:"url_slug"`
	SystemPrompt   string              `json:"system_prompt"`
	Status         string              `json:"status,omitempty"`
	APIKeyOverride string              `json:"api_key_override,omitempty"`
	Attachments    []AttachmentUpload  `json:"attachments,omitempty"`
}

// AttachmentUpload is one reference file submitted with an agent form.
type AttachmentUpload struct {
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	Base64Data string `json:"data"`
	SizeBytes  int64  `json:"size_bytes"`
}

// AgentStatusRequest toggles an agent between active and inactive.
type AgentStatusRequest struct {
	Status string `json:"status"`
}

// AIStatusRequest toggles the human/AI handoff on a conversation.
type AIStatusRequest struct {
	Status string `json:"status"`
}

// HumanReplyRequest is an owner's reply sent while the AI is paused.
type HumanReplyRequest struct {
	Text string `json:"text"`
}

// ConversationListResponse is the inbox list payload.
type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// ========== Auth / account API types ==========

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CheckoutRequest completes the simulated subscription payment for a
// pending account.
type CheckoutRequest struct {
	Email string `json:"email"`
}

// BrandingRequest uploads the logo as a data URL.
type BrandingRequest struct {
	DataURL string `json:"data_url"`
}
