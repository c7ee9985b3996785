package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ConversationCreated       = "conversation.created"
	ConversationUpdated       = "conversation.updated"
	ConversationStatusChanged = "conversation.statusChanged"
	AgentCreated              = "agent.created"
	AgentUpdated              = "agent.updated"
	AgentDeleted              = "agent.deleted"
	BrandingChanged           = "branding.changed"
)

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationCreatedEvent is emitted when a lead opens a new conversation.
type ConversationCreatedEvent struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	OwnerEmail     string `json:"owner_email"`
}

func (e ConversationCreatedEvent) EventName() string { return ConversationCreated }

// ConversationUpdatedEvent is emitted when messages are appended or replaced,
// or the read flag changes. Clients re-fetch the conversation on receipt.
type ConversationUpdatedEvent struct {
	ConversationID string `json:"conversation_id"`
	OwnerEmail     string `json:"owner_email"`
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

// ConversationStatusChangedEvent is emitted on a human/AI handoff.
type ConversationStatusChangedEvent struct {
	ConversationID string `json:"conversation_id"`
	OwnerEmail     string `json:"owner_email"`
	AIStatus       string `json:"ai_status"`
}

func (e ConversationStatusChangedEvent) EventName() string { return ConversationStatusChanged }

// ============================================================================
// Agent Events
// ============================================================================

// AgentCreatedEvent is emitted when an owner creates an agent.
type AgentCreatedEvent struct {
	AgentID    string `json:"agent_id"`
	OwnerEmail string `json:"owner_email"`
}

func (e AgentCreatedEvent) EventName() string { return AgentCreated }

// AgentUpdatedEvent is emitted on any agent mutation, including status
// toggles and credential changes.
type AgentUpdatedEvent struct {
	AgentID    string `json:"agent_id"`
	OwnerEmail string `json:"owner_email"`
}

func (e AgentUpdatedEvent) EventName() string { return AgentUpdated }

// AgentDeletedEvent is emitted when an agent is removed.
type AgentDeletedEvent struct {
	AgentID    string `json:"agent_id"`
	OwnerEmail string `json:"owner_email"`
}

func (e AgentDeletedEvent) EventName() string { return AgentDeleted }

// ============================================================================
// Branding Events
// ============================================================================

// BrandingChangedEvent is emitted when the logo is saved or removed.
type BrandingChangedEvent struct{}

func (e BrandingChangedEvent) EventName() string { return BrandingChanged }
