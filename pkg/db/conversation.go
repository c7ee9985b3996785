// Database models for chat conversations
package db

import "time"

// Conversation is the shared record between one lead and one agent. It has
// two independent writers (the public chat session and the owner inbox); all
// mutations are id-scoped so neither side clobbers the other.
type Conversation struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	AgentID        string    `json:"agent_id" gorm:"index;size:36;not null"`
	OwnerEmail     string    `json:"owner_email" gorm:"index;size:254"`
	LeadIdentifier string    `json:"lead_identifier" gorm:"size:40"`
	LeadName       string    `json:"lead_name,omitempty" gorm:"size:200"`
	LeadEmail      string    `json:"lead_email,omitempty" gorm:"size:254"`
	AIStatus       string    `json:"ai_status" gorm:"size:20;default:'active'"` // active, paused
	IsReadByOwner  bool      `json:"is_read_by_owner" gorm:"default:false"`
	LastMessageAt  time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`

	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// AI status
const (
	AIStatusActive = "active"
	AIStatusPaused = "paused"
)
