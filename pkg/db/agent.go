package db

import "time"

// Agent is a configured chat persona exposed at a public URL slug.
type Agent struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"size:200;not null"`
	URLSlug      string    `json:"url_slug" gorm:"uniqueIndex;size:100;not null"`
	SystemPrompt string    `json:"system_prompt" gorm:"type:text"`
	Status       string    `json:"status" gorm:"size:20;default:'active'"` // active, inactive
	// Optional per-agent completion API key; empty means the account-level
	// fallback key is used.
	APIKeyOverride string     `json:"api_key_override,omitempty" gorm:"size:200"`
	OwnerEmail     string     `json:"owner_email" gorm:"index;size:254"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Attachments []Attachment `json:"attachments" gorm:"foreignKey:AgentID"`
}

func (Agent) TableName() string {
	return "agents"
}

// Agent status
const (
	AgentStatusActive   = "active"
	AgentStatusInactive = "inactive"
)

// Attachment is a reference file owned by exactly one agent. Generated text
// requests its display with an inline [SHOW_FILE:name] directive.
type Attachment struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	AgentID    string `json:"agent_id,omitempty" gorm:"index;size:36;not null"`
	Name       string `json:"name" gorm:"size:255;not null"`
	MimeType   string `json:"mime_type" gorm:"size:100;not null"`
	Base64Data string `json:"data" gorm:"type:text"`
	Kind       string `json:"kind" gorm:"size:10"` // image, video
	SizeBytes  int64  `json:"size_bytes"`
}

func (Attachment) TableName() string {
	return "agent_attachments"
}

// Attachment kinds
const (
	AttachmentKindImage = "image"
	AttachmentKindVideo = "video"
)
