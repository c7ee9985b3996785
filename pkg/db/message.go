// Database models for chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Message is one entry in a conversation transcript.
// A system message is never attributed to either bubble side; an agent
// message carries SentBy so the owner view can tell AI replies from human
// replies sent on the agent's behalf.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id,omitempty" gorm:"index;size:36;not null"`

	Text   string `json:"text" gorm:"type:text"`
	Sender string `json:"sender" gorm:"size:10;not null"`   // user, agent, system
	SentBy string `json:"sent_by,omitempty" gorm:"size:10"` // ai, human (agent messages only)

	// Attachment rendered with this message, if any. Stored as JSON.
	Attachment             *MessageAttachment `json:"attachment,omitempty" gorm:"type:text"`
	IsAIRenderedAttachment bool               `json:"is_ai_rendered_attachment,omitempty" gorm:"default:false"`

	// Web grounding citations attached to an AI reply. Stored as JSON.
	Citations Citations `json:"citations,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"timestamp"`
}

func (*Message) TableName() string {
	return "messages"
}

// Message senders
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Agent message authorship
const (
	SentByAI    = "ai"
	SentByHuman = "human"
)

// MessageAttachment is the displayable copy of an agent attachment resolved
// from a [SHOW_FILE:name] directive.
type MessageAttachment struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
	Kind     string `json:"kind"` // image, video
}

// Value implements driver.Valuer for database storage.
func (a *MessageAttachment) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for database retrieval.
func (a *MessageAttachment) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, a)
}

// Citation is a web source reference returned alongside a generated reply
// when search grounding was used.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Citations is a slice of Citation stored as JSON in the database.
type Citations []Citation

// Value implements driver.Valuer for database storage.
func (c Citations) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for database retrieval.
func (c *Citations) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, c)
}
