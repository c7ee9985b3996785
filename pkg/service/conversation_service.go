package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/pkg/event"
	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoMessages           = errors.New("conversation has no messages")
	ErrAIActive             = errors.New("ai attendance is active")
)

// Transcript boilerplate. The deployment serves a Portuguese-speaking
// audience, so the system notices stay in Portuguese.
const (
	ConversationStartedText = "Conversa iniciada."
	HumanTookOverText       = "Atendimento por IA pausado. Humano assumiu."
	AIResumedText           = "Atendimento por IA retomado."
)

// ConversationService owns the conversation transcript store. Both the public
// chat surface and the owner inbox go through it; every mutation touches
// last_message_at so inbox ordering stays correct.
type ConversationService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{
		db:     db,
		logger: utils.GetLogger(),
	}
}

// Create opens a conversation between a lead and an agent, seeded with the
// opening system message.
func (s *ConversationService) Create(agent *models.Agent, leadIdentifier, leadName, leadEmail string) (*models.Conversation, error) {
	now := time.Now()
	conv := &models.Conversation{
		ID:             uuid.New().String(),
		AgentID:        agent.ID,
		OwnerEmail:     agent.OwnerEmail,
		LeadIdentifier: leadIdentifier,
		LeadName:       leadName,
		LeadEmail:      leadEmail,
		AIStatus:       models.AIStatusActive,
		IsReadByOwner:  false,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	seed := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Text:           ConversationStartedText,
		Sender:         models.SenderSystem,
		CreatedAt:      now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		return tx.Create(seed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	event.Emit(event.ConversationCreatedEvent{
		ConversationID: conv.ID,
		AgentID:        agent.ID,
		OwnerEmail:     agent.OwnerEmail,
	})
	return conv, nil
}

// Get retrieves a conversation with its messages in chronological order.
func (s *ConversationService) Get(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// FindForLead returns the lead's existing conversation with an agent, if any.
func (s *ConversationService) FindForLead(agentID, leadIdentifier string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).Where("agent_id = ? AND lead_identifier = ?", agentID, leadIdentifier).
		Order("created_at DESC").First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListForOwner returns the inbox list, most recent activity first. Admins see
// every owner's conversations.
func (s *ConversationService) ListForOwner(ownerEmail string, isAdmin bool) ([]models.Conversation, error) {
	var conversations []models.Conversation
	query := s.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).Order("last_message_at DESC")
	if !isAdmin {
		query = query.Where("owner_email = ?", ownerEmail)
	}
	if err := query.Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

// AppendMessage adds a message to the transcript. A message from the lead
// always flips the conversation back to unread for the owner.
func (s *ConversationService) AppendMessage(conversationID string, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ConversationID = conversationID

	var ownerEmail string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		ownerEmail = conv.OwnerEmail

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"last_message_at": msg.CreatedAt}
		if msg.Sender == models.SenderUser {
			updates["is_read_by_owner"] = false
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	event.Emit(event.ConversationUpdatedEvent{ConversationID: conversationID, OwnerEmail: ownerEmail})
	return msg, nil
}

// ReplaceLastMessage swaps the stored last message of the conversation for
// msg, keeping the original row id and timestamp. The caller streams a
// placeholder first and replaces it when generation settles; if a human
// message landed in between, the replacement still targets whatever row is
// currently last, matching the append-then-replace contract.
func (s *ConversationService) ReplaceLastMessage(conversationID string, msg *models.Message) (*models.Message, error) {
	var ownerEmail string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		ownerEmail = conv.OwnerEmail

		var last models.Message
		if err := tx.Where("conversation_id = ?", conversationID).
			Order("created_at DESC, id DESC").First(&last).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoMessages
			}
			return err
		}

		msg.ID = last.ID
		msg.ConversationID = conversationID
		msg.CreatedAt = last.CreatedAt

		return tx.Model(&models.Message{}).Where("id = ?", last.ID).Updates(map[string]interface{}{
			"text":                      msg.Text,
			"sender":                    msg.Sender,
			"sent_by":                   msg.SentBy,
			"attachment":                msg.Attachment,
			"is_ai_rendered_attachment": msg.IsAIRenderedAttachment,
			"citations":                 msg.Citations,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	event.Emit(event.ConversationUpdatedEvent{ConversationID: conversationID, OwnerEmail: ownerEmail})
	return msg, nil
}

// DropEmptyTrailingReply deletes a trailing empty AI row, the residue of a
// stream that never settled (e.g. the process died mid-generation). Returns
// whether a row was removed.
func (s *ConversationService) DropEmptyTrailingReply(conversationID string) (bool, error) {
	dropped := false
	var ownerEmail string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		ownerEmail = conv.OwnerEmail

		var last models.Message
		if err := tx.Where("conversation_id = ?", conversationID).
			Order("created_at DESC, id DESC").First(&last).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if last.Sender != models.SenderAgent || last.SentBy != models.SentByAI ||
			last.Text != "" || last.Attachment != nil {
			return nil
		}

		if err := tx.Delete(&models.Message{}, "id = ?", last.ID).Error; err != nil {
			return err
		}
		dropped = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if dropped {
		event.Emit(event.ConversationUpdatedEvent{ConversationID: conversationID, OwnerEmail: ownerEmail})
	}
	return dropped, nil
}

// SetAIStatus performs the human/AI handoff. The status flip and the system
// notice land in the same transaction so a poller never observes one without
// the other.
func (s *ConversationService) SetAIStatus(conversationID, status string) (*models.Conversation, error) {
	if status != models.AIStatusActive && status != models.AIStatusPaused {
		return nil, fmt.Errorf("invalid ai status: %s", status)
	}

	notice := HumanTookOverText
	if status == models.AIStatusActive {
		notice = AIResumedText
	}

	var ownerEmail string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		ownerEmail = conv.OwnerEmail

		if conv.AIStatus == status {
			// Idempotent flip, no duplicate notice.
			return nil
		}

		now := time.Now()
		sysMsg := &models.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Text:           notice,
			Sender:         models.SenderSystem,
			CreatedAt:      now,
		}
		if err := tx.Create(sysMsg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Updates(map[string]interface{}{
			"ai_status":       status,
			"last_message_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	event.Emit(event.ConversationStatusChangedEvent{
		ConversationID: conversationID,
		OwnerEmail:     ownerEmail,
		AIStatus:       status,
	})
	return s.Get(conversationID)
}

// MarkRead marks a conversation as read by its owner.
func (s *ConversationService) MarkRead(conversationID string) error {
	res := s.db.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("is_read_by_owner", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}
