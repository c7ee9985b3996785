package service

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/agentdesk/agentdesk/pkg/event"
	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAgentUnavailable = errors.New("agent unavailable")
	ErrSlugTaken        = errors.New("url slug already in use")
	ErrInvalidSlug      = errors.New("invalid url slug")
)

// MaxAttachmentBytes is the per-file limit for agent reference attachments.
const MaxAttachmentBytes = 1 << 20 // 1 MiB

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// attachmentMimeKinds whitelists the accepted attachment content types and
// maps each to its display kind.
var attachmentMimeKinds = map[string]string{
	"image/jpeg": models.AttachmentKindImage,
	"image/png":  models.AttachmentKindImage,
	"image/webp": models.AttachmentKindImage,
	"video/mp4":  models.AttachmentKindVideo,
}

// AgentService manages agent configurations and their reference attachments.
type AgentService struct {
	db      *gorm.DB
	clients *ClientCache
	logger  *slog.Logger
}

// NewAgentService creates a new agent service. The client cache is invalidated
// whenever an agent's API key override changes.
func NewAgentService(db *gorm.DB, clients *ClientCache) *AgentService {
	return &AgentService{
		db:      db,
		clients: clients,
		logger:  utils.GetLogger(),
	}
}

// Create creates an agent for the given owner.
func (s *AgentService) Create(ownerEmail string, req *models.AgentRequest) (*models.Agent, error) {
	if err := validateSlug(req.URLSlug); err != nil {
		return nil, err
	}

	attachments, err := buildAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = models.AgentStatusActive
	}

	agent := &models.Agent{
		ID:             uuid.New().String(),
		Name:           req.Name,
		URLSlug:        req.URLSlug,
		SystemPrompt:   req.SystemPrompt,
		Status:         status,
		APIKeyOverride: req.APIKeyOverride,
		OwnerEmail:     ownerEmail,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		Attachments:    attachments,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		taken, err := slugInUse(tx, req.URLSlug, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrSlugTaken
		}
		return tx.Create(agent).Error
	})
	if err != nil {
		return nil, err
	}

	event.Emit(event.AgentCreatedEvent{AgentID: agent.ID, OwnerEmail: ownerEmail})
	return agent, nil
}

// Get retrieves an agent with its attachments.
func (s *AgentService) Get(id string) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.Preload("Attachments").First(&agent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

// List returns the owner's agents, newest first. Admins see every agent.
func (s *AgentService) List(ownerEmail string, isAdmin bool) ([]models.Agent, error) {
	var agents []models.Agent
	query := s.db.Preload("Attachments").Order("created_at DESC")
	if !isAdmin {
		query = query.Where("owner_email = ?", ownerEmail)
	}
	if err := query.Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// Update replaces an agent's configuration, including its attachment set.
// Changing the API key override evicts any cached completion client built
// with the old credentials.
func (s *AgentService) Update(id string, req *models.AgentRequest) (*models.Agent, error) {
	if err := validateSlug(req.URLSlug); err != nil {
		return nil, err
	}

	agent, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	attachments, err := buildAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}
	for i := range attachments {
		attachments[i].AgentID = agent.ID
	}

	oldKey := agent.APIKeyOverride

	err = s.db.Transaction(func(tx *gorm.DB) error {
		taken, err := slugInUse(tx, req.URLSlug, agent.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlugTaken
		}

		updates := map[string]interface{}{
			"name":             req.Name,
			"url_slug":         req.URLSlug,
			"system_prompt":    req.SystemPrompt,
			"api_key_override": req.APIKeyOverride,
			"updated_at":       time.Now(),
		}
		if req.Status != "" {
			updates["status"] = req.Status
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", agent.ID).Updates(updates).Error; err != nil {
			return err
		}

		// Replace attachments wholesale; the form always submits the full set.
		if err := tx.Where("agent_id = ?", agent.ID).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if len(attachments) > 0 {
			if err := tx.Create(&attachments).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldKey != req.APIKeyOverride {
		s.logger.Info("Agent credentials changed", "agentID", agent.ID,
			"apiKey", utils.MaskSensitiveString(req.APIKeyOverride))
		if s.clients != nil {
			s.clients.Invalidate(oldKey)
			s.clients.Invalidate(req.APIKeyOverride)
		}
	}

	event.Emit(event.AgentUpdatedEvent{AgentID: agent.ID, OwnerEmail: agent.OwnerEmail})
	return s.Get(id)
}

// SetStatus toggles an agent between active and inactive.
func (s *AgentService) SetStatus(id, status string) (*models.Agent, error) {
	if status != models.AgentStatusActive && status != models.AgentStatusInactive {
		return nil, fmt.Errorf("invalid agent status: %s", status)
	}

	agent, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.Agent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, err
	}

	event.Emit(event.AgentUpdatedEvent{AgentID: id, OwnerEmail: agent.OwnerEmail})
	return s.Get(id)
}

// Delete removes an agent and its attachments. Existing conversations are
// kept; they become read-only history in the owner inbox.
func (s *AgentService) Delete(id string) error {
	agent, err := s.Get(id)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Agent{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}

	event.Emit(event.AgentDeletedEvent{AgentID: id, OwnerEmail: agent.OwnerEmail})
	return nil
}

// ResolveSlug resolves a public chat URL. An unknown slug and an inactive
// agent are distinct outcomes so the caller can render different pages.
func (s *AgentService) ResolveSlug(slug string) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.Preload("Attachments").First(&agent, "url_slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	if agent.Status != models.AgentStatusActive {
		return nil, ErrAgentUnavailable
	}
	return &agent, nil
}

func validateSlug(slug string) error {
	if slug == "" || len(slug) > 100 || !slugPattern.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}

func slugInUse(tx *gorm.DB, slug, excludeID string) (bool, error) {
	var count int64
	query := tx.Model(&models.Agent{}).Where("url_slug = ?", slug)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func buildAttachments(uploads []models.AttachmentUpload) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, 0, len(uploads))
	for _, up := range uploads {
		kind, ok := attachmentMimeKinds[up.MimeType]
		if !ok {
			return nil, fmt.Errorf("unsupported attachment type %q for %s", up.MimeType, up.Name)
		}
		size := up.SizeBytes
		if size == 0 {
			// Approximate decoded size from the base64 payload.
			size = int64(len(up.Base64Data)) * 3 / 4
		}
		if size > MaxAttachmentBytes {
			return nil, fmt.Errorf("attachment %s exceeds the %d byte limit", up.Name, MaxAttachmentBytes)
		}
		attachments = append(attachments, models.Attachment{
			ID:         uuid.New().String(),
			Name:       up.Name,
			MimeType:   up.MimeType,
			Base64Data: up.Base64Data,
			Kind:       kind,
			SizeBytes:  size,
		})
	}
	return attachments, nil
}
