package service

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/utils"
)

// inboxPollInterval is how often an open inbox re-reads the conversation
// list.
const inboxPollInterval = 5 * time.Second

// InboxSession is the server-side state of one owner's open inbox. It keeps
// the conversation list warm and tracks which conversation is selected so
// that a poll cycle never yanks the selection out from under the owner.
type InboxSession struct {
	ownerEmail string
	isAdmin    bool

	conversations *ConversationService
	logger        *slog.Logger

	mu         sync.Mutex
	list       []models.Conversation
	selectedID string
}

// InboxSnapshot is one refresh of the owner inbox.
type InboxSnapshot struct {
	Conversations []models.Conversation `json:"conversations"`
	Selected      *models.Conversation  `json:"selected,omitempty"`
	UnreadCount   int                   `json:"unread_count"`
}

// NewInboxSession opens an inbox for ownerEmail. Admins see every owner's
// conversations.
func NewInboxSession(conversations *ConversationService, ownerEmail string, isAdmin bool) *InboxSession {
	return &InboxSession{
		ownerEmail:    ownerEmail,
		isAdmin:       isAdmin,
		conversations: conversations,
		logger:        utils.GetLogger(),
	}
}

// Refresh re-reads the conversation list and returns the snapshot. The
// selected conversation is carried over by id; its content is only swapped
// when it actually changed, so an unchanged poll cycle is invisible to the
// owner.
func (s *InboxSession) Refresh() (*InboxSnapshot, error) {
	list, err := s.conversations.ListForOwner(s.ownerEmail, s.isAdmin)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range list {
		if prev := s.find(list[i].ID); prev != nil && conversationEqual(prev, &list[i]) {
			// Keep the previous value; pointer-stable for callers that
			// compare snapshots.
			list[i] = *prev
		}
	}
	s.list = list

	return s.snapshot(), nil
}

// Select marks a conversation as the open one and flags it read.
func (s *InboxSession) Select(conversationID string) (*models.Conversation, error) {
	conv, err := s.get(conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.MarkRead(conversationID); err != nil {
		return nil, err
	}
	conv.IsReadByOwner = true

	s.mu.Lock()
	s.selectedID = conversationID
	for i := range s.list {
		if s.list[i].ID == conversationID {
			s.list[i] = *conv
			break
		}
	}
	s.mu.Unlock()
	return conv, nil
}

// Deselect closes the open conversation.
func (s *InboxSession) Deselect() {
	s.mu.Lock()
	s.selectedID = ""
	s.mu.Unlock()
}

// ToggleAI flips the human/AI handoff on a conversation.
func (s *InboxSession) ToggleAI(conversationID, status string) (*models.Conversation, error) {
	if _, err := s.get(conversationID); err != nil {
		return nil, err
	}
	conv, err := s.conversations.SetAIStatus(conversationID, status)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range s.list {
		if s.list[i].ID == conversationID {
			s.list[i] = *conv
			break
		}
	}
	s.mu.Unlock()
	return conv, nil
}

// SendHumanReply appends an owner-authored agent message. It is only valid
// while the AI is paused; with the AI active the two writers would race over
// the same turn.
func (s *InboxSession) SendHumanReply(conversationID, text string) (*models.Message, error) {
	conv, err := s.get(conversationID)
	if err != nil {
		return nil, err
	}
	if conv.AIStatus != models.AIStatusPaused {
		return nil, ErrAIActive
	}

	msg := &models.Message{
		Text:   text,
		Sender: models.SenderAgent,
		SentBy: models.SentByHuman,
	}
	return s.conversations.AppendMessage(conversationID, msg)
}

// PollInterval returns the inbox refresh cadence.
func (s *InboxSession) PollInterval() time.Duration {
	return inboxPollInterval
}

// get fetches a conversation and enforces inbox scope: a conversation
// belonging to another owner reads as not found.
func (s *InboxSession) get(conversationID string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if !s.isAdmin && conv.OwnerEmail != s.ownerEmail {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *InboxSession) find(id string) *models.Conversation {
	for i := range s.list {
		if s.list[i].ID == id {
			return &s.list[i]
		}
	}
	return nil
}

// snapshot builds the response from current state. Caller holds the lock.
func (s *InboxSession) snapshot() *InboxSnapshot {
	snap := &InboxSnapshot{
		Conversations: make([]models.Conversation, len(s.list)),
	}
	copy(snap.Conversations, s.list)

	for i := range snap.Conversations {
		if !snap.Conversations[i].IsReadByOwner {
			snap.UnreadCount++
		}
		if snap.Conversations[i].ID == s.selectedID {
			selected := snap.Conversations[i]
			snap.Selected = &selected
		}
	}
	return snap
}

// conversationEqual reports whether two conversation values are structurally
// identical, messages included. Identity is content, not fetch time.
func conversationEqual(a, b *models.Conversation) bool {
	if a.ID != b.ID || a.AIStatus != b.AIStatus ||
		a.IsReadByOwner != b.IsReadByOwner ||
		len(a.Messages) != len(b.Messages) {
		return false
	}
	return reflect.DeepEqual(a.Messages, b.Messages)
}

// ========== Inbox manager ==========

// InboxManager keys inbox sessions by owner email.
type InboxManager struct {
	conversations *ConversationService

	mu       sync.Mutex
	sessions map[string]*InboxSession
}

func NewInboxManager(conversations *ConversationService) *InboxManager {
	return &InboxManager{
		conversations: conversations,
		sessions:      make(map[string]*InboxSession),
	}
}

// Acquire returns the inbox session for an owner, creating it on first use.
func (m *InboxManager) Acquire(ownerEmail string, isAdmin bool) *InboxSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[ownerEmail]; ok {
		return sess
	}
	sess := NewInboxSession(m.conversations, ownerEmail, isAdmin)
	m.sessions[ownerEmail] = sess
	return sess
}
