package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdesk/agentdesk/pkg/config"
	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/utils"
	"github.com/google/uuid"
)

var ErrSendInFlight = errors.New("a message is already being processed")

// AIErrorText is shown in place of a reply when generation fails. The lead
// keeps a usable transcript either way.
const AIErrorText = "Desculpe, ocorreu um erro ao processar sua solicitação."

// chatPollInterval is how often an open chat session re-reads its stored
// transcript, picking up human replies and handoff notices.
const chatPollInterval = 3 * time.Second

// sessionIdleTimeout is how long a session survives without activity before
// the manager reaps it. The conversation itself is persistent; only the
// in-memory polling state goes away.
const sessionIdleTimeout = 30 * time.Minute

// ChatSession is the server-side state of one lead's open chat with one
// agent. It owns the streaming overlay for an in-flight reply and refreshes
// its cached transcript on a fixed cadence.
type ChatSession struct {
	agent     *models.Agent
	leadToken string

	conversations *ConversationService
	clients       *ClientCache
	cfg           *config.AppConfig
	logger        *slog.Logger

	mu             sync.Mutex
	conversationID string
	cached         *models.Conversation
	pending        *models.Message // streaming reply, not yet persisted as final
	sending        bool
	lastActive     time.Time

	cancel context.CancelFunc
}

// SubmitText processes one lead turn: the user message is persisted, then a
// reply is streamed unless the owner has paused the AI. The returned channel
// delivers display increments and is closed after the final frame. Only one
// turn may be in flight per session.
func (s *ChatSession) SubmitText(ctx context.Context, text string) (<-chan models.StreamChunk, error) {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sending = true
	s.lastActive = time.Now()
	s.mu.Unlock()

	conv, err := s.ensureConversation()
	if err != nil {
		s.clearSending()
		return nil, err
	}

	userMsg := &models.Message{
		Text:   text,
		Sender: models.SenderUser,
	}
	if _, err := s.conversations.AppendMessage(conv.ID, userMsg); err != nil {
		s.clearSending()
		return nil, err
	}
	if fresh := s.refresh(); fresh != nil {
		conv = fresh
	}

	chunks := make(chan models.StreamChunk, 32)

	// Pausing the AI stops generation entirely; the turn is just recorded
	// and the owner replies by hand. The status is re-read after the
	// append, so a handoff that lands mid-turn still blocks generation.
	if conv.AIStatus == models.AIStatusPaused {
		go func() {
			defer close(chunks)
			defer s.clearSending()
			chunks <- models.StreamChunk{
				ConversationID: conv.ID,
				MessageID:      userMsg.ID,
				Final:          true,
				Message:        userMsg,
			}
		}()
		return chunks, nil
	}

	go s.generateReply(ctx, conv, text, chunks)
	return chunks, nil
}

// generateReply streams the model reply into chunks, then settles the
// placeholder row with the final text, resolved attachment and citations.
func (s *ChatSession) generateReply(ctx context.Context, conv *models.Conversation, userText string, chunks chan<- models.StreamChunk) {
	defer close(chunks)
	defer s.clearSending()

	// Placeholder the streamed text replaces once generation settles.
	placeholder := &models.Message{
		Text:   "",
		Sender: models.SenderAgent,
		SentBy: models.SentByAI,
	}
	if _, err := s.conversations.AppendMessage(conv.ID, placeholder); err != nil {
		s.logger.Error("Failed to create reply placeholder", "error", err, "conversationID", conv.ID)
		chunks <- models.StreamChunk{ConversationID: conv.ID, Final: true, Error: AIErrorText}
		return
	}

	s.mu.Lock()
	s.pending = placeholder
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.refresh()
	}()

	history := historyBefore(conv.Messages, userText)

	client, err := s.client(ctx)
	if err != nil {
		s.logger.Error("Completion client unavailable", "error", err, "agentID", s.agent.ID)
		s.settleError(conv.ID, chunks)
		return
	}

	deltas, err := client.Stream(ctx, CompletionRequest{
		SystemPrompt: s.agent.SystemPrompt,
		History:      history,
		UserText:     userText,
	})
	if err != nil {
		s.logger.Error("Completion stream failed to start", "error", err, "agentID", s.agent.ID)
		s.settleError(conv.ID, chunks)
		return
	}

	var raw string
	var citations []models.Citation
	for delta := range deltas {
		if delta.Err != nil {
			s.logger.Error("Completion stream error", "error", delta.Err, "conversationID", conv.ID)
			s.settleError(conv.ID, chunks)
			return
		}
		raw += delta.Text
		if delta.Citations != nil {
			// Latest grounding set wins.
			citations = delta.Citations
		}

		// Directives are stripped from the accumulated text, not the
		// delta, so one split across chunk boundaries is still caught.
		display := StripDirectives(raw)

		s.mu.Lock()
		s.pending.Text = display
		s.pending.Citations = citations
		s.mu.Unlock()

		chunks <- models.StreamChunk{
			ConversationID: conv.ID,
			MessageID:      placeholder.ID,
			Text:           display,
			Citations:      citations,
		}
	}

	final := &models.Message{
		Text:      StripDirectives(raw),
		Sender:    models.SenderAgent,
		SentBy:    models.SentByAI,
		Citations: citations,
	}
	if name, ok := ExtractDirective(raw); ok {
		if att := ResolveDirective(s.agent, name); att != nil {
			final.Attachment = att
			final.IsAIRenderedAttachment = true
		}
	}

	if _, err := s.conversations.ReplaceLastMessage(conv.ID, final); err != nil {
		s.logger.Error("Failed to settle reply", "error", err, "conversationID", conv.ID)
		chunks <- models.StreamChunk{ConversationID: conv.ID, Final: true, Error: AIErrorText}
		return
	}

	chunks <- models.StreamChunk{
		ConversationID: conv.ID,
		MessageID:      final.ID,
		Text:           final.Text,
		Citations:      citations,
		Final:          true,
		Message:        final,
	}
}

// settleError replaces the placeholder with the error notice so the stored
// transcript matches what the lead saw.
func (s *ChatSession) settleError(conversationID string, chunks chan<- models.StreamChunk) {
	errMsg := &models.Message{
		Text:   AIErrorText,
		Sender: models.SenderAgent,
		SentBy: models.SentByAI,
	}
	if _, err := s.conversations.ReplaceLastMessage(conversationID, errMsg); err != nil {
		s.logger.Error("Failed to record error reply", "error", err, "conversationID", conversationID)
	}
	chunks <- models.StreamChunk{
		ConversationID: conversationID,
		MessageID:      errMsg.ID,
		Text:           AIErrorText,
		Final:          true,
		Message:        errMsg,
		Error:          AIErrorText,
	}
}

// Snapshot returns the transcript as the lead should see it right now: the
// stored messages plus the in-flight streamed reply, if any.
func (s *ChatSession) Snapshot() (*models.TranscriptResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()

	if s.cached == nil {
		return &models.TranscriptResponse{AIStatus: models.AIStatusActive}, nil
	}

	resp := &models.TranscriptResponse{
		ConversationID: s.cached.ID,
		AIStatus:       s.cached.AIStatus,
		Messages:       make([]models.Message, len(s.cached.Messages)),
	}
	copy(resp.Messages, s.cached.Messages)

	if s.pending != nil {
		merged := false
		for i := range resp.Messages {
			if resp.Messages[i].ID == s.pending.ID {
				resp.Messages[i] = *s.pending
				merged = true
				break
			}
		}
		if !merged {
			resp.Messages = append(resp.Messages, *s.pending)
		}
	}
	return resp, nil
}

// ConversationID returns the backing conversation id, or "" before the first
// message.
func (s *ChatSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *ChatSession) ensureConversation() (*models.Conversation, error) {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()

	if id != "" {
		return s.conversations.Get(id)
	}

	// Reattach to an earlier conversation from the same lead, otherwise
	// open a new one.
	conv, err := s.conversations.FindForLead(s.agent.ID, s.leadToken)
	if errors.Is(err, ErrConversationNotFound) {
		conv, err = s.conversations.Create(s.agent, s.leadToken, "", "")
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conversationID = conv.ID
	s.cached = conv
	s.mu.Unlock()
	return conv, nil
}

func (s *ChatSession) clearSending() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
}

// refresh re-reads the stored conversation into the cache and returns it,
// or nil when there is no conversation yet or the read fails.
func (s *ChatSession) refresh() *models.Conversation {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()
	if id == "" {
		return nil
	}

	conv, err := s.conversations.Get(id)
	if err != nil {
		s.logger.Warn("Failed to refresh chat transcript", "error", err, "conversationID", id)
		return nil
	}

	s.mu.Lock()
	s.cached = conv
	s.mu.Unlock()
	return conv
}

func (s *ChatSession) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(chatPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *ChatSession) client(ctx context.Context) (CompletionClient, error) {
	apiKey := s.agent.APIKeyOverride
	if apiKey == "" {
		apiKey = s.cfg.CompletionAPIKey()
	}
	return s.clients.Get(ctx, ClientConfig{
		Provider: s.cfg.CompletionProvider(),
		Model:    s.cfg.CompletionModel(),
		APIKey:   apiKey,
		BaseURL:  s.cfg.CompletionBaseURL(),
	})
}

// ========== Session manager ==========

// SessionManager keys chat sessions by (lead token, agent) and reaps the
// ones that go idle.
type SessionManager struct {
	conversations *ConversationService
	clients       *ClientCache
	cfg           *config.AppConfig
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*ChatSession
}

func NewSessionManager(conversations *ConversationService, clients *ClientCache, cfg *config.AppConfig) *SessionManager {
	m := &SessionManager{
		conversations: conversations,
		clients:       clients,
		cfg:           cfg,
		logger:        utils.GetLogger(),
		sessions:      make(map[string]*ChatSession),
	}
	go m.reapLoop()
	return m
}

// Acquire returns the session for (leadToken, agent), creating it on first
// use. A missing lead token gets a fresh one; the caller persists it with
// the lead (cookie).
func (m *SessionManager) Acquire(agent *models.Agent, leadToken string) (*ChatSession, string) {
	if leadToken == "" {
		leadToken = uuid.New().String()
	}
	key := leadToken + "\x00" + agent.ID

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[key]; ok {
		sess.mu.Lock()
		sess.agent = agent // pick up config edits
		sess.lastActive = time.Now()
		sess.mu.Unlock()
		return sess, leadToken
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &ChatSession{
		agent:         agent,
		leadToken:     leadToken,
		conversations: m.conversations,
		clients:       m.clients,
		cfg:           m.cfg,
		logger:        m.logger,
		lastActive:    time.Now(),
		cancel:        cancel,
	}

	// Reattach to a previous visit's conversation up front so the first
	// poll already shows history. An unsettled reply row left by a crash
	// mid-stream is dropped before the lead sees the transcript again.
	if conv, err := m.conversations.FindForLead(agent.ID, leadToken); err == nil {
		if dropped, err := m.conversations.DropEmptyTrailingReply(conv.ID); err == nil && dropped {
			if fresh, err := m.conversations.Get(conv.ID); err == nil {
				conv = fresh
			}
		}
		sess.conversationID = conv.ID
		sess.cached = conv
	}

	go sess.pollLoop(ctx)
	m.sessions[key] = sess
	return sess, leadToken
}

func (m *SessionManager) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-sessionIdleTimeout)
		m.mu.Lock()
		for key, sess := range m.sessions {
			sess.mu.Lock()
			idle := sess.lastActive.Before(cutoff) && !sess.sending
			sess.mu.Unlock()
			if idle {
				sess.cancel()
				delete(m.sessions, key)
			}
		}
		m.mu.Unlock()
	}
}

// historyBefore returns the transcript excluding the trailing user turn that
// is being answered, which is passed to the model separately.
func historyBefore(messages []models.Message, userText string) []models.Message {
	if n := len(messages); n > 0 && messages[n-1].Sender == models.SenderUser && messages[n-1].Text == userText {
		return messages[:n-1]
	}
	return messages
}
