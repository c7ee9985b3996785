package service

import (
	"errors"
	"testing"

	"github.com/agentdesk/agentdesk/pkg/db"
	"github.com/agentdesk/agentdesk/pkg/models"
)

func testInbox(t *testing.T) (*InboxSession, *ConversationService) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	conversations := NewConversationService(database)
	return NewInboxSession(conversations, "owner@example.com", false), conversations
}

func TestInboxRefreshCountsUnread(t *testing.T) {
	inbox, conversations := testInbox(t)
	agent := testAgent("owner@example.com")

	conv1, err := conversations.Create(agent, "lead-1", "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := conversations.Create(agent, "lead-2", "", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, err := inbox.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snap.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(snap.Conversations))
	}
	if snap.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", snap.UnreadCount)
	}

	if _, err := inbox.Select(conv1.ID); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	snap, err = inbox.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if snap.UnreadCount != 1 {
		t.Errorf("unread after select = %d, want 1", snap.UnreadCount)
	}
	if snap.Selected == nil || snap.Selected.ID != conv1.ID {
		t.Error("selection should survive a refresh")
	}
	if !snap.Selected.IsReadByOwner {
		t.Error("selected conversation should be marked read")
	}
}

func TestInboxRefreshIsStableForUnchangedRows(t *testing.T) {
	inbox, conversations := testInbox(t)
	agent := testAgent("owner@example.com")

	conv, err := conversations.Create(agent, "lead-1", "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := inbox.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	second, err := inbox.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !conversationEqual(&first.Conversations[0], &second.Conversations[0]) {
		t.Error("unchanged conversation should compare equal across refreshes")
	}

	// A new message makes the row compare unequal.
	if _, err := conversations.AppendMessage(conv.ID, &models.Message{
		Text: "Oi", Sender: models.SenderUser,
	}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	third, err := inbox.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if conversationEqual(&second.Conversations[0], &third.Conversations[0]) {
		t.Error("new message should change the conversation value")
	}
}

func TestInboxDeselect(t *testing.T) {
	inbox, conversations := testInbox(t)
	conv, err := conversations.Create(testAgent("owner@example.com"), "lead-1", "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := inbox.Select(conv.ID); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	inbox.Deselect()

	snap, err := inbox.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if snap.Selected != nil {
		t.Error("deselect should clear the open conversation")
	}
}

func TestHumanReplyRequiresPause(t *testing.T) {
	inbox, conversations := testInbox(t)
	conv, err := conversations.Create(testAgent("owner@example.com"), "lead-1", "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := inbox.SendHumanReply(conv.ID, "Olá, sou humano"); !errors.Is(err, ErrAIActive) {
		t.Errorf("reply with AI active error = %v, want ErrAIActive", err)
	}

	if _, err := inbox.ToggleAI(conv.ID, models.AIStatusPaused); err != nil {
		t.Fatalf("ToggleAI failed: %v", err)
	}

	msg, err := inbox.SendHumanReply(conv.ID, "Olá, sou humano")
	if err != nil {
		t.Fatalf("SendHumanReply failed: %v", err)
	}
	if msg.Sender != models.SenderAgent || msg.SentBy != models.SentByHuman {
		t.Errorf("reply attribution = %q/%q, want agent/human", msg.Sender, msg.SentBy)
	}

	got, err := conversations.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// seed, handoff notice, human reply.
	last := got.Messages[len(got.Messages)-1]
	if last.Text != "Olá, sou humano" {
		t.Errorf("stored reply = %q", last.Text)
	}
}

func TestInboxScopedToOwner(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	conversations := NewConversationService(database)

	if _, err := conversations.Create(testAgent("a@example.com"), "lead-1", "", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := conversations.Create(testAgent("b@example.com"), "lead-2", "", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, err := NewInboxSession(conversations, "a@example.com", false).Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(snap.Conversations) != 1 {
		t.Errorf("owner sees %d conversations, want 1", len(snap.Conversations))
	}

	// Another owner's conversation is unreachable, even by id.
	foreign := NewInboxSession(conversations, "b@example.com", false)
	if _, err := foreign.Select(snap.Conversations[0].ID); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("cross-owner select error = %v, want ErrConversationNotFound", err)
	}
	if _, err := foreign.ToggleAI(snap.Conversations[0].ID, models.AIStatusPaused); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("cross-owner toggle error = %v, want ErrConversationNotFound", err)
	}

	adminSnap, err := NewInboxSession(conversations, "admin@example.com", true).Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(adminSnap.Conversations) != 2 {
		t.Errorf("admin sees %d conversations, want 2", len(adminSnap.Conversations))
	}
}

func TestInboxManagerReusesSessions(t *testing.T) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	mgr := NewInboxManager(NewConversationService(database))

	a := mgr.Acquire("owner@example.com", false)
	b := mgr.Acquire("owner@example.com", false)
	if a != b {
		t.Error("same owner should get the same inbox session")
	}
	if c := mgr.Acquire("other@example.com", false); c == a {
		t.Error("different owners must not share a session")
	}
}
