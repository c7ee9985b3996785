package service

import (
	"errors"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/pkg/db"
	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/google/uuid"
)

func testDB(t *testing.T) *ConversationService {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return NewConversationService(database)
}

func testAgent(ownerEmail string) *models.Agent {
	return &models.Agent{
		ID:         uuid.New().String(),
		Name:       "Atendente",
		URLSlug:    "atendente",
		OwnerEmail: ownerEmail,
		Status:     models.AgentStatusActive,
	}
}

func TestCreateConversationSeedsSystemMessage(t *testing.T) {
	svc := testDB(t)

	conv, err := svc.Create(testAgent("owner@example.com"), "lead-1", "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := svc.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 seed message, got %d", len(got.Messages))
	}
	seed := got.Messages[0]
	if seed.Sender != models.SenderSystem {
		t.Errorf("seed sender = %q, want system", seed.Sender)
	}
	if seed.Text != ConversationStartedText {
		t.Errorf("seed text = %q, want %q", seed.Text, ConversationStartedText)
	}
	if got.AIStatus != models.AIStatusActive {
		t.Errorf("new conversation AIStatus = %q, want active", got.AIStatus)
	}
	if got.IsReadByOwner {
		t.Error("new conversation should be unread")
	}
}

func TestAppendUserMessageFlipsUnread(t *testing.T) {
	svc := testDB(t)
	conv, _ := svc.Create(testAgent("owner@example.com"), "lead-1", "", "")

	if err := svc.MarkRead(conv.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	_, err := svc.AppendMessage(conv.ID, &models.Message{
		Text:   "Olá",
		Sender: models.SenderUser,
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, _ := svc.Get(conv.ID)
	if got.IsReadByOwner {
		t.Error("user message should flip the conversation back to unread")
	}

	// Agent messages leave the read flag alone.
	_ = svc.MarkRead(conv.ID)
	_, err = svc.AppendMessage(conv.ID, &models.Message{
		Text:   "Oi!",
		Sender: models.SenderAgent,
		SentBy: models.SentByAI,
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	got, _ = svc.Get(conv.ID)
	if !got.IsReadByOwner {
		t.Error("agent message should not flip the read flag")
	}
}

func TestReplaceLastMessageTargetsStoredLast(t *testing.T) {
	svc := testDB(t)
	conv, _ := svc.Create(testAgent("owner@example.com"), "lead-1", "", "")

	base := time.Now()
	_, _ = svc.AppendMessage(conv.ID, &models.Message{
		Text: "Pergunta", Sender: models.SenderUser, CreatedAt: base,
	})
	placeholder, _ := svc.AppendMessage(conv.ID, &models.Message{
		Text: "", Sender: models.SenderAgent, SentBy: models.SentByAI, CreatedAt: base.Add(time.Second),
	})

	// A human reply lands while the stream is still running; the
	// replacement must target whatever row is last now.
	human, _ := svc.AppendMessage(conv.ID, &models.Message{
		Text: "Deixa comigo", Sender: models.SenderAgent, SentBy: models.SentByHuman,
		CreatedAt: base.Add(2 * time.Second),
	})

	final, err := svc.ReplaceLastMessage(conv.ID, &models.Message{
		Text:   "Resposta gerada",
		Sender: models.SenderAgent,
		SentBy: models.SentByAI,
	})
	if err != nil {
		t.Fatalf("ReplaceLastMessage failed: %v", err)
	}
	if final.ID != human.ID {
		t.Errorf("replacement targeted %q, want current last row %q", final.ID, human.ID)
	}

	got, _ := svc.Get(conv.ID)
	last := got.Messages[len(got.Messages)-1]
	if last.Text != "Resposta gerada" {
		t.Errorf("last message text = %q, want replacement", last.Text)
	}
	// The placeholder row is untouched.
	for _, m := range got.Messages {
		if m.ID == placeholder.ID && m.Text != "" {
			t.Errorf("placeholder row was modified: %q", m.Text)
		}
	}
}

func TestReplaceLastMessageEmptyConversation(t *testing.T) {
	svc := testDB(t)
	_, err := svc.ReplaceLastMessage(uuid.New().String(), &models.Message{Text: "x"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSetAIStatusHandoff(t *testing.T) {
	svc := testDB(t)
	conv, _ := svc.Create(testAgent("owner@example.com"), "lead-1", "", "")

	paused, err := svc.SetAIStatus(conv.ID, models.AIStatusPaused)
	if err != nil {
		t.Fatalf("SetAIStatus failed: %v", err)
	}
	if paused.AIStatus != models.AIStatusPaused {
		t.Errorf("AIStatus = %q, want paused", paused.AIStatus)
	}
	last := paused.Messages[len(paused.Messages)-1]
	if last.Sender != models.SenderSystem || last.Text != HumanTookOverText {
		t.Errorf("expected handoff notice, got %q from %q", last.Text, last.Sender)
	}

	// Same status again is a no-op, no duplicate notice.
	again, err := svc.SetAIStatus(conv.ID, models.AIStatusPaused)
	if err != nil {
		t.Fatalf("idempotent SetAIStatus failed: %v", err)
	}
	if len(again.Messages) != len(paused.Messages) {
		t.Errorf("idempotent flip added a notice: %d -> %d messages", len(paused.Messages), len(again.Messages))
	}

	resumed, err := svc.SetAIStatus(conv.ID, models.AIStatusActive)
	if err != nil {
		t.Fatalf("SetAIStatus failed: %v", err)
	}
	last = resumed.Messages[len(resumed.Messages)-1]
	if last.Text != AIResumedText {
		t.Errorf("expected resume notice, got %q", last.Text)
	}

	if _, err := svc.SetAIStatus(conv.ID, "bogus"); err == nil {
		t.Error("expected invalid status to be rejected")
	}
}

func TestListForOwnerOrderingAndScope(t *testing.T) {
	svc := testDB(t)

	a := testAgent("alice@example.com")
	b := testAgent("bob@example.com")
	b.URLSlug = "outro"

	older, _ := svc.Create(a, "lead-1", "", "")
	newer, _ := svc.Create(a, "lead-2", "", "")
	_, _ = svc.Create(b, "lead-3", "", "")

	// Touch the older one so it sorts first.
	_, _ = svc.AppendMessage(older.ID, &models.Message{
		Text: "oi", Sender: models.SenderUser, CreatedAt: time.Now().Add(time.Minute),
	})

	list, err := svc.ListForOwner("alice@example.com", false)
	if err != nil {
		t.Fatalf("ListForOwner failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %d", len(list))
	}
	if list[0].ID != older.ID || list[1].ID != newer.ID {
		t.Error("conversations not ordered by last activity desc")
	}

	all, err := svc.ListForOwner("admin@example.com", true)
	if err != nil {
		t.Fatalf("ListForOwner(admin) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("admin should see all conversations, got %d", len(all))
	}
}

func TestMarkReadUnknownConversation(t *testing.T) {
	svc := testDB(t)
	if err := svc.MarkRead("missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}
