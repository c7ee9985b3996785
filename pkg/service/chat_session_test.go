package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/pkg/config"
	"github.com/agentdesk/agentdesk/pkg/db"
	"github.com/agentdesk/agentdesk/pkg/event"
	"github.com/agentdesk/agentdesk/pkg/models"
)

// scriptedClient replays canned delta sequences, one per Stream call.
type scriptedClient struct {
	mu    sync.Mutex
	turns [][]CompletionDelta
}

func (c *scriptedClient) Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionDelta, error) {
	c.mu.Lock()
	var turn []CompletionDelta
	if len(c.turns) > 0 {
		turn = c.turns[0]
		c.turns = c.turns[1:]
	}
	c.mu.Unlock()

	out := make(chan CompletionDelta, len(turn))
	for _, d := range turn {
		out <- d
	}
	close(out)
	return out, nil
}

// gatedClient emits one delta, then holds the stream open until released.
type gatedClient struct {
	first   string
	release chan struct{}
}

func (c *gatedClient) Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionDelta, error) {
	out := make(chan CompletionDelta)
	go func() {
		defer close(out)
		out <- CompletionDelta{Text: c.first}
		<-c.release
	}()
	return out, nil
}

func newTestSessionManager(t *testing.T, client CompletionClient) (*SessionManager, *ConversationService) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	conversations := NewConversationService(database)
	cache := NewClientCache()
	cache.build = func(ctx context.Context, cfg ClientConfig) (CompletionClient, error) {
		return client, nil
	}
	return NewSessionManager(conversations, cache, &config.AppConfig{}), conversations
}

func drain(t *testing.T, chunks <-chan models.StreamChunk) models.StreamChunk {
	t.Helper()
	var last models.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return last
			}
			last = chunk
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestStreamedReplyStripsSplitDirective(t *testing.T) {
	client := &scriptedClient{turns: [][]CompletionDelta{{
		{Text: "Aqui está a foto. [SHOW_F"},
		{Text: "ILE:foto.png]"},
	}}}
	mgr, conversations := newTestSessionManager(t, client)

	agent := testAgent("owner@example.com")
	agent.Attachments = []models.Attachment{
		{ID: "att-1", Name: "foto.png", MimeType: "image/png", Base64Data: "aGk=", Kind: models.AttachmentKindImage},
	}

	sess, _ := mgr.Acquire(agent, "")
	chunks, err := sess.SubmitText(context.Background(), "Quero ver a foto")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}

	final := drain(t, chunks)
	if !final.Final {
		t.Fatal("last chunk should be final")
	}
	if final.Text != "Aqui está a foto." {
		t.Errorf("final text = %q, want directive stripped", final.Text)
	}
	if final.Message == nil || final.Message.Attachment == nil {
		t.Fatal("final message should carry the resolved attachment")
	}
	if final.Message.Attachment.Name != "foto.png" {
		t.Errorf("attachment = %q, want foto.png", final.Message.Attachment.Name)
	}
	if !final.Message.IsAIRenderedAttachment {
		t.Error("attachment should be marked as AI-rendered")
	}

	// The stored transcript holds exactly one agent reply for the turn.
	conv, err := conversations.Get(sess.ConversationID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("expected seed + user + reply, got %d messages", len(conv.Messages))
	}
	reply := conv.Messages[2]
	if reply.Sender != models.SenderAgent || reply.SentBy != models.SentByAI {
		t.Errorf("reply sender = %q/%q, want agent/ai", reply.Sender, reply.SentBy)
	}
	if reply.Text != "Aqui está a foto." {
		t.Errorf("stored reply text = %q, want directive stripped", reply.Text)
	}
	if reply.Attachment == nil || !reply.IsAIRenderedAttachment {
		t.Error("stored reply should carry the AI-rendered attachment")
	}
}

func TestStreamedReplyKeepsLatestCitations(t *testing.T) {
	client := &scriptedClient{turns: [][]CompletionDelta{{
		{Text: "Primeira parte.", Citations: []models.Citation{{URI: "https://a.example"}}},
		{Text: " Segunda parte.", Citations: []models.Citation{
			{URI: "https://b.example", Title: "B"},
			{URI: "https://c.example"},
		}},
	}}}
	mgr, conversations := newTestSessionManager(t, client)

	sess, _ := mgr.Acquire(testAgent("owner@example.com"), "")
	chunks, err := sess.SubmitText(context.Background(), "Pesquise isso")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	drain(t, chunks)

	conv, err := conversations.Get(sess.ConversationID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	reply := conv.Messages[len(conv.Messages)-1]
	if len(reply.Citations) != 2 {
		t.Fatalf("citations = %d, want the latest set of 2", len(reply.Citations))
	}
	if reply.Citations[0].URI != "https://b.example" {
		t.Errorf("citation uri = %q, want https://b.example", reply.Citations[0].URI)
	}
}

func TestPausedConversationSkipsGeneration(t *testing.T) {
	client := &scriptedClient{turns: [][]CompletionDelta{{{Text: "Olá!"}}}}
	mgr, conversations := newTestSessionManager(t, client)

	sess, _ := mgr.Acquire(testAgent("owner@example.com"), "")
	chunks, err := sess.SubmitText(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	drain(t, chunks)

	if _, err := conversations.SetAIStatus(sess.ConversationID(), models.AIStatusPaused); err != nil {
		t.Fatalf("SetAIStatus failed: %v", err)
	}

	chunks, err = sess.SubmitText(context.Background(), "Tem alguém aí?")
	if err != nil {
		t.Fatalf("SubmitText while paused failed: %v", err)
	}
	final := drain(t, chunks)
	if !final.Final {
		t.Fatal("paused turn should still deliver a final frame")
	}

	conv, err := conversations.Get(sess.ConversationID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// seed, user, reply, handoff notice, second user message. No AI reply
	// after the pause.
	if len(conv.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(conv.Messages))
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Sender != models.SenderUser {
		t.Errorf("last message sender = %q, want user (no generated reply)", last.Sender)
	}
}

func TestStreamErrorSettlesWithNotice(t *testing.T) {
	client := &scriptedClient{turns: [][]CompletionDelta{{
		{Text: "Deixa eu ver"},
		{Err: errors.New("upstream quota exceeded")},
	}}}
	mgr, conversations := newTestSessionManager(t, client)

	sess, _ := mgr.Acquire(testAgent("owner@example.com"), "")
	chunks, err := sess.SubmitText(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}

	final := drain(t, chunks)
	if final.Error != AIErrorText {
		t.Errorf("final error = %q, want %q", final.Error, AIErrorText)
	}

	conv, err := conversations.Get(sess.ConversationID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Text != AIErrorText {
		t.Errorf("stored reply = %q, want the error notice", last.Text)
	}
	if last.Sender != models.SenderAgent {
		t.Errorf("error notice sender = %q, want agent", last.Sender)
	}
}

func TestSubmitTextRejectsConcurrentTurn(t *testing.T) {
	client := &gatedClient{first: "Um momento", release: make(chan struct{})}
	mgr, _ := newTestSessionManager(t, client)

	sess, _ := mgr.Acquire(testAgent("owner@example.com"), "")
	chunks, err := sess.SubmitText(context.Background(), "Primeira")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}

	if _, err := sess.SubmitText(context.Background(), "Segunda"); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("concurrent SubmitText error = %v, want ErrSendInFlight", err)
	}

	close(client.release)
	drain(t, chunks)
}

func TestSnapshotOverlaysStreamingReply(t *testing.T) {
	client := &gatedClient{first: "Um momento", release: make(chan struct{})}
	mgr, _ := newTestSessionManager(t, client)

	sess, _ := mgr.Acquire(testAgent("owner@example.com"), "")
	chunks, err := sess.SubmitText(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}

	// The first chunk guarantees the pending overlay is populated.
	first := <-chunks
	if first.Text != "Um momento" {
		t.Fatalf("first chunk text = %q", first.Text)
	}

	snap, err := sess.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.ID != first.MessageID {
		t.Errorf("overlay message id = %q, want %q", last.ID, first.MessageID)
	}
	if last.Text != "Um momento" {
		t.Errorf("overlay text = %q, want the streamed prefix", last.Text)
	}

	close(client.release)
	drain(t, chunks)
}

func TestAcquireReattachesReturningLead(t *testing.T) {
	client := &scriptedClient{turns: [][]CompletionDelta{{{Text: "Olá!"}}}}
	mgr, conversations := newTestSessionManager(t, client)

	agent := testAgent("owner@example.com")
	sess, token := mgr.Acquire(agent, "")
	if token == "" {
		t.Fatal("Acquire should mint a lead token")
	}
	chunks, err := sess.SubmitText(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	drain(t, chunks)

	// Same token on the same manager returns the same session.
	again, token2 := mgr.Acquire(agent, token)
	if token2 != token {
		t.Errorf("token changed on reuse: %q vs %q", token2, token)
	}
	if again != sess {
		t.Error("Acquire should reuse the live session for a known lead")
	}

	// A fresh manager (restart) reattaches to the stored conversation.
	cache := NewClientCache()
	cache.build = func(ctx context.Context, cfg ClientConfig) (CompletionClient, error) {
		return client, nil
	}
	mgr2 := NewSessionManager(conversations, cache, &config.AppConfig{})
	sess2, _ := mgr2.Acquire(agent, token)
	snap, err := sess2.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Messages) != 3 {
		t.Errorf("reattached transcript has %d messages, want 3", len(snap.Messages))
	}
}

func TestHandoffDuringAppendBlocksGeneration(t *testing.T) {
	client := &scriptedClient{turns: [][]CompletionDelta{{{Text: "Olá!"}}}}
	mgr, conversations := newTestSessionManager(t, client)

	agent := testAgent("owner@example.com")
	sess, _ := mgr.Acquire(agent, "")
	chunks, err := sess.SubmitText(context.Background(), "Oi")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	drain(t, chunks)
	convID := sess.ConversationID()

	// The owner takes over at the exact moment the next lead message is
	// stored: the update notification fires synchronously inside
	// AppendMessage, after the session already loaded the conversation.
	var once sync.Once
	event.On(event.ConversationUpdated, func(event.Event) {
		once.Do(func() {
			if _, err := conversations.SetAIStatus(convID, models.AIStatusPaused); err != nil {
				t.Errorf("SetAIStatus failed: %v", err)
			}
		})
	})

	chunks, err = sess.SubmitText(context.Background(), "Ainda aí?")
	if err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	final := drain(t, chunks)
	if final.Message == nil || final.Message.Sender != models.SenderUser {
		t.Fatal("turn should settle with the lead message, no generated reply")
	}

	conv, err := conversations.Get(convID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// seed, user, reply, user, handoff notice
	if len(conv.Messages) != 5 {
		t.Fatalf("transcript has %d messages, want 5", len(conv.Messages))
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Sender != models.SenderSystem || last.Text != HumanTookOverText {
		t.Errorf("last message = %q from %q, want the handoff notice", last.Text, last.Sender)
	}
}

func TestReattachDropsUnsettledReply(t *testing.T) {
	client := &scriptedClient{}
	mgr, conversations := newTestSessionManager(t, client)

	agent := testAgent("owner@example.com")
	conv, err := conversations.Create(agent, "lead-1", "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	base := time.Now()
	_, _ = conversations.AppendMessage(conv.ID, &models.Message{
		Text: "Oi", Sender: models.SenderUser, CreatedAt: base,
	})
	// A reply that started streaming but never settled (crash mid-stream).
	_, _ = conversations.AppendMessage(conv.ID, &models.Message{
		Sender: models.SenderAgent, SentBy: models.SentByAI, CreatedAt: base.Add(time.Second),
	})

	sess, _ := mgr.Acquire(agent, "lead-1")
	snap, err := sess.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("transcript has %d messages, want seed and lead message only", len(snap.Messages))
	}
	if last := snap.Messages[len(snap.Messages)-1]; last.Sender != models.SenderUser {
		t.Errorf("last message sender = %q, want user", last.Sender)
	}

	stored, err := conversations.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(stored.Messages) != 2 {
		t.Errorf("unsettled reply row still stored: %d messages", len(stored.Messages))
	}
}
