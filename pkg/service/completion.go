package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

var ErrAPIKeyMissing = errors.New("completion api key is missing")

// CompletionRequest carries one generation turn: the agent's system prompt,
// the prior transcript and the triggering user text.
type CompletionRequest struct {
	SystemPrompt string
	History      []models.Message
	UserText     string
}

// CompletionDelta is one streamed increment of a generated reply. Citations,
// when present, replace any previously delivered set (latest wins). Err, when
// non-nil, terminates the stream.
type CompletionDelta struct {
	Text      string
	Citations []models.Citation
	Err       error
}

// CompletionClient streams model replies. The returned channel is closed when
// the reply is complete or the context is cancelled.
type CompletionClient interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionDelta, error)
}

// ClientConfig selects a provider and its credentials.
type ClientConfig struct {
	Provider string // google, openai, custom
	Model    string
	APIKey   string
	BaseURL  string
}

// NewCompletionClient builds a client for the configured provider.
func NewCompletionClient(ctx context.Context, cfg ClientConfig) (CompletionClient, error) {
	if cfg.APIKey == "" && cfg.Provider != "custom" {
		return nil, ErrAPIKeyMissing
	}

	switch cfg.Provider {
	case "google", "":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return &geminiClient{client: client, model: cfg.Model}, nil

	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return &openaiClient{chatModel: chatModel}, nil

	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}
}

// ========== Gemini ==========

// geminiClient streams through the Gemini API with search grounding enabled,
// surfacing grounding chunks as citations.
type geminiClient struct {
	client *genai.Client
	model  string
}

func (g *geminiClient) Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionDelta, error) {
	contents := buildGeminiContents(req)

	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	deltas := make(chan CompletionDelta, 16)
	go func() {
		defer close(deltas)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				deltas <- CompletionDelta{Err: err}
				return
			}
			delta := CompletionDelta{Text: resp.Text()}
			if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
				delta.Citations = citationsFromGrounding(resp.Candidates[0].GroundingMetadata)
			}
			if delta.Text == "" && delta.Citations == nil {
				continue
			}
			select {
			case deltas <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, nil
}

// buildGeminiContents converts the transcript into Gemini turns. System
// notices and AI-rendered attachment messages never reach the model.
func buildGeminiContents(req CompletionRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		if msg.Sender == models.SenderSystem || msg.IsAIRenderedAttachment {
			continue
		}
		role := genai.RoleModel
		if msg.Sender == models.SenderUser {
			role = genai.RoleUser
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Text}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.UserText}},
	})
	return contents
}

func citationsFromGrounding(meta *genai.GroundingMetadata) []models.Citation {
	if len(meta.GroundingChunks) == 0 {
		return nil
	}
	citations := make([]models.Citation, 0, len(meta.GroundingChunks))
	for _, chunk := range meta.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		citations = append(citations, models.Citation{
			URI:   chunk.Web.URI,
			Title: chunk.Web.Title,
		})
	}
	if len(citations) == 0 {
		return nil
	}
	return citations
}

// ========== OpenAI compatible ==========

// openaiClient streams through any OpenAI-compatible endpoint. These
// providers do not expose search grounding, so replies carry no citations.
type openaiClient struct {
	chatModel *openai.ChatModel
}

func (o *openaiClient) Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionDelta, error) {
	history := make([]*schema.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		history = append(history, &schema.Message{Role: schema.System, Content: req.SystemPrompt})
	}
	for _, msg := range req.History {
		if msg.Sender == models.SenderSystem || msg.IsAIRenderedAttachment {
			continue
		}
		role := schema.Assistant
		if msg.Sender == models.SenderUser {
			role = schema.User
		}
		history = append(history, &schema.Message{Role: role, Content: msg.Text})
	}
	history = append(history, &schema.Message{Role: schema.User, Content: req.UserText})

	reader, err := o.chatModel.Stream(ctx, history)
	if err != nil {
		return nil, err
	}

	deltas := make(chan CompletionDelta, 16)
	go func() {
		defer close(deltas)
		defer reader.Close()
		for {
			chunk, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				deltas <- CompletionDelta{Err: err}
				return
			}
			if chunk.Content == "" {
				continue
			}
			select {
			case deltas <- CompletionDelta{Text: chunk.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, nil
}

// ========== Client cache ==========

// ClientCache reuses completion clients per credential set, mirroring the
// per-key instance reuse of the front end it replaces. Invalidate evicts
// every client built with a given key so credential edits take effect on the
// next turn.
type ClientCache struct {
	mu      sync.Mutex
	clients map[string]CompletionClient
	build   func(ctx context.Context, cfg ClientConfig) (CompletionClient, error)
}

func NewClientCache() *ClientCache {
	return &ClientCache{
		clients: make(map[string]CompletionClient),
		build:   NewCompletionClient,
	}
}

// Get returns a cached client for cfg or builds one.
func (c *ClientCache) Get(ctx context.Context, cfg ClientConfig) (CompletionClient, error) {
	key := cacheKey(cfg)

	c.mu.Lock()
	if client, ok := c.clients[key]; ok {
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	client, err := c.build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.clients[key] = client
	c.mu.Unlock()
	return client, nil
}

// Invalidate evicts all clients built with apiKey.
func (c *ClientCache) Invalidate(apiKey string) {
	if apiKey == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	suffix := "\x00" + apiKey
	for key := range c.clients {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			delete(c.clients, key)
		}
	}
}

func cacheKey(cfg ClientConfig) string {
	return cfg.Provider + "\x00" + cfg.Model + "\x00" + cfg.BaseURL + "\x00" + cfg.APIKey
}
