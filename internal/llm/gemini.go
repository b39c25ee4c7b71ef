package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient adapts google.golang.org/genai to the engine's Client
// contract, giving the Model Pool a fourth selectable provider.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// NewGeminiClient constructs a Client backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: new client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model}, nil
}

func toGeminiContents(messages []ChatMessage) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case "assistant":
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents, cfg
}

// Complete issues a single generateContent call and returns the assembled
// text.
func (c *GeminiClient) Complete(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (string, []ToolCallDelta, *Usage, error) {
	contents, cfg := toGeminiContents(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", nil, nil, fmt.Errorf("llm: gemini generate: %w", err)
	}
	text := resp.Text()
	var usage *Usage
	if resp.UsageMetadata != nil {
		usage = &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return text, nil, usage, nil
}

// Stream issues a streaming generateContent call and forwards each chunk's
// text as a token event.
func (c *GeminiClient) Stream(ctx context.Context, messages []ChatMessage, tools []ToolSpec, ch chan<- StreamEvent) error {
	defer close(ch)
	contents, cfg := toGeminiContents(messages)
	var usage Usage
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("llm: gemini stream: %w", err)
		}
		if text := resp.Text(); text != "" {
			select {
			case ch <- StreamEvent{TokenDelta: text}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if resp.UsageMetadata != nil {
			usage = Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}
	}
	ch <- StreamEvent{Done: true, Usage: &usage}
	return nil
}
