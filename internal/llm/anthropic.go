package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient adapts the Anthropic SDK to the engine's Client
// contract, using the non-beta message/stream flow (no computer-use
// tools in this engine's built-in tool set).
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// NewAnthropicClient constructs a Client backed by the Anthropic API.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: cfg.Model}, nil
}

func (c *AnthropicClient) buildParams(messages []ChatMessage, tools []ToolSpec) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
	}
	var converted []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.System = []anthropic.TextBlockParam{{Text: m.Content}}
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	params.Messages = converted

	if len(tools) > 0 {
		var toolParams []anthropic.ToolUnionParam
		for _, t := range tools {
			var schema anthropic.ToolInputSchemaParam
			if len(t.Schema) > 0 {
				var raw map[string]any
				if err := json.Unmarshal(t.Schema, &raw); err == nil {
					if props, ok := raw["properties"]; ok {
						schema.Properties = props
					}
				}
			}
			toolParams = append(toolParams, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: schema,
				},
			})
		}
		params.Tools = toolParams
	}
	return params, nil
}

// Stream issues a streaming completion, translating Anthropic SSE events
// into the engine's normalized StreamEvent shape.
func (c *AnthropicClient) Stream(ctx context.Context, messages []ChatMessage, tools []ToolSpec, ch chan<- StreamEvent) error {
	defer close(ch)
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)

	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	var toolCalls []ToolCallDelta
	var usage Usage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = int(ms.Message.Usage.InputTokens)
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				tu := cbs.ContentBlock.AsToolUse()
				currentToolID, currentToolName = tu.ID, tu.Name
				currentToolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					select {
					case ch <- StreamEvent{TokenDelta: delta.Text}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentToolName != "" {
				toolCalls = append(toolCalls, ToolCallDelta{ID: currentToolID, Name: currentToolName, Args: currentToolInput.String()})
				currentToolID, currentToolName = "", ""
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("llm: anthropic stream: %w", err)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	ch <- StreamEvent{Done: true, ToolCalls: toolCalls, Usage: &usage}
	return nil
}

// Complete collects a full completion without incremental token delivery.
func (c *AnthropicClient) Complete(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (string, []ToolCallDelta, *Usage, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return "", nil, nil, err
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", nil, nil, fmt.Errorf("llm: anthropic complete: %w", err)
	}
	var text strings.Builder
	var calls []ToolCallDelta
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			calls = append(calls, ToolCallDelta{ID: tu.ID, Name: tu.Name, Args: string(tu.Input)})
		}
	}
	usage := &Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return text.String(), calls, usage, nil
}
