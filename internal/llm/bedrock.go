package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockClient adapts the AWS Bedrock Converse API to the engine's Client
// contract, giving the Model Pool a third selectable provider. This
// adapter uses the non-streaming Converse call (ConverseStream's
// event-union decoding is skipped — Bedrock is exercised here as an
// additional pool provider, not as the primary streaming path, which is
// Anthropic's native SDK).
type BedrockClient struct {
	client *bedrockruntime.Client
	model  string
}

// BedrockConfig configures a BedrockClient.
type BedrockConfig struct {
	Region string
	Model  string
}

// NewBedrockClient constructs a Client backed by AWS Bedrock, using the
// default AWS credential chain (env vars, shared config, IAM role).
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Model == "" {
		cfg.Model = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: load AWS config: %w", err)
	}
	return &BedrockClient{client: bedrockruntime.NewFromConfig(awsCfg), model: cfg.Model}, nil
}

func (c *BedrockClient) converse(ctx context.Context, messages []ChatMessage) (*bedrockruntime.ConverseOutput, error) {
	var converted []types.Message
	var system []types.SystemContentBlock
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		converted = append(converted, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	req := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: converted,
		System:   system,
	}
	return c.client.Converse(ctx, req)
}

// Complete issues a single Converse call and returns the assembled text.
func (c *BedrockClient) Complete(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (string, []ToolCallDelta, *Usage, error) {
	out, err := c.converse(ctx, messages)
	if err != nil {
		return "", nil, nil, fmt.Errorf("llm: bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", nil, nil, fmt.Errorf("llm: bedrock converse: unexpected output shape")
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	var usage *Usage
	if out.Usage != nil {
		usage = &Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return text, nil, usage, nil
}

// Stream emulates streaming by issuing a single Converse call and
// replaying the whole result as one token event, matching the engine's
// contract for providers that are exercised mainly non-interactively
// (the executor's small per-step calls tolerate this; the interactive
// agent loop defaults to the Anthropic/OpenAI pool scenarios instead).
func (c *BedrockClient) Stream(ctx context.Context, messages []ChatMessage, tools []ToolSpec, ch chan<- StreamEvent) error {
	defer close(ch)
	text, calls, usage, err := c.Complete(ctx, messages, tools)
	if err != nil {
		return err
	}
	if text != "" {
		select {
		case ch <- StreamEvent{TokenDelta: text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch <- StreamEvent{Done: true, ToolCalls: calls, Usage: usage}
	return nil
}
