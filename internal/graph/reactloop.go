package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/types"
)

// reactLoopResult summarizes one runReactLoop call.
type reactLoopResult struct {
	// Transcript is the full message list (seed + every turn produced).
	Transcript []Message
	// FinalText is the assistant's last text content when the loop ended
	// without a tool call.
	FinalText string
	// Iterations is the number of LLM round-trips performed.
	Iterations int
	// CappedAt marks the loop was stopped by max_iterations rather than a
	// natural no-tool-calls exit.
	CappedAt bool
	// PlanCall, when non-nil, is the plan_create tool call that ended the
	// loop (the agent node uses this to build a Plan).
	PlanCall *planCallResult
}

type planCallResult struct {
	Args   json.RawMessage
	Result string
}

// runReactLoop drives the hand-written ReAct loop shared by the agent
// node and the executor node's inner loop: call the LLM, append its
// reply, stop if it requested no tools, otherwise execute each requested
// tool (each bounded by toolTimeout) and feed results back.
//
// node names which graph node is calling ("agent" or "executor"), passed
// through to sink for llm_start/llm_end tagging; it has no effect on
// control flow. sink may be nil.
//
// detectPlanCreate, when true, makes the loop stop as soon as a
// successful (non "[ERROR]") plan_create call is observed, matching the
// agent node's exit-on-plan_create behavior; the executor node runs with
// it false since plan_create is never in its tool set.
func runReactLoop(ctx context.Context, client llm.Client, node string, seed []Message, tools []types.Tool, maxIterations int, toolTimeout time.Duration, detectPlanCreate bool, sink Sink) (reactLoopResult, error) {
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}

	toolByName := make(map[string]types.Tool, len(tools))
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		toolByName[t.Name] = t
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}

	transcript := append([]Message(nil), seed...)
	result := reactLoopResult{Transcript: transcript}

	for iterations := 0; iterations < maxIterations; iterations++ {
		result.Iterations = iterations + 1

		chatMsgs := toChatMessages(transcript)
		inputDebug := formatDebugInput(chatMsgs)
		if sink != nil {
			sink.OnLLMStart(node, inputDebug)
		}
		start := time.Now()
		text, toolCalls, usage, err := streamComplete(ctx, client, chatMsgs, specs, sink)
		if err != nil {
			return result, fmt.Errorf("graph: react loop: llm completion: %w", err)
		}
		if sink != nil {
			sink.OnLLMEnd(node, time.Since(start).Milliseconds(), usage, inputDebug, text)
		}

		assistantMsg := Message{Role: "assistant", Content: text}
		if len(toolCalls) == 0 {
			transcript = AppendMessages(transcript, assistantMsg)
			result.Transcript = transcript
			result.FinalText = text
			return result, nil
		}

		calls := make([]ToolCall, 0, len(toolCalls))
		for _, tc := range toolCalls {
			calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Args: []byte(tc.Args)})
		}
		assistantMsg.ToolCalls = calls
		transcript = AppendMessages(transcript, assistantMsg)

		planHit := false
		for _, call := range calls {
			if sink != nil {
				sink.OnToolStart(call.Name, string(call.Args))
			}
			toolStart := time.Now()
			resultStr := invokeToolWithTimeout(ctx, toolByName, call.Name, call.Args, toolTimeout)
			if sink != nil {
				sink.OnToolEnd(call.Name, resultStr, strings.HasPrefix(resultStr, "[CACHE_HIT]"), time.Since(toolStart).Milliseconds())
			}
			transcript = AppendMessages(transcript, Message{
				Role:       "tool",
				Name:       call.Name,
				Content:    resultStr,
				ToolCallID: call.ID,
			})

			if detectPlanCreate && call.Name == "plan_create" && !containsError(resultStr) {
				result.PlanCall = &planCallResult{Args: call.Args, Result: resultStr}
				planHit = true
				break
			}
		}
		result.Transcript = transcript
		if planHit {
			return result, nil
		}
	}

	result.CappedAt = true
	return result, nil
}

// streamComplete drives client.Stream to completion, forwarding token
// deltas to sink (if non-nil) and accumulating the final text, tool
// calls, and usage of one logical completion call.
func streamComplete(ctx context.Context, client llm.Client, msgs []llm.ChatMessage, specs []llm.ToolSpec, sink Sink) (string, []llm.ToolCallDelta, *llm.Usage, error) {
	ch := make(chan llm.StreamEvent)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Stream(ctx, msgs, specs, ch)
	}()

	var text strings.Builder
	var toolCalls []llm.ToolCallDelta
	var usage *llm.Usage
	for ev := range ch {
		if ev.TokenDelta != "" {
			text.WriteString(ev.TokenDelta)
			if sink != nil {
				sink.OnToken(ev.TokenDelta)
			}
		}
		if len(ev.ToolCalls) > 0 {
			toolCalls = ev.ToolCalls
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
	}
	if err := <-errCh; err != nil {
		return "", nil, nil, err
	}
	return text.String(), toolCalls, usage, nil
}

// formatDebugInput renders the fixed "[System Prompt] ... [Messages]
// ..." structure used only for llm_start/llm_end's debug input field,
// not for the actual completion call.
func formatDebugInput(msgs []llm.ChatMessage) string {
	var systemPrompt string
	var rest []llm.ChatMessage
	for i, m := range msgs {
		if i == 0 && m.Role == "system" {
			systemPrompt = m.Content
			continue
		}
		rest = append(rest, m)
	}
	var b strings.Builder
	b.WriteString("[System Prompt]\n")
	b.WriteString(systemPrompt)
	b.WriteString("\n\n[Messages]\n")
	for i, m := range rest {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", m.Role, m.Content)
	}
	return b.String()
}

func containsError(s string) bool {
	return len(s) >= 7 && s[:7] == "[ERROR]"
}

// invokeToolWithTimeout looks up name in toolByName and invokes it, bounding
// the call at timeout regardless of whether the tool itself honors ctx
// cancellation, matching "[ERROR] tool timed out (Ns)" conventions used
// throughout this engine's built-in tools.
func invokeToolWithTimeout(ctx context.Context, toolByName map[string]types.Tool, name string, args json.RawMessage, timeout time.Duration) string {
	tool, ok := toolByName[name]
	if !ok {
		return fmt.Sprintf("[ERROR] unknown tool: %s", name)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := tool.Invoke(cctx, args)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-cctx.Done():
		return fmt.Sprintf("[ERROR] tool timed out (%ds)", int(timeout.Seconds()))
	case o := <-done:
		if o.err != nil {
			return fmt.Sprintf("[ERROR] tool execution failed: %s", o.err)
		}
		return o.text
	}
}

// toChatMessages flattens graph.Message transcripts into the minimal
// llm.ChatMessage shape. Tool results are rendered as plain text tagged
// with the tool name since llm.ChatMessage carries no tool-call metadata
// (a deliberate simplification of the provider-agnostic client contract,
// not something this package can change).
func toChatMessages(msgs []Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if m.Role == "tool" {
			content = fmt.Sprintf("[tool result: %s] %s", m.Name, m.Content)
		}
		out = append(out, llm.ChatMessage{Role: m.Role, Content: content})
	}
	return out
}
