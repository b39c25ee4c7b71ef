// Package reflection implements post-run session reflection: it reads
// the just-finished conversation, asks an LLM what is worth remembering,
// and applies the resulting ADD/UPDATE/NOOP decisions to the memory
// store, ending with a single summary line in today's daily log.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/types"
)

const (
	maxMessages        = 10
	maxToolCalls       = 10
	maxRelatedMemories = 10
)

// ToolCallSummary is one tool invocation from the session, condensed for
// the reflection prompt. IsError marks results that start with "[ERROR]"
// or the gate's denial prefixes; those are the calls procedural lessons
// come from.
type ToolCallSummary struct {
	Tool    string
	Input   string
	Result  string
	IsError bool
}

// SessionSource yields the finished session's transcript. Implemented by
// the session-persistence collaborator (out of the core's scope); tests
// and the CLI use in-memory recordings of the run they just streamed.
type SessionSource interface {
	Transcript(sessionID string) ([]types.Message, []ToolCallSummary, error)
}

// decision mirrors the JSON array elements the reflection prompt asks the
// model to return.
type decision struct {
	Action   string  `json:"action"` // ADD | UPDATE | NOOP
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Salience float64 `json:"salience"`
	TargetID string  `json:"target_id,omitempty"`
	Tool     string  `json:"tool,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Reflector runs session reflection. It satisfies runner.Reflector.
type Reflector struct {
	store    *memstore.Store
	pool     *llm.Pool
	sessions SessionSource
	logger   *slog.Logger
}

// New constructs a Reflector.
func New(store *memstore.Store, pool *llm.Pool, sessions SessionSource, logger *slog.Logger) *Reflector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reflector{store: store, pool: pool, sessions: sessions, logger: logger.With("component", "reflection")}
}

// Reflect analyses sessionID's conversation and persists what the model
// judged worth keeping. Every failure is soft for the caller (the Runner
// fires this on a goroutine and only logs), but errors are still returned
// so tests and the CLI can observe them.
func (r *Reflector) Reflect(ctx context.Context, sessionID string) error {
	messages, toolCalls, err := r.sessions.Transcript(sessionID)
	if err != nil {
		return fmt.Errorf("reflection: load session %s: %w", sessionID, err)
	}
	if len(messages) == 0 && len(toolCalls) == 0 {
		return nil
	}
	if len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}
	if len(toolCalls) > maxToolCalls {
		toolCalls = toolCalls[len(toolCalls)-maxToolCalls:]
	}

	related := r.relatedMemories(messages)

	client, err := r.pool.Client(ctx, "llm")
	if err != nil {
		return fmt.Errorf("reflection: resolve llm client: %w", err)
	}

	decisions, err := r.askLLM(ctx, client, messages, toolCalls, related)
	if err != nil {
		return err
	}

	applied := 0
	for _, d := range decisions {
		if err := r.apply(sessionID, d); err != nil {
			r.logger.Warn("reflection decision failed", "action", d.Action, "error", err)
			continue
		}
		if d.Action != "NOOP" {
			applied++
		}
	}

	line := fmt.Sprintf("Session %s reflected: %d decisions, %d applied", sessionID, len(decisions), applied)
	if err := r.store.AppendDailyLog(line, "", "reflection", types.CategoryReflections, "", ""); err != nil {
		r.logger.Warn("reflection daily-log append failed", "error", err)
	}
	return nil
}

// relatedMemories searches the store with the session's user messages so
// the model can UPDATE an existing memory instead of duplicating it.
// Search failures degrade to an empty context block.
func (r *Reflector) relatedMemories(messages []types.Message) []memstore.SearchResult {
	var query strings.Builder
	for _, m := range messages {
		if m.Role == types.RoleUser {
			query.WriteString(m.Content)
			query.WriteString(" ")
		}
	}
	if strings.TrimSpace(query.String()) == "" {
		return nil
	}
	results, err := r.store.Search(query.String(), maxRelatedMemories, true, "")
	if err != nil {
		r.logger.Warn("reflection related-memory search failed", "error", err)
		return nil
	}
	return results
}

func (r *Reflector) askLLM(ctx context.Context, client llm.Client, messages []types.Message, toolCalls []ToolCallSummary, related []memstore.SearchResult) ([]decision, error) {
	var b strings.Builder
	b.WriteString("Review this finished session and decide what should enter long-term memory.\n\n")

	b.WriteString("Conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, clip(m.Content, 300))
	}

	if len(toolCalls) > 0 {
		b.WriteString("\nTool calls:\n")
		for _, tc := range toolCalls {
			marker := "ok"
			if tc.IsError {
				marker = "FAILED"
			}
			fmt.Fprintf(&b, "- %s(%s) -> [%s] %s\n", tc.Tool, clip(tc.Input, 120), marker, clip(tc.Result, 200))
		}
	}

	if len(related) > 0 {
		b.WriteString("\nExisting related memories (reuse their id as target_id for UPDATE):\n")
		for _, m := range related {
			if m.ID == "" {
				continue
			}
			fmt.Fprintf(&b, "- id=%s [%s] %s\n", m.ID, m.Category, clip(m.Content, 200))
		}
	}

	b.WriteString("\nFor failed tool calls, record the lesson as a \"procedural\" memory naming the tool.\n")
	b.WriteString("Reply with ONLY a JSON array, each element {\"action\": \"ADD\"|\"UPDATE\"|\"NOOP\", \"content\": \"...\", \"category\": \"preferences\"|\"facts\"|\"tasks\"|\"reflections\"|\"procedural\"|\"general\", \"salience\": 0.0-1.0, \"target_id\": \"...\", \"tool\": \"...\", \"reason\": \"...\"}. Return [] when nothing is worth keeping.")

	text, _, _, err := client.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: "You output only valid JSON, no prose."},
		{Role: "user", Content: b.String()},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("reflection: llm call: %w", err)
	}

	var decisions []decision
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &decisions); err != nil {
		return nil, fmt.Errorf("reflection: parse decisions: %w", err)
	}
	return decisions, nil
}

// apply executes a single decision through the store. ADDs skip dedup (the
// model has already judged novelty) and carry the session id as
// learned_from provenance.
func (r *Reflector) apply(sessionID string, d decision) error {
	switch d.Action {
	case "ADD":
		if strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("ADD decision with empty content")
		}
		mctx := &types.MemoryContext{LearnedFrom: sessionID, Tool: d.Tool}
		_, err := r.store.AddEntry(d.Content, types.MemoryCategory(d.Category), d.Salience, "reflection", mctx, true)
		return err
	case "UPDATE":
		if d.TargetID == "" {
			return fmt.Errorf("UPDATE decision missing target_id")
		}
		content := d.Content
		salience := d.Salience
		_, err := r.store.UpdateEntry(d.TargetID, &content, nil, &salience)
		return err
	case "NOOP", "":
		return nil
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// extractJSONArray trims any prose the model wrapped around the JSON
// array it was asked for.
func extractJSONArray(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
