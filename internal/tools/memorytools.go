package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

type memoryWriteArgs struct {
	Content  string  `json:"content"`
	Category string  `json:"category"`
	WriteTo  string  `json:"write_to"`
	Salience float64 `json:"salience"`
}

// NewMemoryWriteTool writes to the long-term store or today's daily
// log. When deps.ConsolidationEnabled and an LLM client are configured
// it runs the ADD/UPDATE/DELETE/NOOP decision via
// memstore.Store.Consolidate instead of a bare append, falling back to a
// direct add on failure.
func NewMemoryWriteTool(deps Deps) types.Tool {
	return types.Tool{
		Name: registry.MemoryWrite,
		Description: "Write a memory entry to long-term memory or today's daily log. Use for information " +
			"that should persist across sessions: preferences, facts, tasks, reflections, procedural notes.",
		Schema: schema(map[string]any{
			"content":  prop("string", "The information to remember. Be concise but specific."),
			"category": prop("string", "One of: preferences, facts, tasks, reflections, procedural, general."),
			"write_to": prop("string", "\"memory\" for long-term storage or \"daily\" for today's daily log."),
			"salience": prop("number", "Importance score 0.0-1.0. Default 0.5; use 0.8+ for critical information."),
		}, []string{"content"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			a := memoryWriteArgs{Category: "general", WriteTo: "memory", Salience: 0.5}
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("memory_write: invalid arguments: %w", err)
			}
			a.Content = strings.TrimSpace(a.Content)
			if a.Content == "" {
				return "❌ Error: content cannot be empty.", nil
			}
			if a.Category == "" {
				a.Category = "general"
			}
			if a.WriteTo == "" {
				a.WriteTo = "memory"
			}
			category := types.NormalizeCategory(types.MemoryCategory(a.Category))

			switch a.WriteTo {
			case "daily":
				if err := deps.Memory.AppendDailyLog(a.Content, "", "note", category, "", ""); err != nil {
					return fmt.Sprintf("❌ Error writing memory: %s", err), nil
				}
				return fmt.Sprintf("✅ Written to today's daily log: %s", preview(a.Content)), nil
			case "memory":
				return writeLongTermMemory(ctx, deps, a, category)
			default:
				return fmt.Sprintf("❌ Error: invalid write_to %q. Use \"memory\" or \"daily\".", a.WriteTo), nil
			}
		},
	}
}

func writeLongTermMemory(ctx context.Context, deps Deps, a memoryWriteArgs, category types.MemoryCategory) (string, error) {
	if deps.ConsolidationEnabled && deps.LLMClient != nil {
		entry, action, err := deps.Memory.Consolidate(ctx, deps.LLMClient, a.Content, category, a.Salience)
		if err != nil {
			deps.logger().Warn("memory consolidation failed, falling back to direct add", "error", err)
		} else {
			switch action {
			case memstore.ActionNoop:
				return fmt.Sprintf("ℹ️ Similar memory already exists, skipping: %s", preview(a.Content)), nil
			case memstore.ActionUpdate:
				return fmt.Sprintf("✅ Updated existing memory [%s]: %s\nEntry ID: %s", category, preview(a.Content), entry.ID), nil
			case memstore.ActionDelete:
				return fmt.Sprintf("✅ Replaced old memory [%s]: %s\nEntry ID: %s", category, preview(a.Content), entry.ID), nil
			default:
				return fmt.Sprintf("✅ Written to long-term memory [%s] (salience %.1f): %s\nEntry ID: %s", category, entry.Salience, preview(a.Content), entry.ID), nil
			}
		}
	}

	entry, err := deps.Memory.AddEntry(a.Content, category, a.Salience, "user_explicit", nil, false)
	if err != nil {
		return fmt.Sprintf("❌ Error writing memory: %s", err), nil
	}
	return fmt.Sprintf("✅ Written to long-term memory [%s] (salience %.1f): %s\nEntry ID: %s", category, entry.Salience, preview(a.Content), entry.ID), nil
}

func preview(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:100] + "..."
}

type memorySearchArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// NewMemorySearchTool searches the long-term store and daily logs via
// memstore.Store.Search (vector-or-text, decay-ranked); the tool itself
// is a thin formatting layer over the store.
func NewMemorySearchTool(deps Deps) types.Tool {
	return types.Tool{
		Name:        registry.MemorySearch,
		Description: "Search past memories (long-term store and daily logs) for information relevant to a query.",
		Schema: schema(map[string]any{
			"query": prop("string", "Search query describing what you're looking for."),
			"top_k": prop("integer", "Maximum number of results to return (default 5)."),
		}, []string{"query"}),
		Invoke: func(_ context.Context, raw json.RawMessage) (string, error) {
			a := memorySearchArgs{TopK: 5}
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("memory_search: invalid arguments: %w", err)
			}
			a.Query = strings.TrimSpace(a.Query)
			if a.Query == "" {
				return "❌ Error: query cannot be empty.", nil
			}
			if a.TopK <= 0 {
				a.TopK = 5
			}

			results, err := deps.Memory.Search(a.Query, a.TopK, true, "")
			if err != nil {
				return fmt.Sprintf("❌ Error searching memory: %s", err), nil
			}
			if len(results) == 0 {
				return fmt.Sprintf("No memories found relevant to %q.", a.Query), nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d relevant memories:\n\n", len(results))
			for i, r := range results {
				if i > 0 {
					sb.WriteString("\n---\n")
				}
				fmt.Fprintf(&sb, "[%s] (score: %.2f)\n%s", r.Source, r.Score, r.Content)
			}
			return sb.String(), nil
		},
	}
}
