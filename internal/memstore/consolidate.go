package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/types"
)

// ConsolidateThreshold is the semantic-similarity score above which a
// candidate memory triggers an LLM-mediated consolidation decision instead
// of a plain insert. Independent of DedupThreshold (word-set Jaccard):
// these are separate knobs measured differently.
const ConsolidateThreshold = 0.7

// ConsolidationAction is the LLM's decision on a candidate memory.
type ConsolidationAction string

const (
	ActionAdd    ConsolidationAction = "ADD"
	ActionUpdate ConsolidationAction = "UPDATE"
	ActionDelete ConsolidationAction = "DELETE"
	ActionNoop   ConsolidationAction = "NOOP"
)

type consolidationDecision struct {
	Action        ConsolidationAction `json:"action"`
	TargetID      string              `json:"target_id,omitempty"`
	MergedContent string              `json:"merged_content,omitempty"`
}

// Consolidate decides whether content should be inserted as a new memory,
// merged into an existing one, replace one, or be dropped as redundant.
// It searches for up to 3 high-similarity same-category candidates
// (score >= ConsolidateThreshold); with none, it ADDs directly. Otherwise
// it asks client for a structured decision; on any LLM failure it
// fails open and defaults to ADD.
func (s *Store) Consolidate(ctx context.Context, client llm.Client, content string, category types.MemoryCategory, salience float64) (types.MemoryEntry, ConsolidationAction, error) {
	category = types.NormalizeCategory(category)

	candidates, err := s.Search(content, 10, false, category)
	if err != nil {
		return types.MemoryEntry{}, "", err
	}
	var similar []SearchResult
	for _, c := range candidates {
		if c.ID == "" {
			continue // daily-log hits aren't consolidation targets
		}
		if c.Score >= ConsolidateThreshold {
			similar = append(similar, c)
			if len(similar) == 3 {
				break
			}
		}
	}

	if len(similar) == 0 {
		entry, err := s.AddEntry(content, category, salience, "consolidation", nil, false)
		return entry, ActionAdd, err
	}

	decision, err := s.askConsolidationLLM(ctx, client, content, similar)
	if err != nil {
		s.logger.Warn("consolidation LLM call failed, defaulting to ADD", "error", err)
		entry, err := s.AddEntry(content, category, salience, "consolidation", nil, true)
		return entry, ActionAdd, err
	}

	switch decision.Action {
	case ActionUpdate:
		if decision.TargetID == "" {
			return types.MemoryEntry{}, "", fmt.Errorf("memstore: UPDATE decision missing target_id")
		}
		target, ok, err := s.ByID(decision.TargetID)
		if err != nil {
			return types.MemoryEntry{}, "", err
		}
		if !ok {
			return types.MemoryEntry{}, "", fmt.Errorf("memstore: UPDATE target %s not found", decision.TargetID)
		}
		newContent := decision.MergedContent
		if newContent == "" {
			newContent = content
		}
		// The target's salience is raised to at least 0.5 (and to the
		// candidate's salience if that is higher); it is never lowered.
		newSalience := target.Salience
		if salience > newSalience {
			newSalience = salience
		}
		if newSalience < 0.5 {
			newSalience = 0.5
		}
		entry, err := s.UpdateEntry(decision.TargetID, &newContent, nil, &newSalience)
		s.MarkDirty()
		return entry, ActionUpdate, err
	case ActionDelete:
		if decision.TargetID != "" {
			if err := s.DeleteEntry(decision.TargetID); err != nil {
				return types.MemoryEntry{}, "", err
			}
		}
		entry, err := s.AddEntry(content, category, salience, "consolidation", nil, true)
		s.MarkDirty()
		return entry, ActionDelete, err
	case ActionNoop:
		return types.MemoryEntry{}, ActionNoop, nil
	default: // ActionAdd or unrecognised
		entry, err := s.AddEntry(content, category, salience, "consolidation", nil, true)
		return entry, ActionAdd, err
	}
}

func (s *Store) askConsolidationLLM(ctx context.Context, client llm.Client, content string, similar []SearchResult) (consolidationDecision, error) {
	var b strings.Builder
	b.WriteString("You are deciding how a new memory relates to existing ones.\n")
	fmt.Fprintf(&b, "New candidate: %q\n\nExisting similar memories:\n", content)
	for _, sim := range similar {
		fmt.Fprintf(&b, "- id=%s: %q (salience=%.2f)\n", sim.ID, sim.Content, sim.Salience)
	}
	b.WriteString("\nReply with ONLY a JSON object: {\"action\": \"ADD\"|\"UPDATE\"|\"DELETE\"|\"NOOP\", \"target_id\": \"...\", \"merged_content\": \"...\"}.")

	text, _, _, err := client.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: "You output only valid JSON, no prose."},
		{Role: "user", Content: b.String()},
	}, nil)
	if err != nil {
		return consolidationDecision{}, err
	}

	var decision consolidationDecision
	if err := json.Unmarshal([]byte(extractJSON(text)), &decision); err != nil {
		return consolidationDecision{}, fmt.Errorf("memstore: parse consolidation decision: %w", err)
	}
	return decision, nil
}

// extractJSON trims leading/trailing prose a model sometimes wraps around
// a JSON object or array, returning the substring from the first '{' or
// '[' to the matching last '}' or ']'.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	end := strings.LastIndexAny(text, "}]")
	if end < start {
		return text
	}
	return text[start : end+1]
}
