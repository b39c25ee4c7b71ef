package tools

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

// planCreateArgs accepts steps as either plain strings or small objects
// (LLMs sometimes send {"step": "..."} instead of a bare string).
type planCreateArgs struct {
	Title string            `json:"title"`
	Steps []json.RawMessage `json:"steps"`
}

// NewPlanCreateTool is a pure function: it returns a confirmation string
// carrying a fresh plan id and step count. It never touches the gate
// (plan creation is not itself risky) and the graph's agent node is the
// one that parses the confirmation to populate AgentState.Plan.
func NewPlanCreateTool(_ Deps) types.Tool {
	return types.Tool{
		Name: registry.PlanCreate,
		Description: "Create a multi-step execution plan. Only call this when the task genuinely " +
			"needs more than a few steps across multiple tools; never for simple questions or single-step calls.",
		Schema: schema(map[string]any{
			"title": prop("string", "Short title for the plan."),
			"steps": map[string]any{
				"type":        "array",
				"description": "Ordered list of step descriptions, each roughly one short sentence.",
				"items":       map[string]any{"type": "string"},
			},
		}, []string{"title", "steps"}),
		Invoke: func(_ context.Context, raw json.RawMessage) (string, error) {
			var a planCreateArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("plan_create: invalid arguments: %w", err)
			}
			if strings.TrimSpace(a.Title) == "" {
				return "Error: Plan title cannot be empty.", nil
			}
			if len(a.Steps) == 0 {
				return "Error: Plan must have at least one step.", nil
			}

			normalized := make([]string, 0, len(a.Steps))
			for _, raw := range a.Steps {
				normalized = append(normalized, normalizeStep(raw))
			}

			planID := newPlanID()
			return fmt.Sprintf("Plan created: plan_id=%s, %d steps. System will now auto-execute each step.", planID, len(normalized)), nil
		},
	}
}

func normalizeStep(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		for _, key := range []string{"step", "title", "description"} {
			if v, ok := m[key].(string); ok {
				return strings.TrimSpace(v)
			}
		}
		for _, v := range m {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

func newPlanID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
