package graph

import (
	"context"
	"fmt"
	"strings"
)

const planContextMaxChars = 3000

// planGateNode resets the step index, builds plan_context from the
// agent-phase transcript, and emits a plan_created side-event.
func planGateNode(_ context.Context, _ *Deps, state *AgentState) error {
	if state.PlanData == nil {
		return nil
	}

	state.CurrentStepIndex = 0
	state.PlanContext = buildPlanContext(state.Messages)
	state.emitPending("plan_created", map[string]any{"plan": state.PlanData})
	return nil
}

// buildPlanContext extracts user requests, truncated tool results, and
// the agent's own text analysis from the transcript so the executor has
// more than a bare step title to work from.
func buildPlanContext(messages []Message) string {
	var parts []string
	for _, m := range messages {
		switch m.Role {
		case "user":
			parts = append(parts, fmt.Sprintf("[user request] %s", m.Content))
		case "tool":
			parts = append(parts, fmt.Sprintf("[tool result: %s] %s", m.Name, truncateRunes(m.Content, 500)))
		case "assistant":
			content := strings.TrimSpace(m.Content)
			if content != "" && !strings.HasPrefix(content, "[步骤") {
				parts = append(parts, fmt.Sprintf("[agent analysis] %s", truncateRunes(content, 300)))
			}
		}
	}

	result := strings.Join(parts, "\n")
	if len(result) > planContextMaxChars {
		result = result[:planContextMaxChars] + "\n...[truncated]"
	}
	return result
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
