package graph

import (
	"context"
	"fmt"
	"strings"
)

// summarizerNode assembles a digest of past_steps, clears the plan, and
// hands control back to the agent node so it can produce the final
// user-facing reply.
func summarizerNode(_ context.Context, _ *Deps, state *AgentState) error {
	planTitle := "plan"
	var planID string
	if state.PlanData != nil {
		if state.PlanData.Title != "" {
			planTitle = state.PlanData.Title
		}
		planID = state.PlanData.PlanID
	}

	var lines []string
	for i, ps := range state.PastSteps {
		lines = append(lines, fmt.Sprintf("## 步骤 %d [%s]: %s", i+1, ps.Title, truncateRunes(ps.Result, 200)))
	}

	summary := fmt.Sprintf(`Plan "%s" has finished executing. Here are the results of each step:

%s

Based on the above results, write a final summary for the user. If a key goal was not fully reached, explain why and suggest next steps.`,
		planTitle, strings.Join(lines, "\n"))

	state.Messages = AppendMessages(state.Messages, Message{Role: "system", Content: summary})

	if state.PlanData != nil {
		for _, step := range state.PlanData.Steps {
			if step.Status == StepPending {
				state.emitPending("plan_updated", map[string]any{"plan_id": planID, "step_id": step.ID, "status": "completed"})
			}
		}
	}

	state.PlanData = nil
	state.CurrentStepIndex = 0
	state.PastSteps = nil
	state.AgentOutcome = OutcomeNone
	state.ReplanAction = ReplanNone
	return nil
}
