package graph

import (
	"context"
	"fmt"
	"strings"
)

// executorNode runs an independent ReAct loop for the current plan
// step. Its inner
// transcript is NOT persisted to graph state; only a short summary
// message and the trimmed step response are.
func executorNode(ctx context.Context, deps *Deps, state *AgentState) error {
	if state.PlanData == nil {
		state.StepResponse = "[ERROR] no plan data"
		return nil
	}

	steps := state.PlanData.Steps
	stepIndex := state.CurrentStepIndex
	if stepIndex >= len(steps) {
		state.StepResponse = "[DONE] all steps completed"
		return nil
	}

	step := steps[stepIndex]
	planID := state.PlanData.PlanID
	planTitle := state.PlanData.Title

	state.emitPending("plan_updated", map[string]any{"plan_id": planID, "step_id": step.ID, "status": "running"})

	executorPrompt := buildExecutorPrompt(state.SystemPrompt, planTitle, step.Title, stepIndex, len(steps), state.PastSteps)

	seed := []Message{{Role: "system", Content: executorPrompt}}
	seed = append(seed, recentUserMessages(state.Messages, 3)...)
	seed = append(seed, Message{Role: "user", Content: fmt.Sprintf("execute step %d: %s", stepIndex+1, step.Title)})

	cfg := deps.Config.Graph.Nodes.Executor
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 30
	}

	result, err := runReactLoop(ctx, deps.Client, "executor", seed, deps.ExecutorTools, maxIterations, deps.toolTimeout(), false, deps.Sink)

	stepStatus := StepCompleted
	stepResponse := result.FinalText
	if err != nil {
		stepStatus = StepFailed
		stepResponse = fmt.Sprintf("[ERROR] %s", err)
		deps.logger().Error("executor step failed", "step", stepIndex+1, "error", err, "session_id", state.SessionID)
	} else if result.CappedAt {
		deps.logger().Warn("executor node hit max_iterations", "max_iterations", maxIterations, "step", stepIndex+1)
	}

	state.emitPending("plan_updated", map[string]any{"plan_id": planID, "step_id": step.ID, "status": string(stepStatus)})

	updated := *state.PlanData
	updated.Steps = append([]Step(nil), steps...)
	updated.Steps[stepIndex].Status = stepStatus
	state.PlanData = &updated

	// The "[步骤" prefix is load-bearing: plan_gate's context extraction
	// filters these summaries out of the agent-analysis section by it.
	summary := fmt.Sprintf("[步骤 %d/%d - %s] %s", stepIndex+1, len(steps), step.Title, truncateRunes(stepResponse, 500))
	state.Messages = AppendMessages(state.Messages, Message{Role: "assistant", Content: summary})

	state.StepResponse = truncateRunes(stepResponse, 1000)
	state.PastSteps = append(state.PastSteps, PastStep{Title: step.Title, Result: truncateRunes(stepResponse, 1000)})
	state.CurrentStepIndex = stepIndex + 1
	return nil
}

func buildExecutorPrompt(systemPrompt, planTitle, stepTitle string, stepIndex, totalSteps int, pastSteps []PastStep) string {
	var pastSection string
	if len(pastSteps) > 0 {
		var lines []string
		for i, ps := range pastSteps {
			lines = append(lines, fmt.Sprintf("step %d [%s]: %s", i+1, ps.Title, truncateRunes(ps.Result, 300)))
		}
		pastSection = "completed steps so far:\n" + strings.Join(lines, "\n")
	}

	return fmt.Sprintf("%s\n\nplan: %s\ncurrent step (%d/%d): %s\n\n%s\n\nFocus on completing only the current step. Summarize the result briefly when done.",
		systemPrompt, planTitle, stepIndex+1, totalSteps, stepTitle, pastSection)
}

func recentUserMessages(messages []Message, limit int) []Message {
	var out []Message
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		out = append(out, Message{Role: "user", Content: m.Content})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
