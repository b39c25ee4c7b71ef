package graph

import (
	"context"
	"encoding/json"
	"strings"
)

// agentNode runs the top-level ReAct loop. New messages are merged by
// AppendMessages inside the react loop, and state.Messages is set to the
// full accumulated transcript on return; AgentOutcome/PlanData are set
// accordingly.
func agentNode(ctx context.Context, deps *Deps, state *AgentState) error {
	cfg := deps.Config.Graph.Nodes.Agent
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}

	result, err := runReactLoop(ctx, deps.Client, "agent", state.Messages, deps.AgentTools, maxIterations, deps.toolTimeout(), true, deps.Sink)
	if err != nil {
		return err
	}
	state.Messages = result.Transcript
	state.AgentIterations = result.Iterations

	if result.CappedAt {
		deps.logger().Warn("agent node hit max_iterations", "max_iterations", maxIterations, "session_id", state.SessionID)
	}

	if result.PlanCall != nil {
		plan := parsePlanFromToolResult(result.PlanCall.Result, result.PlanCall.Args)
		if plan != nil {
			state.PlanData = plan
			state.AgentOutcome = OutcomePlanCreate
			return nil
		}
	}

	state.AgentOutcome = OutcomeRespond
	return nil
}

// parsePlanFromToolResult recovers a Plan from plan_create's confirmation
// string ("Plan created: plan_id=xxx, N steps. ...") plus the tool
// call's title/steps arguments.
func parsePlanFromToolResult(resultStr string, rawArgs json.RawMessage) *Plan {
	const marker = "plan_id="
	idx := strings.Index(resultStr, marker)
	if idx < 0 {
		return nil
	}
	rest := resultStr[idx+len(marker):]
	planID := rest
	if comma := strings.Index(rest, ","); comma >= 0 {
		planID = rest[:comma]
	}
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil
	}

	var args struct {
		Title string            `json:"title"`
		Steps []json.RawMessage `json:"steps"`
	}
	_ = json.Unmarshal(rawArgs, &args)

	steps := make([]Step, 0, len(args.Steps))
	for i, raw := range args.Steps {
		steps = append(steps, Step{ID: i + 1, Title: normalizeStepText(raw), Status: StepPending})
	}

	return &Plan{PlanID: planID, Title: strings.TrimSpace(args.Title), Steps: steps}
}

func normalizeStepText(raw json.RawMessage) string {
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
