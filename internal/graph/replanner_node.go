package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentengine/internal/llm"
)

// replanDecisionSchema constrains the replanner's structured output,
// validated with jsonschema (CompileString once, Validate per call)
// before unmarshaling into replanDecision, since the LLM's output is
// untrusted input.
const replanDecisionSchema = `{
	"type": "object",
	"properties": {
		"action":         {"type": "string", "enum": ["continue", "revise", "finish"]},
		"response":       {"type": "string"},
		"revised_steps":  {"type": "array", "items": {"type": "string"}},
		"reason":         {"type": "string"}
	},
	"required": ["action"]
}`

var compiledReplanSchema = mustCompileReplanSchema()

// mustCompileReplanSchema uses jsonschema.CompileString, the same
// package-level helper pkg/pluginsdk/validation.go calls, compiled once
// at package init since the schema is a fixed literal.
func mustCompileReplanSchema() *jsonschema.Schema {
	schema, err := jsonschema.CompileString("replan_decision.json", replanDecisionSchema)
	if err != nil {
		panic(err)
	}
	return schema
}

type replanDecision struct {
	Action       ReplanAction `json:"action"`
	Response     string       `json:"response"`
	RevisedSteps []string     `json:"revised_steps"`
	Reason       string       `json:"reason"`
}

var replanErrorIndicators = []string{"[ERROR]", "Exception:", "Traceback", "Error:", "failed"}

// replannerNode decides continue/revise/finish after each step: a
// heuristic pre-check skips the LLM call in the common case, otherwise
// an LLM call is made for a structured decision.
func replannerNode(ctx context.Context, deps *Deps, state *AgentState) error {
	if state.PlanData == nil {
		state.ReplanAction = ReplanFinish
		return nil
	}

	steps := state.PlanData.Steps
	stepIndex := state.CurrentStepIndex
	remaining := len(steps) - stepIndex

	if remaining <= 0 {
		state.ReplanAction = ReplanFinish
		return nil
	}

	skipOnSuccess := deps.Config.Graph.Nodes.Replanner.SkipOnSuccess
	if shouldSkipReplan(state.PastSteps, remaining, skipOnSuccess) {
		state.ReplanAction = ReplanContinue
		return nil
	}

	decision, err := evaluateReplan(ctx, deps.Client, deps.Sink, state.PlanData.Title, steps, state.PastSteps, stepIndex)
	if err != nil {
		deps.logger().Warn("replanner evaluation failed, defaulting to continue", "error", err, "session_id", state.SessionID)
		state.ReplanAction = ReplanContinue
		return nil
	}

	state.ReplanAction = decision.Action

	switch decision.Action {
	case ReplanFinish:
		for i := stepIndex; i < len(steps); i++ {
			state.emitPending("plan_updated", map[string]any{
				"plan_id": state.PlanData.PlanID, "step_id": steps[i].ID, "status": "completed",
			})
		}
		if decision.Response != "" {
			state.Messages = AppendMessages(state.Messages, Message{Role: "assistant", Content: decision.Response})
		}
	case ReplanRevise:
		if len(decision.RevisedSteps) == 0 {
			state.ReplanAction = ReplanContinue
			return nil
		}
		newSteps := make([]Step, 0, len(decision.RevisedSteps))
		for i, title := range decision.RevisedSteps {
			newSteps = append(newSteps, Step{ID: stepIndex + i + 1, Title: strings.TrimSpace(title), Status: StepPending})
		}
		updated := *state.PlanData
		updated.Steps = append(append([]Step(nil), steps[:stepIndex]...), newSteps...)
		state.PlanData = &updated
		state.emitPending("plan_revised", map[string]any{
			"plan_id": updated.PlanID, "revised_steps": newSteps, "keep_completed": stepIndex, "reason": decision.Reason,
		})
	}
	return nil
}

// shouldSkipReplan mirrors _should_skip_replan: a failing last step
// always forces an LLM evaluation even with one step left; a succeeding
// last step with one step remaining, or skip_on_success configured, both
// skip the LLM call.
func shouldSkipReplan(pastSteps []PastStep, remaining int, skipOnSuccess bool) bool {
	lastFailed := false
	if len(pastSteps) > 0 {
		last := pastSteps[len(pastSteps)-1].Result
		for _, indicator := range replanErrorIndicators {
			if strings.Contains(last, indicator) {
				lastFailed = true
				break
			}
		}
	}
	if lastFailed {
		return false
	}
	if remaining <= 1 {
		return true
	}
	return skipOnSuccess
}

func evaluateReplan(ctx context.Context, client llm.Client, sink Sink, planTitle string, steps []Step, pastSteps []PastStep, stepIndex int) (*replanDecision, error) {
	var pastLines []string
	for i, ps := range pastSteps {
		pastLines = append(pastLines, fmt.Sprintf("step %d [%s]: %s", i+1, ps.Title, truncateRunes(ps.Result, 200)))
	}
	var remainingLines []string
	for i, s := range steps[stepIndex:] {
		remainingLines = append(remainingLines, fmt.Sprintf("step %d: %s", stepIndex+i+1, s.Title))
	}

	prompt := fmt.Sprintf(`You evaluate execution progress against a plan and decide whether to adjust it.

plan: %s

completed steps:
%s

remaining steps:
%s

Choose one action:
- continue: remaining steps are fine, proceed to the next one
- revise: the remaining steps need to change based on what's been completed
- finish: the goal has already been reached, stop executing remaining steps

Reply as JSON with fields: action, response, revised_steps, reason.`,
		planTitle, strings.Join(pastLines, "\n"), strings.Join(remainingLines, "\n"))

	if sink != nil {
		sink.OnLLMStart("replanner", prompt)
	}
	start := time.Now()
	text, _, usage, err := client.Complete(ctx, []llm.ChatMessage{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		return nil, fmt.Errorf("replanner: llm completion: %w", err)
	}
	if sink != nil {
		sink.OnLLMEnd("replanner", time.Since(start).Milliseconds(), usage, prompt, text)
	}

	raw := extractJSONObject(text)
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("replanner: decode json: %w", err)
	}
	if err := compiledReplanSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("replanner: decision failed schema validation: %w", err)
	}

	var decision replanDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("replanner: unmarshal decision: %w", err)
	}
	return &decision, nil
}

// extractJSONObject trims any prose a model might wrap the JSON payload
// in, returning the substring from the first '{' to the last '}'.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
