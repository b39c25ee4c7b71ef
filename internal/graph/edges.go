package graph

// End is the routing sentinel meaning "stop the run".
const End = "__end__"

// edgeFunc decides the next node name (or End) from the current state.
type edgeFunc func(state *AgentState) string

func routeAfterAgent(state *AgentState) string {
	if state.AgentOutcome == OutcomePlanCreate && state.PlanData != nil {
		return "plan_gate"
	}
	return End
}

func routeAfterApproval(state *AgentState) string {
	if state.PlanData == nil {
		return "agent"
	}
	return "executor"
}

func routeAfterReplanner(summarizerEnabled bool) edgeFunc {
	return func(state *AgentState) string {
		if state.ReplanAction == ReplanFinish {
			if summarizerEnabled {
				return "summarizer"
			}
			return End
		}
		return "executor"
	}
}

// routeExecutorSelfLoop is the fallback routing used when the replanner
// node is disabled: the executor decides for itself
// whether the plan is exhausted.
func routeExecutorSelfLoop(maxSteps int, summarizerEnabled bool) edgeFunc {
	return func(state *AgentState) string {
		if state.PlanData == nil {
			if summarizerEnabled {
				return "summarizer"
			}
			return End
		}
		total := len(state.PlanData.Steps)
		if state.CurrentStepIndex >= total || (maxSteps > 0 && state.CurrentStepIndex >= maxSteps) {
			if summarizerEnabled {
				return "summarizer"
			}
			return End
		}
		return "executor"
	}
}
