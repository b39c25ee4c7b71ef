package graph

import "context"

// ErrInterrupted is returned by approvalNode the first time it runs for a
// given plan: the Engine catches it, snapshots state via the
// checkpointer, and halts the run. Resume re-enters approvalNode with
// state.PendingApprovalDecision set, at which point it returns nil and
// applies the decision.
type ErrInterrupted struct {
	Payload map[string]any
}

func (e *ErrInterrupted) Error() string { return "graph: interrupted, awaiting resume" }

// approvalNode suspends the graph for human approval of the pending
// plan. Go has no coroutine-suspend primitive, so suspension is a
// sentinel error the Engine treats as "snapshot and stop"; resuming
// re-invokes this node with the decision attached to state.
func approvalNode(_ context.Context, _ *Deps, state *AgentState) error {
	if state.PlanData == nil {
		return nil
	}

	if state.PendingApprovalDecision == nil {
		return &ErrInterrupted{Payload: map[string]any{
			"plan_id": state.PlanData.PlanID,
			"title":   state.PlanData.Title,
			"steps":   state.PlanData.Steps,
		}}
	}

	decision := state.PendingApprovalDecision
	state.PendingApprovalDecision = nil
	planID := state.PlanData.PlanID

	if decision.Approved {
		state.emitPending("plan_approval_resolved", map[string]any{"plan_id": planID, "approved": true})
		return nil
	}

	state.PlanData = nil
	state.Messages = AppendMessages(state.Messages, Message{Role: "assistant", Content: "用户已拒绝执行该计划。"})
	state.emitPending("plan_approval_resolved", map[string]any{"plan_id": planID, "approved": false})
	return nil
}
