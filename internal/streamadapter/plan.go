package streamadapter

import "github.com/haasonsaas/agentengine/internal/graph"

// DrainPlanEvents returns all[count:] translated to PlanSideChannelEvent
// plus the new observed count: only the new tail of pending_events since
// the last observation is emitted, so a caller polling after every node
// step never double-emits.
func DrainPlanEvents(all []graph.Event, count int) ([]Event, int) {
	if count >= len(all) {
		return nil, count
	}
	out := make([]Event, 0, len(all)-count)
	for _, pe := range all[count:] {
		out = append(out, PlanSideChannelEvent{Type: pe.Type, Data: pe.Data})
	}
	return out, len(all)
}

// TranslateInterrupt converts a graph.RunResult's Interrupt payload (set
// when the approval node suspends a run) into a
// PlanApprovalRequestEvent.
func TranslateInterrupt(payload map[string]any) PlanApprovalRequestEvent {
	planID, _ := payload["plan_id"].(string)
	title, _ := payload["title"].(string)
	return NewPlanApprovalRequestEvent(planID, title, payload["steps"])
}
