// Package runner drives one end-to-end agent turn: it resolves the
// compiled graph, builds the system prompt, streams normalized events
// through a middleware chain, and handles the plan-approval suspend/
// resume cycle.
package runner

import "github.com/haasonsaas/agentengine/internal/graph"

// RunContext is the per-request state a Run call threads through every
// collaborator: the session it belongs to, debug/stream toggles, and the
// approval channel a plan-approval HTTP endpoint resolves from outside
// the run. One value is constructed per Run call, never shared across
// runs.
type RunContext struct {
	SessionID  string
	WorkingDir string
	Debug      bool
	Stream     bool

	// Message and SessionHistory are populated by Run itself before the
	// first middleware fires; a caller constructs RunContext with just
	// SessionID/WorkingDir/Debug/Stream and lets Run fill in the rest.
	Message        string
	SessionHistory []graph.Message

	// Reflect, when true, makes Run kick off a fire-and-forget session
	// reflection after the run finishes (step 8 of the runner flow).
	Reflect bool

	// approvals is the plan-approval queue this run's suspended graph (if
	// any) registers against; lazily created by Run.
	approvals *ApprovalQueue
}
