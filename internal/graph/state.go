// Package graph implements the state-graph orchestration engine: a
// hand-rolled ReAct loop (the agent and executor nodes) wired through a
// small set of configurable nodes and edges, with goroutine/channel/
// context.WithTimeout plumbing bounding every LLM and tool call.
package graph

import "time"

// Message is one entry in a run's transcript. ToolCalls is set on
// assistant messages that requested tool invocations; ToolCallID and Name
// are set on the tool-result message that answers one of those calls.
type Message struct {
	ID         string
	Role       string // system | user | assistant | tool
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string // tool name, set on Role=="tool" messages
}

// ToolCall is a single tool invocation an assistant message requested.
type ToolCall struct {
	ID   string
	Name string
	Args []byte // raw JSON arguments
}

// AppendMessages is the message reducer: messages carrying an id
// already present in the slice replace the old entry in place;
// everything else is appended.
func AppendMessages(existing []Message, additions ...Message) []Message {
	out := existing
	for _, m := range additions {
		replaced := false
		if m.ID != "" {
			for i := range out {
				if out[i].ID == m.ID {
					out[i] = m
					replaced = true
					break
				}
			}
		}
		if !replaced {
			out = append(out, m)
		}
	}
	return out
}

// StepStatus is a plan step's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one unit of work within a Plan.
type Step struct {
	ID     int
	Title  string
	Status StepStatus
}

// Plan is created by the agent's plan_create tool call, mutated by the
// executor (status transitions) and the replanner (step-list revision),
// and cleared by the summarizer.
type Plan struct {
	PlanID string
	Title  string
	Steps  []Step
}

// PastStep records one completed step's title and truncated result.
type PastStep struct {
	Title  string
	Result string
}

// Event is a side-channel notification any node may emit (plan_created,
// plan_updated, plan_revised, plan_approval_resolved, ...), consumed by
// the event stream adapter.
type Event struct {
	Type string
	Data map[string]any
}

// AgentOutcome is the agent node's exit reason.
type AgentOutcome string

const (
	OutcomeNone       AgentOutcome = ""
	OutcomeRespond    AgentOutcome = "respond"
	OutcomePlanCreate AgentOutcome = "plan_create"
)

// ReplanAction is the replanner's decision.
type ReplanAction string

const (
	ReplanNone     ReplanAction = ""
	ReplanContinue ReplanAction = "continue"
	ReplanRevise   ReplanAction = "revise"
	ReplanFinish   ReplanAction = "finish"
)

// ApprovalDecision is delivered by Engine.Resume to unblock a suspended
// approval node.
type ApprovalDecision struct {
	Approved bool
}

// AgentState is the shared state every node reads and writes. Nodes
// mutate it directly rather than returning a partial-update dict, which
// is the idiomatic Go shape for this (no reducer-merge machinery needed
// beyond the Messages slice, handled by AppendMessages).
type AgentState struct {
	Messages        []Message
	SessionID       string
	SystemPrompt    string
	AgentOutcome    AgentOutcome
	AgentIterations int

	PlanData         *Plan
	CurrentStepIndex int
	PastSteps        []PastStep
	StepResponse     string
	ReplanAction     ReplanAction

	PendingEvents []Event
	PlanContext   string

	// PendingApprovalDecision is set by Engine.Resume immediately before
	// re-entering the approval node; the node consumes and clears it.
	// Not part of the persisted spec-state, only resume plumbing.
	PendingApprovalDecision *ApprovalDecision
}

// NewAgentState builds the initial state for a run: the system prompt
// message carries the stable id "system-prompt" so later runs replace it
// in place via AppendMessages instead of duplicating it.
func NewAgentState(sessionID, systemPrompt, userMessage string) *AgentState {
	return &AgentState{
		SessionID:    sessionID,
		SystemPrompt: systemPrompt,
		Messages: []Message{
			{ID: "system-prompt", Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
	}
}

// emitPending appends a side-channel event.
func (s *AgentState) emitPending(eventType string, data map[string]any) {
	s.PendingEvents = append(s.PendingEvents, Event{Type: eventType, Data: data})
}

const defaultToolTimeout = 60 * time.Second
