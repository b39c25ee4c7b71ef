// Package streamadapter translates the graph runtime's low-level call
// hooks (internal/graph.Sink) and a run's side-channel plan events into
// the normalized event stream a transport (SSE, websocket) serializes to
// a client.
package streamadapter

import (
	"encoding/json"
	"fmt"
)

// Event kind constants: the type discriminator of every transport
// emission.
const (
	KindToken               = "token"
	KindToolStart           = "tool_start"
	KindToolEnd             = "tool_end"
	KindLLMStart            = "llm_start"
	KindLLMEnd              = "llm_end"
	KindDone                = "done"
	KindError               = "error"
	KindPlanCreated         = "plan_created"
	KindPlanUpdated         = "plan_updated"
	KindPlanRevised         = "plan_revised"
	KindPlanApprovalRequest = "plan_approval_request"
)

// Event is the common interface every emitted event satisfies. Events are
// value types and are never mutated after construction.
type Event interface {
	EventType() string
}

// TokenEvent is one non-empty streamed content chunk.
type TokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (e TokenEvent) EventType() string { return e.Type }

// NewTokenEvent builds a TokenEvent for one streamed content chunk.
func NewTokenEvent(content string) TokenEvent {
	return TokenEvent{Type: KindToken, Content: content}
}

// ToolStartEvent announces a tool invocation beginning.
type ToolStartEvent struct {
	Type       string `json:"type"`
	Tool       string `json:"tool"`
	Input      string `json:"input"`
	Motivation string `json:"motivation"`
}

func (e ToolStartEvent) EventType() string { return e.Type }

// NewToolStartEvent builds a ToolStartEvent; motivation falls back to
// the static toolMotivations table, then a generic phrase.
func NewToolStartEvent(tool, input string) ToolStartEvent {
	return ToolStartEvent{Type: KindToolStart, Tool: tool, Input: input, Motivation: toolMotivation(tool)}
}

// ToolEndEvent reports a tool invocation's result.
type ToolEndEvent struct {
	Type       string `json:"type"`
	Tool       string `json:"tool"`
	Output     string `json:"output"`
	Cached     bool   `json:"cached"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ToolEndEvent) EventType() string { return e.Type }

// maxToolOutputChars truncates tool_end output for transport.
const maxToolOutputChars = 2000

// NewToolEndEvent builds a ToolEndEvent: output is truncated to 2000
// chars and cached is taken as passed. The graph's react loop passes true
// exactly when the output begins with "[CACHE_HIT]" (the prefix
// internal/tools and internal/cachetier emit on a replayed call).
func NewToolEndEvent(tool, output string, cached bool, durationMs int64) ToolEndEvent {
	return ToolEndEvent{
		Type:       KindToolEnd,
		Tool:       tool,
		Output:     truncateRunes(output, maxToolOutputChars),
		Cached:     cached,
		DurationMs: durationMs,
	}
}

// LLMStartEvent announces a model completion call beginning.
type LLMStartEvent struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id"`
	Node       string `json:"node"`
	Model      string `json:"model"`
	Input      string `json:"input"`
	Motivation string `json:"motivation"`
}

func (e LLMStartEvent) EventType() string { return e.Type }

const maxDebugInputChars = 5000

// NewLLMStartEvent builds an LLMStartEvent: input is truncated to 5000
// chars, motivation comes from the node->motivation table, call_id is
// the first 12 chars of a run id.
func NewLLMStartEvent(callID, node, model, input string) LLMStartEvent {
	return LLMStartEvent{
		Type:       KindLLMStart,
		CallID:     firstN(callID, 12),
		Node:       node,
		Model:      model,
		Input:      truncateRunes(input, maxDebugInputChars),
		Motivation: nodeMotivation(node),
	}
}

// LLMEndEvent reports a model completion call's outcome, including token
// usage (measured or estimated) and, if a pricing table is configured,
// its cost.
type LLMEndEvent struct {
	Type            string   `json:"type"`
	CallID          string   `json:"call_id"`
	Node            string   `json:"node"`
	Model           string   `json:"model"`
	DurationMs      int64    `json:"duration_ms"`
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	TotalTokens     int      `json:"total_tokens"`
	TokensEstimated bool     `json:"tokens_estimated"`
	Input           string   `json:"input"`
	Output          string   `json:"output"`
	Cost            *float64 `json:"cost,omitempty"`
	ModelInfo       string   `json:"model_info,omitempty"`
}

func (e LLMEndEvent) EventType() string { return e.Type }

const maxLLMOutputChars = 3000

// DoneEvent is the terminal event of a run.
type DoneEvent struct {
	Type string `json:"type"`
}

func (e DoneEvent) EventType() string { return e.Type }

func NewDoneEvent() DoneEvent { return DoneEvent{Type: KindDone} }

// ErrorEvent carries a run-ending failure message.
type ErrorEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (e ErrorEvent) EventType() string { return e.Type }

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: KindError, Content: message}
}

// PlanApprovalRequestEvent asks a caller to approve or deny a pending
// plan, built directly from a graph.ErrInterrupted's payload.
type PlanApprovalRequestEvent struct {
	Type   string `json:"type"`
	PlanID string `json:"plan_id"`
	Title  string `json:"title"`
	Steps  any    `json:"steps"`
}

func (e PlanApprovalRequestEvent) EventType() string { return e.Type }

func NewPlanApprovalRequestEvent(planID, title string, steps any) PlanApprovalRequestEvent {
	return PlanApprovalRequestEvent{Type: KindPlanApprovalRequest, PlanID: planID, Title: title, Steps: steps}
}

// PlanSideChannelEvent wraps one of the graph's pending_events
// (plan_created / plan_updated / plan_revised), pass-through verbatim
// except for the type field, which is copied from graph.Event.Type.
type PlanSideChannelEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"-"`
}

func (e PlanSideChannelEvent) EventType() string { return e.Type }

// MarshalJSON flattens Data's keys alongside type; side-channel
// payloads are never wrapped in a nested "data" key.
func (e PlanSideChannelEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

// DecodeEvent reverses Event's json.Marshal shape: it peeks the "type"
// field and unmarshals into the matching concrete struct, used by
// internal/runner to replay an LLMReplyCache hit (stored as the raw
// marshaled event) back into a typed Event instead of a bare []byte.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case KindToken:
		var e TokenEvent
		return e, json.Unmarshal(raw, &e)
	case KindToolStart:
		var e ToolStartEvent
		return e, json.Unmarshal(raw, &e)
	case KindToolEnd:
		var e ToolEndEvent
		return e, json.Unmarshal(raw, &e)
	case KindLLMStart:
		var e LLMStartEvent
		return e, json.Unmarshal(raw, &e)
	case KindLLMEnd:
		var e LLMEndEvent
		return e, json.Unmarshal(raw, &e)
	case KindDone:
		var e DoneEvent
		return e, json.Unmarshal(raw, &e)
	case KindError:
		var e ErrorEvent
		return e, json.Unmarshal(raw, &e)
	case KindPlanApprovalRequest:
		var e PlanApprovalRequestEvent
		return e, json.Unmarshal(raw, &e)
	case KindPlanCreated, KindPlanUpdated, KindPlanRevised:
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		delete(data, "type")
		return PlanSideChannelEvent{Type: head.Type, Data: data}, nil
	default:
		return nil, fmt.Errorf("streamadapter: decode: unknown event type %q", head.Type)
	}
}

// ReplayBucket maps an Event onto cachetier.Event's coarse pacing bucket
// ("token" | "tool_start" | "tool_end" | "final"): token events replay at
// token speed, tool_start/tool_end keep their own (slower) pacing, and
// everything else (llm_start/llm_end/done/error/plan_*) is bucketed as
// "final" since GetOrGenerate's replay loop only distinguishes tool
// events from everything else.
func ReplayBucket(ev Event) string {
	switch ev.EventType() {
	case KindToken:
		return "token"
	case KindToolStart:
		return "tool_start"
	case KindToolEnd:
		return "tool_end"
	default:
		return "final"
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
