package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/agentengine/internal/graphcfg"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/types"
)

type scriptedCall struct {
	text      string
	toolCalls []llm.ToolCallDelta
}

type scriptedClient struct {
	mu    sync.Mutex
	calls []scriptedCall
	idx   int
}

func (c *scriptedClient) next() (scriptedCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.calls) {
		return scriptedCall{}, fmt.Errorf("scriptedClient: no more scripted calls (wanted call %d)", c.idx+1)
	}
	call := c.calls[c.idx]
	c.idx++
	return call, nil
}

func (c *scriptedClient) Complete(_ context.Context, _ []llm.ChatMessage, _ []llm.ToolSpec) (string, []llm.ToolCallDelta, *llm.Usage, error) {
	call, err := c.next()
	if err != nil {
		return "", nil, nil, err
	}
	return call.text, call.toolCalls, nil, nil
}

// Stream replays the next scripted call as a single token chunk (if any
// text) followed by a done event carrying tool calls, matching how a real
// provider would stream one chunk for a short canned reply.
func (c *scriptedClient) Stream(_ context.Context, _ []llm.ChatMessage, _ []llm.ToolSpec, ch chan<- llm.StreamEvent) error {
	defer close(ch)
	call, err := c.next()
	if err != nil {
		return err
	}
	if call.text != "" {
		ch <- llm.StreamEvent{TokenDelta: call.text}
	}
	ch <- llm.StreamEvent{ToolCalls: call.toolCalls, Done: true}
	return nil
}

func echoTool(name, output string) types.Tool {
	return types.Tool{
		Name: name,
		Invoke: func(_ context.Context, _ json.RawMessage) (string, error) {
			return output, nil
		},
	}
}

func TestRunReactLoopRespondsWithoutToolCalls(t *testing.T) {
	client := &scriptedClient{calls: []scriptedCall{{text: "hello there"}}}
	seed := []Message{{Role: "user", Content: "hi"}}

	result, err := runReactLoop(context.Background(), client, "agent", seed, nil, 5, 0, false, nil)
	if err != nil {
		t.Fatalf("runReactLoop: %v", err)
	}
	if result.FinalText != "hello there" {
		t.Fatalf("got %q", result.FinalText)
	}
	if result.CappedAt {
		t.Fatalf("expected not capped")
	}
}

func TestRunReactLoopDetectsPlanCreate(t *testing.T) {
	client := &scriptedClient{calls: []scriptedCall{
		{toolCalls: []llm.ToolCallDelta{{ID: "1", Name: "plan_create", Args: `{"title":"do x","steps":["a","b"]}`}}},
	}}
	tools := []types.Tool{echoTool("plan_create", "Plan created: plan_id=ab12cd34, 2 steps. System will now auto-execute each step.")}

	result, err := runReactLoop(context.Background(), client, "agent", []Message{{Role: "user", Content: "do it"}}, tools, 5, 0, true, nil)
	if err != nil {
		t.Fatalf("runReactLoop: %v", err)
	}
	if result.PlanCall == nil {
		t.Fatalf("expected a plan call to be detected")
	}
	if !strings.Contains(result.PlanCall.Result, "plan_id=ab12cd34") {
		t.Fatalf("got %q", result.PlanCall.Result)
	}
}

func TestRunReactLoopCapsAtMaxIterations(t *testing.T) {
	client := &scriptedClient{calls: []scriptedCall{
		{toolCalls: []llm.ToolCallDelta{{ID: "1", Name: "noop", Args: `{}`}}},
		{toolCalls: []llm.ToolCallDelta{{ID: "2", Name: "noop", Args: `{}`}}},
	}}
	tools := []types.Tool{echoTool("noop", "ok")}

	result, err := runReactLoop(context.Background(), client, "agent", []Message{{Role: "user", Content: "go"}}, tools, 2, 0, false, nil)
	if err != nil {
		t.Fatalf("runReactLoop: %v", err)
	}
	if !result.CappedAt {
		t.Fatalf("expected loop to be capped")
	}
}

func TestEngineNoPlannerRoutesAgentDirectlyToEnd(t *testing.T) {
	cfg := graphcfg.Default()
	cfg.Graph.Nodes.Planner.Enabled = false

	client := &scriptedClient{calls: []scriptedCall{{text: "just a reply"}}}
	deps := &Deps{Client: client}
	builder := NewBuilder()
	engine := builder.GetOrBuild(cfg, deps)

	state := NewAgentState("s1", "sys", "hello")
	result, err := engine.Run(context.Background(), "s1", state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Suspended {
		t.Fatalf("did not expect suspension")
	}
	if result.State.AgentOutcome != OutcomeRespond {
		t.Fatalf("got outcome %q", result.State.AgentOutcome)
	}
}

func TestEngineFullPlanApprovalFlow(t *testing.T) {
	cfg := graphcfg.Default() // planner, approval, executor, replanner, summarizer all enabled

	client := &scriptedClient{calls: []scriptedCall{
		{toolCalls: []llm.ToolCallDelta{{ID: "1", Name: "plan_create", Args: `{"title":"ship it","steps":["do a","do b"]}`}}}, // agent: plan_create
		{text: "did a"},                  // executor step 1
		{text: "did b"},                  // executor step 2
		{text: "here is your summary"},    // agent final reply
	}}

	planCreate := echoTool("plan_create", "Plan created: plan_id=ab12cd34, 2 steps. System will now auto-execute each step.")
	deps := &Deps{Client: client, AgentTools: []types.Tool{planCreate}, ExecutorTools: nil}

	builder := NewBuilder()
	engine := builder.GetOrBuild(cfg, deps)

	state := NewAgentState("sess-1", "you are an agent", "ship the thing")

	result, err := engine.Run(context.Background(), "sess-1", state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Suspended {
		t.Fatalf("expected run to suspend for approval")
	}
	if result.Interrupt["plan_id"] != "ab12cd34" {
		t.Fatalf("got interrupt payload %+v", result.Interrupt)
	}

	result, err = engine.Resume(context.Background(), "sess-1", ApprovalDecision{Approved: true}, nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if result.Suspended {
		t.Fatalf("did not expect a second suspension")
	}
	if result.State.PlanData != nil {
		t.Fatalf("expected plan_data cleared by summarizer")
	}
	if result.State.AgentOutcome != OutcomeRespond {
		t.Fatalf("got outcome %q", result.State.AgentOutcome)
	}

	var joined strings.Builder
	for _, m := range result.State.Messages {
		joined.WriteString(m.Content)
		joined.WriteString("\n")
	}
	transcript := joined.String()
	if !strings.Contains(transcript, "did a") || !strings.Contains(transcript, "did b") {
		t.Fatalf("expected step summaries in transcript, got %q", transcript)
	}
	if !strings.Contains(transcript, "[步骤 1/2 - do a]") {
		t.Fatalf("expected the executor's step-summary prefix in transcript, got %q", transcript)
	}
	if !strings.Contains(transcript, "here is your summary") {
		t.Fatalf("expected final agent reply in transcript, got %q", transcript)
	}
}

func TestEngineDeniedApprovalRoutesBackToAgent(t *testing.T) {
	cfg := graphcfg.Default()

	client := &scriptedClient{calls: []scriptedCall{
		{toolCalls: []llm.ToolCallDelta{{ID: "1", Name: "plan_create", Args: `{"title":"ship it","steps":["do a"]}`}}},
		{text: "ok, understood"},
	}}
	planCreate := echoTool("plan_create", "Plan created: plan_id=ff00ff00, 1 steps. System will now auto-execute each step.")
	deps := &Deps{Client: client, AgentTools: []types.Tool{planCreate}}

	builder := NewBuilder()
	engine := builder.GetOrBuild(cfg, deps)

	state := NewAgentState("sess-2", "sys", "ship it")
	result, err := engine.Run(context.Background(), "sess-2", state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Suspended {
		t.Fatalf("expected suspension")
	}

	result, err = engine.Resume(context.Background(), "sess-2", ApprovalDecision{Approved: false}, nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if result.State.PlanData != nil {
		t.Fatalf("expected plan_data to remain nil after denial")
	}
	if result.State.AgentOutcome != OutcomeRespond {
		t.Fatalf("got outcome %q", result.State.AgentOutcome)
	}
}

func TestBuilderCachesCompiledEngineByFingerprint(t *testing.T) {
	cfg := graphcfg.Default()
	builder := NewBuilder()
	e1 := builder.GetOrBuild(cfg, &Deps{Client: &scriptedClient{}})
	e2 := builder.GetOrBuild(cfg, &Deps{Client: &scriptedClient{}})
	if e1 != e2 {
		t.Fatalf("expected identical configs to reuse the compiled engine")
	}
}
