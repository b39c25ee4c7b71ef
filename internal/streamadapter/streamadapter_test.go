package streamadapter

import (
	"strings"
	"testing"

	"github.com/haasonsaas/agentengine/internal/graph"
	"github.com/haasonsaas/agentengine/internal/llm"
)

func TestEstimateTokensWeightsCJKHigher(t *testing.T) {
	cjk := EstimateTokens("你好世界你好世界你好世界") // 12 CJK chars
	latin := EstimateTokens("hello world hello world hel") // 27 latin chars
	if cjk == 0 || latin == 0 {
		t.Fatalf("expected non-zero estimates, got cjk=%d latin=%d", cjk, latin)
	}
	// 12 CJK chars / 1.5 = 8; 27 latin chars / 4 = 6 — CJK text estimates
	// more tokens per character than Latin text of comparable length.
	if cjk <= latin {
		t.Fatalf("expected CJK token density to exceed Latin, got cjk=%d latin=%d", cjk, latin)
	}
}

func TestToolEndEventDetectsCacheHit(t *testing.T) {
	ev := NewToolEndEvent("fetch_url", "[CACHE_HIT]<html>...</html>", true, 5)
	if !ev.Cached {
		t.Fatal("expected Cached=true")
	}
	if ev.Type != KindToolEnd {
		t.Fatalf("got type %q", ev.Type)
	}
}

func TestToolEndEventTruncatesOutput(t *testing.T) {
	huge := strings.Repeat("a", maxToolOutputChars+500)
	ev := NewToolEndEvent("terminal", huge, false, 1)
	if len([]rune(ev.Output)) != maxToolOutputChars {
		t.Fatalf("got output length %d, want %d", len([]rune(ev.Output)), maxToolOutputChars)
	}
}

func TestRecorderEstimatesTokensWhenUsageMissing(t *testing.T) {
	r := NewRecorder("claude-3-haiku", nil)
	go func() {
		r.OnLLMStart("agent", "[System Prompt]\nyou are an agent\n\n[Messages]\n[user]\nhi")
		r.OnLLMEnd("agent", 120, nil, "input text here", "output text here")
		r.Close()
	}()

	var start LLMStartEvent
	var end LLMEndEvent
	for ev := range r.Out {
		switch v := ev.(type) {
		case LLMStartEvent:
			start = v
		case LLMEndEvent:
			end = v
		}
	}
	if start.Node != "agent" || start.Model != "claude-3-haiku" {
		t.Fatalf("got start event %+v", start)
	}
	if !end.TokensEstimated {
		t.Fatal("expected TokensEstimated=true when usage is nil")
	}
	if end.TotalTokens != end.InputTokens+end.OutputTokens {
		t.Fatalf("got totals %+v", end)
	}
	if end.CallID != start.CallID {
		t.Fatalf("expected matching call ids, got start=%q end=%q", start.CallID, end.CallID)
	}
}

func TestRecorderUsesProviderUsageWhenPresent(t *testing.T) {
	r := NewRecorder("claude-3-haiku", PricingTable{
		"claude-3-haiku": {InputPerMillion: 1, OutputPerMillion: 5},
	})
	go func() {
		r.OnLLMStart("executor", "prompt")
		r.OnLLMEnd("executor", 50, &llm.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000, TotalTokens: 2_000_000}, "in", "out")
		r.Close()
	}()

	var end LLMEndEvent
	for ev := range r.Out {
		if e, ok := ev.(LLMEndEvent); ok {
			end = e
		}
	}
	if end.TokensEstimated {
		t.Fatal("did not expect estimation when provider usage is present")
	}
	if end.Cost == nil || *end.Cost != 6 {
		t.Fatalf("got cost %v, want 6", end.Cost)
	}
}

func TestDrainPlanEventsOnlyReturnsNewTail(t *testing.T) {
	all := []graph.Event{
		{Type: "plan_created", Data: map[string]any{"plan_id": "p1"}},
		{Type: "plan_updated", Data: map[string]any{"step_id": 1}},
	}
	first, count := DrainPlanEvents(all, 0)
	if len(first) != 2 || count != 2 {
		t.Fatalf("got %d events, count %d", len(first), count)
	}

	all = append(all, graph.Event{Type: "plan_updated", Data: map[string]any{"step_id": 2}})
	second, count := DrainPlanEvents(all, count)
	if len(second) != 1 || count != 3 {
		t.Fatalf("expected only the new tail, got %d events, count %d", len(second), count)
	}
	if second[0].EventType() != "plan_updated" {
		t.Fatalf("got %q", second[0].EventType())
	}
}

func TestTranslateInterruptBuildsApprovalRequest(t *testing.T) {
	ev := TranslateInterrupt(map[string]any{
		"plan_id": "ab12cd34",
		"title":   "ship it",
		"steps":   []string{"do a", "do b"},
	})
	if ev.PlanID != "ab12cd34" || ev.Title != "ship it" {
		t.Fatalf("got %+v", ev)
	}
	if ev.Type != KindPlanApprovalRequest {
		t.Fatalf("got type %q", ev.Type)
	}
}
