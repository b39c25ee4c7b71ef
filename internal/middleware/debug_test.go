package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/agentengine/internal/runner"
	"github.com/haasonsaas/agentengine/internal/streamadapter"
)

type fakeStore struct {
	sessionID string
	calls     []CallRecord
}

func (f *fakeStore) SaveDebugCalls(sessionID string, calls []CallRecord) error {
	f.sessionID = sessionID
	f.calls = calls
	return nil
}

func TestDebugMiddlewareOffPassesEventsUntouched(t *testing.T) {
	m := NewDebugMiddleware(DebugOff, &fakeStore{})
	rc := &runner.RunContext{SessionID: "s1"}
	ev := streamadapter.NewToolStartEvent("terminal", "ls")

	out, ok := m.OnEvent(context.Background(), ev, rc)
	if !ok || out != streamadapter.Event(ev) {
		t.Fatalf("expected event passed through unchanged at off level")
	}
	m.OnRunEnd(context.Background(), rc)
	if len((&fakeStore{}).calls) != 0 {
		t.Fatal("sanity")
	}
}

func TestDebugMiddlewareBasicTracksToolTimingOnly(t *testing.T) {
	store := &fakeStore{}
	m := NewDebugMiddleware(DebugBasic, store)
	rc := &runner.RunContext{SessionID: "s1"}
	ctx := context.Background()

	m.OnEvent(ctx, streamadapter.NewToolStartEvent("terminal", "ls -la"), rc)
	m.OnEvent(ctx, streamadapter.NewLLMStartEvent("call-1", "agent", "claude", "hello"), rc)
	m.OnEvent(ctx, streamadapter.NewToolEndEvent("terminal", "file1\nfile2", false, 42), rc)

	m.OnRunEnd(ctx, rc)
	if store.sessionID != "s1" {
		t.Fatalf("expected save for session s1, got %q", store.sessionID)
	}
	if len(store.calls) != 1 {
		t.Fatalf("expected only the tool call tracked at basic level, got %d", len(store.calls))
	}
	call := store.calls[0]
	if call.Tool != "terminal" || call.DurationMs == nil || *call.DurationMs != 42 {
		t.Fatalf("tool call not backfilled correctly: %+v", call)
	}
}

func TestDebugMiddlewareStandardTruncatesLargePayloads(t *testing.T) {
	store := &fakeStore{}
	m := NewDebugMiddleware(DebugStandard, store)
	rc := &runner.RunContext{SessionID: "s1"}
	ctx := context.Background()

	bigInput := strings.Repeat("x", 2500)
	out, ok := m.OnEvent(ctx, streamadapter.NewLLMStartEvent("call-1", "agent", "claude", bigInput), rc)
	if !ok {
		t.Fatal("expected event kept")
	}
	started := out.(streamadapter.LLMStartEvent)
	if !strings.HasSuffix(started.Input, "...[truncated]") || len(started.Input) >= len(bigInput) {
		t.Fatalf("expected input truncated for transport, got len=%d", len(started.Input))
	}

	m.OnEvent(ctx, streamadapter.LLMEndEvent{
		Type: streamadapter.KindLLMEnd, CallID: "call-1", Output: strings.Repeat("y", 1500),
	}, rc)

	m.OnRunEnd(ctx, rc)
	if len(store.calls) != 1 {
		t.Fatalf("expected one tracked llm call, got %d", len(store.calls))
	}
	if strings.Contains(store.calls[0].Output, "...[truncated]") {
		t.Fatal("collector should retain the untruncated output even though the emitted event is truncated")
	}
}

func TestDebugMiddlewareFullSkipsTruncation(t *testing.T) {
	m := NewDebugMiddleware(DebugFull, &fakeStore{})
	rc := &runner.RunContext{SessionID: "s1"}
	ctx := context.Background()

	bigInput := strings.Repeat("x", 2500)
	out, _ := m.OnEvent(ctx, streamadapter.NewLLMStartEvent("call-1", "agent", "claude", bigInput), rc)
	started := out.(streamadapter.LLMStartEvent)
	if strings.Contains(started.Input, "...[truncated]") {
		t.Fatal("full level must not truncate")
	}
}

func TestDebugMiddlewareNoPersistWhenNothingTracked(t *testing.T) {
	store := &fakeStore{}
	m := NewDebugMiddleware(DebugStandard, store)
	rc := &runner.RunContext{SessionID: "s1"}
	m.OnRunEnd(context.Background(), rc)
	if store.sessionID != "" {
		t.Fatal("expected no save when nothing was tracked")
	}
}
