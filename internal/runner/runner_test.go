package runner

import (
	"strings"
	"testing"

	"github.com/haasonsaas/agentengine/internal/graph"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
)

func newTestPool() *llm.Pool {
	pool := llm.NewPool()
	pool.Register(llm.ModelConfig{ID: "primary", Provider: llm.ProviderAnthropic, Model: "claude-3-haiku"})
	pool.Assign("llm", "primary")
	return pool
}

func TestModelNameResolvesAssignedScenario(t *testing.T) {
	r := New(Config{Pool: newTestPool()})
	if got := r.modelName(); got != "claude-3-haiku" {
		t.Fatalf("expected claude-3-haiku, got %q", got)
	}
}

func TestModelNameEmptyWhenUnassigned(t *testing.T) {
	r := New(Config{Pool: llm.NewPool()})
	if got := r.modelName(); got != "" {
		t.Fatalf("expected empty model name for an unassigned scenario, got %q", got)
	}
}

func TestReplyKeyIsDeterministicForSameInputs(t *testing.T) {
	r := New(Config{Pool: newTestPool(), Temperature: 0.7})
	rc := &RunContext{SessionID: "s1", Message: "hello", SessionHistory: []graph.Message{
		{Role: "user", Content: "earlier turn"},
	}}

	k1 := r.replyKey(rc, "system prompt text")
	k2 := r.replyKey(rc, "system prompt text")
	if k1 != k2 {
		t.Fatalf("expected identical keys for identical inputs, got %q vs %q", k1, k2)
	}
}

func TestReplyKeyChangesWithSystemPromptOrMessage(t *testing.T) {
	r := New(Config{Pool: newTestPool()})
	rc := &RunContext{SessionID: "s1", Message: "hello"}

	base := r.replyKey(rc, "system A")
	diffPrompt := r.replyKey(rc, "system B")
	if base == diffPrompt {
		t.Fatal("expected a different system prompt to change the key")
	}

	rc2 := &RunContext{SessionID: "s1", Message: "goodbye"}
	diffMessage := r.replyKey(rc2, "system A")
	if base == diffMessage {
		t.Fatal("expected a different message to change the key")
	}
}

func TestReplyKeyChangesWithMemoryFingerprint(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	r := New(Config{Pool: newTestPool(), Memory: store})
	rc := &RunContext{SessionID: "s1", Message: "hello"}

	before := r.replyKey(rc, "system prompt")

	if _, err := store.AddEntry("new fact", "facts", 0.5, "test", nil, true); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	after := r.replyKey(rc, "system prompt")

	if before == after {
		t.Fatal("expected the reply key to change once the memory store's fingerprint changes")
	}
}

func TestImplicitRecallExcludesProceduralMemories(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	if _, err := store.AddEntry("user prefers dark mode", "preferences", 0.9, "test", nil, true); err != nil {
		t.Fatalf("AddEntry preferences: %v", err)
	}
	if _, err := store.AddEntry("dark mode toggle needs a page reload", "procedural", 0.9, "test", nil, true); err != nil {
		t.Fatalf("AddEntry procedural: %v", err)
	}

	r := New(Config{Pool: newTestPool(), Memory: store, ImplicitRecall: true, RecallTopK: 5})
	block := r.implicitRecall("dark mode preference")

	if block == "" {
		t.Fatal("expected a non-empty recall block for a matching non-procedural memory")
	}
	if !strings.Contains(block, "user prefers dark mode") {
		t.Fatalf("expected the preference memory in the recall block, got %q", block)
	}
	if strings.Contains(block, "page reload") {
		t.Fatalf("expected the matching procedural memory to be excluded, got %q", block)
	}
}
