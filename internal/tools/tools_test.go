package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/registry"
)

func TestTerminalToolEchoesOutput(t *testing.T) {
	dir := t.TempDir()
	tool := NewTerminalTool(Deps{DataDir: dir})

	args, _ := json.Marshal(map[string]any{"command": "echo hello"})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected output to contain hello, got %q", out)
	}
}

func TestTerminalToolEmptyCommand(t *testing.T) {
	tool := NewTerminalTool(Deps{})
	args, _ := json.Marshal(map[string]any{"command": "  "})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "cannot be empty") {
		t.Fatalf("got %q", out)
	}
}

func TestTerminalToolTimeout(t *testing.T) {
	tool := NewTerminalTool(Deps{})
	args, _ := json.Marshal(map[string]any{"command": "sleep 2", "timeout": 1})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "[ERROR]") || !strings.Contains(out, "timed out") {
		t.Fatalf("expected a timeout error string, got %q", out)
	}
}

func TestPlanCreateTool(t *testing.T) {
	tool := NewPlanCreateTool(Deps{})
	args, _ := json.Marshal(map[string]any{
		"title": "do the thing",
		"steps": []any{"read file", map[string]any{"step": "analyze"}, "save result"},
	})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.HasPrefix(out, "Plan created: plan_id=") || !strings.Contains(out, "3 steps") {
		t.Fatalf("got %q", out)
	}
}

func TestPlanCreateToolRejectsEmptyTitle(t *testing.T) {
	tool := NewPlanCreateTool(Deps{})
	args, _ := json.Marshal(map[string]any{"title": "", "steps": []any{"a"}})
	out, _ := tool.Invoke(context.Background(), args)
	if !strings.Contains(out, "title cannot be empty") {
		t.Fatalf("got %q", out)
	}
}

func TestPlanCreateToolRejectsNoSteps(t *testing.T) {
	tool := NewPlanCreateTool(Deps{})
	args, _ := json.Marshal(map[string]any{"title": "x", "steps": []any{}})
	out, _ := tool.Invoke(context.Background(), args)
	if !strings.Contains(out, "at least one step") {
		t.Fatalf("got %q", out)
	}
}

func TestReadFileToolRejectsPathEscape(t *testing.T) {
	tool := NewReadFileTool(Deps{DataDir: t.TempDir()})
	args, _ := json.Marshal(map[string]any{"path": "../../etc/passwd"})
	out, _ := tool.Invoke(context.Background(), args)
	if !strings.Contains(out, "must be relative") {
		t.Fatalf("got %q", out)
	}
}

func TestReadFileToolReadsRelativeFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(Deps{DataDir: dir})
	args, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestMemoryWriteToolDailyLog(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	tool := NewMemoryWriteTool(Deps{Memory: store})

	args, _ := json.Marshal(map[string]any{"content": "shipped the release", "write_to": "daily"})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "daily log") {
		t.Fatalf("got %q", out)
	}

	ctx, err := store.GetDailyContext(3)
	if err != nil {
		t.Fatalf("GetDailyContext: %v", err)
	}
	if !strings.Contains(ctx, "shipped the release") {
		t.Fatalf("expected daily context to contain the entry, got %q", ctx)
	}
}

func TestMemoryWriteToolLongTermWithoutConsolidation(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	tool := NewMemoryWriteTool(Deps{Memory: store})

	args, _ := json.Marshal(map[string]any{"content": "prefers dark mode", "category": "preferences", "salience": 0.8})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "Entry ID:") {
		t.Fatalf("got %q", out)
	}

	entries, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "prefers dark mode" {
		t.Fatalf("got %+v", entries)
	}
}

func TestMemorySearchToolFindsWrittenEntry(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	if _, err := store.AddEntry("the deploy key lives in vault", "facts", 0.6, "test", nil, true); err != nil {
		t.Fatal(err)
	}

	tool := NewMemorySearchTool(Deps{Memory: store})
	args, _ := json.Marshal(map[string]any{"query": "deploy key"})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "deploy key lives in vault") {
		t.Fatalf("got %q", out)
	}
}

func TestMemorySearchToolEmptyQuery(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	tool := NewMemorySearchTool(Deps{Memory: store})
	args, _ := json.Marshal(map[string]any{"query": ""})
	out, _ := tool.Invoke(context.Background(), args)
	if !strings.Contains(out, "cannot be empty") {
		t.Fatalf("got %q", out)
	}
}

func TestRAGSearchToolKeywordFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "runbook.md"), []byte("Restart the ingest worker by running make restart-ingest."), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewRAGSearchTool(Deps{KnowledgeDir: dir})

	args, _ := json.Marshal(map[string]any{"query": "restart ingest worker"})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "runbook.md") {
		t.Fatalf("got %q", out)
	}
}

func TestRAGSearchToolEmptyKnowledgeDir(t *testing.T) {
	tool := NewRAGSearchTool(Deps{KnowledgeDir: t.TempDir()})
	args, _ := json.Marshal(map[string]any{"query": "anything"})
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "empty") {
		t.Fatalf("got %q", out)
	}
}

func TestRegisterAllRegistersExpectedTools(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	reg := registry.New(nil, nil)
	if err := RegisterAll(reg, Deps{Memory: store, DataDir: t.TempDir()}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	resolved, err := reg.Resolve([]string{"all"}, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved) < 7 {
		t.Fatalf("expected at least 7 registered tools, got %d", len(resolved))
	}
}
