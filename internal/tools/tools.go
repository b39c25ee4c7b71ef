// Package tools implements the engine's built-in tool set: terminal,
// python_repl, fetch_url, read_file, rag_search, memory_write,
// memory_search and plan_create. Each constructor returns a types.Tool;
// terminal, python_repl, fetch_url and read_file run their Invoke through
// internal/gate for permission checking and audit logging.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/agentengine/internal/cachetier"
	"github.com/haasonsaas/agentengine/internal/gate"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

// Deps bundles everything the built-in tools need. Any field may be left
// at its zero value for a tool that doesn't use it; RegisterAll registers
// only the tools whose prerequisites are present.
type Deps struct {
	Gate *gate.Gate

	Memory               *memstore.Store
	LLMClient            llm.Client // optional; enables memory_write's ADD/UPDATE/DELETE/NOOP consolidation
	ConsolidationEnabled bool

	URLCache  *cachetier.URLCache
	ToolCache *cachetier.ToolCache

	HTTPClient *http.Client

	// DataDir is the sandboxed working directory terminal, python_repl and
	// read_file operate against; every relative path/command runs rooted
	// here.
	DataDir string

	// KnowledgeDir holds the documents rag_search indexes.
	KnowledgeDir string
	Embedder     llm.Embedder

	CommandTimeout time.Duration // default per-call ceiling for terminal/python_repl

	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) commandTimeout() time.Duration {
	if d.CommandTimeout > 0 {
		return d.CommandTimeout
	}
	return 30 * time.Second
}

// RegisterAll builds and registers every built-in tool whose dependencies
// are satisfied in deps.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	builders := []func(Deps) types.Tool{
		NewTerminalTool,
		NewPythonREPLTool,
		NewFetchURLTool,
		NewReadFileTool,
		NewPlanCreateTool,
	}
	for _, build := range builders {
		if err := reg.Register(build(deps)); err != nil {
			return err
		}
	}
	if deps.Memory != nil {
		if err := reg.Register(NewMemoryWriteTool(deps)); err != nil {
			return err
		}
		if err := reg.Register(NewMemorySearchTool(deps)); err != nil {
			return err
		}
	}
	if deps.KnowledgeDir != "" {
		if err := reg.Register(NewRAGSearchTool(deps)); err != nil {
			return err
		}
	}
	return nil
}

// schema marshals a JSON-Schema-shaped map, falling back to a permissive
// object schema if the literal can't marshal (it always can; the fallback
// exists only so callers never need to handle an error).
func schema(properties map[string]any, required []string) json.RawMessage {
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// runGated pushes one tool execution through the permission gate (when
// configured), using classifyInput as the text the risk classifiers and
// audit trail see. exec performs the actual work and may reference
// whatever parsed arguments it already captured in its closure; it
// ignores the string the gate passes back to it since that's just
// classifyInput again.
func runGated(ctx context.Context, deps Deps, name, classifyInput string, exec func(ctx context.Context) (string, error)) (string, error) {
	fn := func(ctx context.Context, _ string) (string, error) { return exec(ctx) }
	if deps.Gate == nil {
		return exec(ctx)
	}
	return deps.Gate.Wrap(name, fn)(ctx, classifyInput)
}

// runCached memoizes exec's result on disk keyed by name+args, replaying
// a hit with the "[CACHE_HIT]" prefix the stream adapter looks for. It is
// the outermost layer so a cache hit never re-enters the permission gate.
func runCached(ctx context.Context, deps Deps, name string, ttl time.Duration, args json.RawMessage, exec func(ctx context.Context) (string, error)) (string, error) {
	if deps.ToolCache == nil {
		return exec(ctx)
	}
	wrapped := deps.ToolCache.Wrap(name, ttl, func(ctx context.Context, _, _ json.RawMessage) (string, error) {
		return exec(ctx)
	})
	return wrapped(ctx, args, nil)
}
