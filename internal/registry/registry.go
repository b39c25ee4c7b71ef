// Package registry implements the tool registry: registration, schema
// validation, and token-driven resolution of the active tool set for a
// run, with alias normalisation and mcp:server.tool namespacing for
// dynamically-discovered tools.
package registry

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentengine/internal/types"
)

// Built-in tool names.
const (
	Terminal     = "terminal"
	PythonREPL   = "python_repl"
	FetchURL     = "fetch_url"
	ReadFile     = "read_file"
	RAGSearch    = "rag_search"
	MemoryWrite  = "memory_write"
	MemorySearch = "memory_search"
	PlanCreate   = "plan_create"
)

var coreTools = []string{Terminal, PythonREPL, FetchURL, ReadFile, RAGSearch, MemoryWrite, MemorySearch}

// aliases mirrors policy.NormalizeTool's alias table, narrowed to names this
// engine's built-ins actually answer to.
var aliases = map[string]string{
	"bash":    Terminal,
	"shell":   Terminal,
	"sh":      Terminal,
	"python":  PythonREPL,
	"repl":    PythonREPL,
	"fetch":   FetchURL,
	"http_get": FetchURL,
	"read":    ReadFile,
	"cat":     ReadFile,
	"rag":     RAGSearch,
	"memwrite": MemoryWrite,
	"memsearch": MemorySearch,
	"plan":    PlanCreate,
}

// Normalize resolves an alias to its canonical tool name.
func Normalize(name string) string {
	if canon, ok := aliases[name]; ok {
		return canon
	}
	return name
}

// Registry holds every tool known to the process, keyed by canonical name.
type Registry struct {
	tools    map[string]types.Tool
	schemas  map[string]*jsonschema.Schema
	mcp      MCPProvider
	logger   *slog.Logger
}

// MCPProvider is the pluggable source of dynamically-discovered tools:
// initialize once, list tools per server, tear down on shutdown.
type MCPProvider interface {
	Initialize() error
	Shutdown() error
	ListTools(server string) ([]types.Tool, error)
	GetAllTools() ([]types.Tool, error)
}

// New constructs an empty Registry. mcp may be nil if no dynamic tool
// provider is configured.
func New(mcp MCPProvider, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]types.Tool),
		schemas: make(map[string]*jsonschema.Schema),
		mcp:     mcp,
		logger:  logger.With("component", "registry"),
	}
}

// Register adds a tool, validating its schema is well-formed JSON Schema.
// A malformed schema is a registration-time error, never a runtime one.
func (r *Registry) Register(t types.Tool) error {
	if t.Name == "" {
		return fmt.Errorf("registry: tool has empty name")
	}
	if len(t.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(t.Name+".json", bytes.NewReader(t.Schema)); err != nil {
			return fmt.Errorf("registry: add schema for %s: %w", t.Name, err)
		}
		schema, err := compiler.Compile(t.Name + ".json")
		if err != nil {
			return fmt.Errorf("registry: compile schema for %s: %w", t.Name, err)
		}
		r.schemas[t.Name] = schema
	}
	r.tools[t.Name] = t
	return nil
}

// Resolve expands spec tokens into a concrete, de-duplicated tool list.
// Tokens: "all", "core" (the seven built-ins), "mcp" (dynamic provider
// tools), "plan" (plan_create), or an individual tool name. Unknown names
// are logged and skipped. Order of first appearance is preserved.
func (r *Registry) Resolve(spec []string, includePlanCreate bool) ([]types.Tool, error) {
	seen := make(map[string]bool)
	var out []types.Tool

	add := func(name string) {
		name = Normalize(name)
		if seen[name] {
			return
		}
		t, ok := r.tools[name]
		if !ok {
			r.logger.Warn("unknown tool in spec, skipping", "tool", name)
			return
		}
		seen[name] = true
		out = append(out, t)
	}

	for _, token := range spec {
		switch token {
		case "all":
			names := make([]string, 0, len(r.tools))
			for n := range r.tools {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				add(n)
			}
		case "core":
			for _, n := range coreTools {
				add(n)
			}
		case "mcp":
			if r.mcp == nil {
				continue
			}
			mcpTools, err := r.mcp.GetAllTools()
			if err != nil {
				return nil, fmt.Errorf("registry: list mcp tools: %w", err)
			}
			for _, t := range mcpTools {
				if !seen[t.Name] {
					seen[t.Name] = true
					out = append(out, t)
				}
			}
		case "plan":
			add(PlanCreate)
		default:
			add(token)
		}
	}

	if includePlanCreate && !seen[PlanCreate] {
		if t, ok := r.tools[PlanCreate]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}
