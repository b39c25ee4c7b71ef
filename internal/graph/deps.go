package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentengine/internal/graphcfg"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

// Deps bundles what every node needs: an LLM client, the resolved tool
// sets for the agent and executor nodes, and the node-level config
// toggles the builder compiled this engine from.
type Deps struct {
	Client        llm.Client
	AgentTools    []types.Tool
	ExecutorTools []types.Tool
	Config        graphcfg.Config
	Logger        *slog.Logger
	ToolTimeout   time.Duration
	// Sink, if set, observes every LLM/tool call the react loop makes.
	// internal/streamadapter is the usual implementation.
	Sink Sink
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) toolTimeout() time.Duration {
	if d.ToolTimeout > 0 {
		return d.ToolTimeout
	}
	return defaultToolTimeout
}

// NodeFunc is one compiled graph node. It mutates state in place; a
// returned *ErrInterrupted is the only sanctioned sentinel the Engine
// treats specially (a snapshot-and-suspend signal), every other error
// aborts the run.
type NodeFunc func(ctx context.Context, deps *Deps, state *AgentState) error

// ResolveTools resolves the tool name specs from a graphcfg node block
// through the registry, adding plan_create only for the agent node.
func ResolveTools(reg *registry.Registry, spec []string, includePlanCreate bool) ([]types.Tool, error) {
	return reg.Resolve(spec, includePlanCreate)
}
