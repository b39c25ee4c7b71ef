package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentengine/internal/graphcfg"
	"github.com/haasonsaas/agentengine/internal/observability"
)

// ErrRecursionLimit is returned when a run exceeds the graph's configured
// recursion_limit without reaching End.
var ErrRecursionLimit = fmt.Errorf("graph: recursion limit exceeded")

// Engine is one compiled graph: a fixed node/edge table built from a
// graphcfg.Config's enabled-node matrix.
type Engine struct {
	entry          string
	nodes          map[string]NodeFunc
	staticEdges    map[string]string
	condEdges      map[string]edgeFunc
	recursionLimit int
	checkpointer   *MemoryCheckpointer
	deps           *Deps
}

// RunResult is what Run/Resume return: either a finished state or a
// suspended one awaiting ApprovalDecision via Resume.
type RunResult struct {
	State     *AgentState
	Suspended bool
	ThreadID  string
	Interrupt map[string]any
}

// buildEngine assembles the node/edge table for cfg, wiring each node
// conditionally based on which nodes are enabled.
func buildEngine(cfg graphcfg.Config, deps *Deps, checkpointer *MemoryCheckpointer) *Engine {
	nodesCfg := cfg.Graph.Nodes
	e := &Engine{
		entry:          "agent",
		nodes:          map[string]NodeFunc{"agent": agentNode},
		staticEdges:    map[string]string{},
		condEdges:      map[string]edgeFunc{},
		recursionLimit: cfg.Graph.Settings.RecursionLimit,
		checkpointer:   checkpointer,
		deps:           deps,
	}
	if e.recursionLimit <= 0 {
		e.recursionLimit = 100
	}

	if !nodesCfg.Planner.Enabled {
		e.staticEdges["agent"] = End
		return e
	}

	e.nodes["plan_gate"] = planGateNode
	e.condEdges["agent"] = routeAfterAgent

	e.nodes["executor"] = executorNode

	if nodesCfg.Approval.Enabled {
		e.nodes["approval"] = approvalNode
		e.staticEdges["plan_gate"] = "approval"
		e.condEdges["approval"] = routeAfterApproval
	} else {
		e.staticEdges["plan_gate"] = "executor"
	}

	replannerEnabled := nodesCfg.Replanner.Enabled
	summarizerEnabled := nodesCfg.Summarizer.Enabled

	if replannerEnabled {
		e.nodes["replanner"] = replannerNode
		e.staticEdges["executor"] = "replanner"
		e.condEdges["replanner"] = routeAfterReplanner(summarizerEnabled)
	} else {
		e.condEdges["executor"] = routeExecutorSelfLoop(nodesCfg.Executor.MaxSteps, summarizerEnabled)
	}

	if summarizerEnabled {
		e.nodes["summarizer"] = summarizerNode
		e.staticEdges["summarizer"] = "agent"
	}

	return e
}

// route resolves the next node name for current given state, preferring
// a conditional edge over a static one.
func (e *Engine) route(current string, state *AgentState) string {
	if fn, ok := e.condEdges[current]; ok {
		return fn(state)
	}
	if next, ok := e.staticEdges[current]; ok {
		return next
	}
	return End
}

// Run executes the compiled graph from its entry node until it reaches
// End or suspends on an approval interrupt. onStep, if non-nil, is
// invoked after each node completes (the event stream adapter's hook
// point).
func (e *Engine) Run(ctx context.Context, threadID string, state *AgentState, onStep func(node string, state *AgentState)) (*RunResult, error) {
	return e.runLoop(ctx, threadID, e.entry, state, onStep)
}

// Resume continues a suspended run: it loads threadID's snapshot, applies
// decision to the paused approval node, and re-enters the loop from
// there.
func (e *Engine) Resume(ctx context.Context, threadID string, decision ApprovalDecision, onStep func(node string, state *AgentState)) (*RunResult, error) {
	state, next, ok := e.checkpointer.Load(threadID)
	if !ok {
		return nil, fmt.Errorf("graph: no suspended run for thread %q", threadID)
	}
	state.PendingApprovalDecision = &decision
	return e.runLoop(ctx, threadID, next, state, onStep)
}

func (e *Engine) runLoop(ctx context.Context, threadID, start string, state *AgentState, onStep func(node string, state *AgentState)) (*RunResult, error) {
	current := start
	for steps := 0; ; steps++ {
		if steps >= e.recursionLimit {
			return nil, ErrRecursionLimit
		}

		nodeFn, ok := e.nodes[current]
		if !ok {
			return nil, fmt.Errorf("graph: unknown node %q", current)
		}

		nodeCtx, span := observability.StartNodeSpan(ctx, current)
		err := nodeFn(nodeCtx, e.deps, state)
		span.End()
		if interrupted, isInterrupt := err.(*ErrInterrupted); isInterrupt {
			e.checkpointer.Save(threadID, state, current)
			return &RunResult{State: state, Suspended: true, ThreadID: threadID, Interrupt: interrupted.Payload}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("graph: node %q: %w", current, err)
		}

		if onStep != nil {
			onStep(current, state)
		}

		next := e.route(current, state)
		if next == End {
			return &RunResult{State: state}, nil
		}
		current = next
	}
}

// Builder compiles and caches graphcfg.Config-derived engines, keyed by
// graphcfg.Fingerprint so identical configs reuse a compiled Engine
// instead of rebuilding the node/edge table on every run. A single
// process-wide MemoryCheckpointer is shared across every compiled graph
// so suspended thread ids stay resumable across config variants.
type Builder struct {
	checkpointer *MemoryCheckpointer
	cache        sync.Map // fingerprint string -> *Engine
}

// NewBuilder constructs a Builder with a fresh checkpointer.
func NewBuilder() *Builder {
	return &Builder{checkpointer: NewMemoryCheckpointer()}
}

// GetOrBuild returns the cached Engine for cfg's fingerprint, compiling
// one if this is the first time cfg has been seen. deps is only consulted
// on a cache miss; the compiled Engine carries its own deps reference for
// every subsequent Run/Resume (a compiled graph doesn't need deps
// re-supplied per call).
func (b *Builder) GetOrBuild(cfg graphcfg.Config, deps *Deps) *Engine {
	fp := graphcfg.Fingerprint(cfg)
	if cached, ok := b.cache.Load(fp); ok {
		return cached.(*Engine)
	}
	deps.Config = cfg
	engine := buildEngine(cfg, deps, b.checkpointer)
	actual, _ := b.cache.LoadOrStore(fp, engine)
	return actual.(*Engine)
}

// InvalidateCache clears every compiled graph (call after a config
// change).
func (b *Builder) InvalidateCache() {
	b.cache.Range(func(key, _ any) bool {
		b.cache.Delete(key)
		return true
	})
}
