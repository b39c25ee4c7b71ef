package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/haasonsaas/agentengine/internal/cachetier"
	"github.com/haasonsaas/agentengine/internal/gate/sessionctx"
	"github.com/haasonsaas/agentengine/internal/graph"
	"github.com/haasonsaas/agentengine/internal/graphcfg"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/promptbuilder"
	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/streamadapter"
	"github.com/haasonsaas/agentengine/internal/types"
)

// Reflector is consumed, not implemented, here: step 8's fire-and-forget
// session reflection after a run finishes. internal/reflection is the
// real implementation; tests use a stub.
type Reflector interface {
	Reflect(ctx context.Context, sessionID string) error
}

// ConfigSource supplies the graph configuration document, decoupling
// Runner from however a deployment stores it (file, database row, ...).
type ConfigSource interface {
	GraphConfig() (graphcfg.Config, error)
}

// Config bundles every collaborator a Runner needs. All fields except
// Registry, GraphBuilder, PromptBuilder, Pool, and ConfigSrc are optional.
type Config struct {
	Registry      *registry.Registry
	GraphBuilder  *graph.Builder
	PromptBuilder *promptbuilder.Builder
	Pool          *llm.Pool
	ConfigSrc     ConfigSource

	Memory     *memstore.Store          // nil omits MEMORY/implicit recall and the cache's memory fingerprint
	ReplyCache *cachetier.LLMReplyCache // nil bypasses reply caching entirely
	Reflector  Reflector                // nil disables step 8

	// ImplicitRecall enables the per-request memory search appended to the
	// MEMORY section, mirroring prompt_builder.build_implicit_recall_context.
	// Ignored when Memory is nil.
	ImplicitRecall bool
	RecallTopK     int // defaults to 5

	Temperature float64 // reported in the reply cache key only
	Pricing     streamadapter.PricingTable

	Logger *slog.Logger
}

// Runner is the top-level agent orchestrator: load config, build prompt,
// stream the compiled graph through a middleware pipeline, and carry a
// suspended plan through its approval round trip.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Runner from cfg.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 5
	}
	return &Runner{cfg: cfg, logger: logger.With("component", "runner")}
}

// errStopped is returned internally when the caller's range-over-func
// loop breaks early (yield returns false); it never reaches the caller as
// a real error.
var errStopped = errors.New("runner: stopped by consumer")

// Run is the engine's single entry point. It returns a Go 1.23+
// range-over-func iterator: `for ev, err := range runner.Run(...) { ... }`.
// rc is mutated in place (Message/SessionHistory populated, an
// ApprovalQueue attached) so middlewares can read them from OnRunStart
// onward.
func (r *Runner) Run(ctx context.Context, message string, sessionHistory []graph.Message, rc *RunContext, middlewares []Middleware) iter.Seq2[streamadapter.Event, error] {
	rc.Message = message
	rc.SessionHistory = sessionHistory
	rc.approvals = NewApprovalQueue(0)

	return func(yield func(streamadapter.Event, error) bool) {
		ctx := sessionctx.WithSession(ctx, rc.SessionID, rc.WorkingDir)

		for _, mw := range middlewares {
			mw.OnRunStart(ctx, rc)
		}
		defer func() {
			for i := len(middlewares) - 1; i >= 0; i-- {
				r.safeRunEnd(ctx, middlewares[i], rc)
			}
		}()

		stopped := false
		forward := func(ev streamadapter.Event) error {
			out, ok := applyMiddlewares(ctx, middlewares, ev, rc)
			if !ok {
				return nil
			}
			if !yield(out, nil) {
				stopped = true
				return errStopped
			}
			return nil
		}

		runErr := r.execute(ctx, rc, forward)
		if stopped {
			return
		}
		if runErr != nil {
			r.logger.Error("run failed", "session_id", rc.SessionID, "error", runErr)
			yield(streamadapter.NewErrorEvent(runErr.Error()), nil)
		} else {
			yield(streamadapter.NewDoneEvent(), nil)
		}

		if rc.Reflect && r.cfg.Reflector != nil {
			go func() {
				if err := r.cfg.Reflector.Reflect(context.Background(), rc.SessionID); err != nil {
					r.logger.Warn("session reflection failed", "session_id", rc.SessionID, "error", err)
				}
			}()
		}
	}
}

func (r *Runner) safeRunEnd(ctx context.Context, mw Middleware, rc *RunContext) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("middleware OnRunEnd panicked", "panic", p)
		}
	}()
	mw.OnRunEnd(ctx, rc)
}

// execute wraps innerRun in the reply cache's GetOrGenerate when one is
// configured, matching _cached_run's generator() closure: the entire
// inner run, including a suspended plan's approval round trip, is what
// gets cached and replayed.
func (r *Runner) execute(ctx context.Context, rc *RunContext, forward func(streamadapter.Event) error) error {
	if r.cfg.ReplyCache == nil {
		return r.innerRun(ctx, rc, forward)
	}

	systemPrompt, err := r.systemPrompt(rc)
	if err != nil {
		return err
	}
	key := r.replyKey(rc, systemPrompt)

	return r.cfg.ReplyCache.GetOrGenerate(ctx, key, rc.Stream,
		func(cev cachetier.Event) error {
			ev, derr := streamadapter.DecodeEvent(cev.Payload)
			if derr != nil {
				return derr
			}
			return forward(ev)
		},
		func(yieldCache func(cachetier.Event) error) error {
			return r.innerRunWithPrompt(ctx, rc, systemPrompt, func(ev streamadapter.Event) error {
				payload, merr := json.Marshal(ev)
				if merr != nil {
					return merr
				}
				if cerr := yieldCache(cachetier.Event{Kind: streamadapter.ReplayBucket(ev), Payload: payload}); cerr != nil {
					return cerr
				}
				return forward(ev)
			})
		})
}

func (r *Runner) replyKey(rc *RunContext, systemPrompt string) string {
	hist := make([]string, 0, len(rc.SessionHistory))
	for _, m := range rc.SessionHistory {
		hist = append(hist, m.Role+":"+m.Content)
	}
	memFingerprint := "none"
	if r.cfg.Memory != nil {
		memFingerprint = r.cfg.Memory.Fingerprint()
	}
	sum := sha256.Sum256([]byte(systemPrompt))
	return cachetier.ReplyKey(cachetier.ReplyKeyParams{
		SystemPromptHash:  hex.EncodeToString(sum[:])[:16],
		RecentHistory:     hist,
		CurrentMessage:    rc.Message,
		Model:             r.modelName(),
		Temperature:       r.cfg.Temperature,
		MemoryFingerprint: memFingerprint,
	})
}

func (r *Runner) modelName() string {
	cfg, err := r.cfg.Pool.Resolve("llm")
	if err != nil {
		return ""
	}
	return cfg.Model
}

func (r *Runner) innerRun(ctx context.Context, rc *RunContext, forward func(streamadapter.Event) error) error {
	systemPrompt, err := r.systemPrompt(rc)
	if err != nil {
		return err
	}
	return r.innerRunWithPrompt(ctx, rc, systemPrompt, forward)
}

// innerRunWithPrompt implements _run_uncached: resolve the compiled
// graph and tool sets, seed the initial transcript, stream the graph's
// events, and — if it suspends for plan approval — register the queue,
// emit the approval request, await the decision (300s timeout-deny), and
// resume, all before returning.
func (r *Runner) innerRunWithPrompt(ctx context.Context, rc *RunContext, systemPrompt string, forward func(streamadapter.Event) error) error {
	cfg, err := r.cfg.ConfigSrc.GraphConfig()
	if err != nil {
		return fmt.Errorf("runner: load graph config: %w", err)
	}

	agentTools, err := graph.ResolveTools(r.cfg.Registry, cfg.Graph.Nodes.Agent.Tools, true)
	if err != nil {
		return fmt.Errorf("runner: resolve agent tools: %w", err)
	}
	executorTools, err := graph.ResolveTools(r.cfg.Registry, cfg.Graph.Nodes.Executor.Tools, false)
	if err != nil {
		return fmt.Errorf("runner: resolve executor tools: %w", err)
	}

	client, err := r.cfg.Pool.Client(ctx, "llm")
	if err != nil {
		return fmt.Errorf("runner: resolve llm client: %w", err)
	}

	recorder := streamadapter.NewRecorder(r.modelName(), r.cfg.Pricing)
	deps := &graph.Deps{
		Client:        client,
		AgentTools:    agentTools,
		ExecutorTools: executorTools,
		Logger:        r.logger,
		Sink:          recorder,
	}
	engine := r.cfg.GraphBuilder.GetOrBuild(cfg, deps)

	threadID := rc.SessionID
	msgs := graph.AppendMessages(rc.SessionHistory,
		graph.Message{ID: "system-prompt", Role: "system", Content: systemPrompt},
		graph.Message{Role: "user", Content: rc.Message},
	)
	state := &graph.AgentState{SessionID: rc.SessionID, SystemPrompt: systemPrompt, Messages: msgs}

	result, err := r.streamEngine(ctx, recorder, forward, func(runCtx context.Context, onStep func(string, *graph.AgentState)) (*graph.RunResult, error) {
		return engine.Run(runCtx, threadID, state, onStep)
	})
	if err != nil {
		return err
	}

	for result.Suspended {
		planID, _ := result.Interrupt["plan_id"].(string)
		rc.approvals.Register(planID)
		if err := forward(streamadapter.TranslateInterrupt(result.Interrupt)); err != nil {
			return err
		}

		approved, awaitErr := rc.approvals.Await(ctx, planID)
		if awaitErr != nil {
			r.logger.Warn("plan approval not resolved, denying", "session_id", rc.SessionID, "plan_id", planID, "error", awaitErr)
		}

		decision := graph.ApprovalDecision{Approved: approved}
		// A fresh Recorder per leg: only takes effect if this call is the
		// one that actually built engine's Deps (deps.Sink is frozen at
		// first build otherwise — see Builder.GetOrBuild's doc comment,
		// the same caveat already noted there for tool sets).
		recorder = streamadapter.NewRecorder(r.modelName(), r.cfg.Pricing)
		deps.Sink = recorder
		result, err = r.streamEngine(ctx, recorder, forward, func(runCtx context.Context, onStep func(string, *graph.AgentState)) (*graph.RunResult, error) {
			return engine.Resume(runCtx, threadID, decision, onStep)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// streamEngine runs runFn (an engine.Run or engine.Resume call) on its own
// goroutine, draining recorder.Out (the LLM/tool Sink events) and the
// per-step plan side-channel events concurrently so neither can deadlock
// waiting on the other. Forwarding stops (without losing the run) the
// moment forward returns an error.
func (r *Runner) streamEngine(ctx context.Context, recorder *streamadapter.Recorder, forward func(streamadapter.Event) error, runFn func(runCtx context.Context, onStep func(string, *graph.AgentState)) (*graph.RunResult, error)) (*graph.RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *graph.RunResult
		err error
	}
	done := make(chan outcome, 1)
	var planCount int

	go func() {
		res, err := runFn(runCtx, func(_ string, state *graph.AgentState) {
			events, n := streamadapter.DrainPlanEvents(state.PendingEvents, planCount)
			planCount = n
			for _, ev := range events {
				recorder.Out <- ev
			}
		})
		done <- outcome{res, err}
		recorder.Close()
	}()

	var forwardErr error
	for ev := range recorder.Out {
		if forwardErr != nil {
			continue // drain silently so the producer goroutine can finish
		}
		if err := forward(ev); err != nil {
			forwardErr = err
			cancel()
		}
	}

	out := <-done
	if forwardErr != nil {
		return nil, forwardErr
	}
	return out.res, out.err
}

// systemPrompt builds the per-request system prompt: the cached static
// assembly, placeholder substitution, and an optional implicit-recall
// block appended to the MEMORY section.
func (r *Runner) systemPrompt(rc *RunContext) (string, error) {
	var mem promptbuilder.MemoryProvider
	fingerprint := "none"
	if r.cfg.Memory != nil {
		mem = promptMemory{store: r.cfg.Memory, logger: r.logger}
		fingerprint = r.cfg.Memory.Fingerprint()
	}

	prompt, err := r.cfg.PromptBuilder.Build(fingerprint, mem)
	if err != nil {
		return "", fmt.Errorf("runner: build system prompt: %w", err)
	}
	prompt = promptbuilder.SubstitutePlaceholders(prompt, rc.SessionID, rc.WorkingDir)

	if r.cfg.ImplicitRecall && r.cfg.Memory != nil {
		if block := r.implicitRecall(rc.Message); block != "" {
			prompt += "\n\n" + block
		}
	}
	return prompt, nil
}

// implicitRecall searches memory for entries relevant to message,
// excluding procedural memories (already surfaced by ReadMemory), and
// renders them as the Runner's per-request recall block. Search failures
// are soft: an empty block, not a run failure.
func (r *Runner) implicitRecall(message string) string {
	results, err := r.cfg.Memory.Search(message, r.cfg.RecallTopK, true, "")
	if err != nil {
		r.logger.Warn("implicit recall search failed", "error", err)
		return ""
	}
	items := make([]promptbuilder.RecallItem, 0, len(results))
	for _, res := range results {
		if res.Category == types.CategoryProcedural {
			continue
		}
		items = append(items, promptbuilder.RecallItem{Content: res.Content, Category: string(res.Category)})
	}
	return promptbuilder.RenderImplicitRecall(items)
}
