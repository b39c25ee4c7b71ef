// Package gate implements the permission gate: the request/approval
// boundary every tool invocation crosses before it touches the outside
// world. The request flow is rate limit -> classify -> policy lookup ->
// auto-allow or suspend-for-approval -> audit, with suspension built on
// a condition variable guarding a pending-approvals map.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentengine/internal/gate/audit"
	"github.com/haasonsaas/agentengine/internal/gate/classify"
	"github.com/haasonsaas/agentengine/internal/gate/netrisk"
	"github.com/haasonsaas/agentengine/internal/gate/ratelimit"
	"github.com/haasonsaas/agentengine/internal/gate/sessionctx"
	"github.com/haasonsaas/agentengine/internal/gate/workerpool"
	"github.com/haasonsaas/agentengine/internal/observability"
	"github.com/haasonsaas/agentengine/internal/types"
)

// ApprovalAction re-exports the shared decision enum so callers outside
// this package never need to import internal/types directly for it.
type ApprovalAction = types.ApprovalAction

const (
	ActionApprove  = types.ActionApprove
	ActionDeny     = types.ActionDeny
	ActionInstruct = types.ActionInstruct
)

// DefaultApprovalTimeout bounds how long a tool call stays suspended
// awaiting a decision.
const DefaultApprovalTimeout = 300 * time.Second

// pendingApproval wraps the shared types.ApprovalRequest with the
// resolution state the gate's suspend/resume mechanism needs. The cond
// variable + map pair coordinates request/response pairs across
// goroutines without a dedicated broker.
type pendingApproval struct {
	types.ApprovalRequest

	resolved bool
	action   ApprovalAction
	feedback string
}

// Event is emitted on the side channel when a request is created, so a UI
// or API layer can surface it for human decision.
type Event struct {
	Request types.ApprovalRequest
}

// EventSink receives approval-request side-channel events.
type EventSink func(Event)

// Notifier is implemented by side-channels (SSE, websocket, webhook...).
type Notifier interface {
	Notify(Event)
}

// Options configures a Gate.
type Options struct {
	Level           SecurityLevel
	Matrix          *Matrix
	Limiter         *ratelimit.Limiter
	NetChecker      *netrisk.Checker
	Audit           *audit.Logger
	Pool            *workerpool.Pool
	ApprovalTimeout time.Duration
	Sink            EventSink
	Metrics         *observability.Metrics
	Logger          *slog.Logger
}

// Gate is the single chokepoint every tool call passes through: rate
// limit, risk classification, policy lookup, and (when required) a
// suspend-for-approval round trip, with every decision recorded to the
// audit trail.
type Gate struct {
	level   SecurityLevel
	matrix  *Matrix
	limiter *ratelimit.Limiter
	net     *netrisk.Checker
	audit   *audit.Logger
	pool    *workerpool.Pool
	timeout time.Duration
	sink    EventSink
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]*pendingApproval
}

// New constructs a Gate. A nil Matrix uses DefaultMatrix, a nil Limiter
// uses ratelimit.New(nil), and a zero ApprovalTimeout uses
// DefaultApprovalTimeout.
func New(opts Options) *Gate {
	if opts.Matrix == nil {
		opts.Matrix = DefaultMatrix()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(nil)
	}
	if opts.NetChecker == nil {
		opts.NetChecker = netrisk.New(netrisk.SystemResolver{})
	}
	if opts.Pool == nil {
		opts.Pool = workerpool.New(4)
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = DefaultApprovalTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Level == "" {
		opts.Level = LevelStandard
	}
	g := &Gate{
		level:   opts.Level,
		matrix:  opts.Matrix,
		limiter: opts.Limiter,
		net:     opts.NetChecker,
		audit:   opts.Audit,
		pool:    opts.Pool,
		timeout: opts.ApprovalTimeout,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "gate"),
		pending: make(map[string]*pendingApproval),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// rateLimitKey maps a tool name to its rate-limit bucket: a tool with a
// built-in limit in ratelimit.Defaults uses its own name; every other tool
// (MCP tools, read_file, ...) shares the "mcp_group" bucket.
func rateLimitKey(tool string) string {
	if _, ok := ratelimit.Defaults[tool]; ok {
		return tool
	}
	return "mcp_group"
}

// classifyRisk dispatches tool/input to the matching classify.* function.
// Tools this gate doesn't recognise default to classify.Warn rather than
// Safe, so unknown tools never silently bypass approval under a strict
// policy.
func (g *Gate) classifyRisk(ctx context.Context, tool, input string) classify.RiskLevel {
	switch tool {
	case "terminal", "shell", "bash":
		return classify.ClassifyShell(input)
	case "python_repl", "python":
		return classify.ClassifyPython(input)
	case "fetch_url", "http_get":
		return classify.ClassifyURL(ctx, input, g.net)
	case "read_file", "write_file", "edit_file":
		return classify.ClassifyFilePath(input)
	default:
		return classify.Warn
	}
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed   bool
	Reason    string
	Risk      classify.RiskLevel
	RequestID string // set if the call went through an approval round trip

	// Instructed marks a denial where the reviewer chose "instruct": the
	// tool must not run, but Reason carries user feedback the LLM should
	// see verbatim so it can reconsider.
	Instructed bool
}

// Check runs the gate's six-step request flow for one tool invocation and
// blocks (honouring ctx cancellation) until the call is allowed, denied, or
// the approval wait times out.
func (g *Gate) Check(ctx context.Context, tool, input string) (Decision, error) {
	if ok, retryAfter := g.limiter.Allow(rateLimitKey(tool)); !ok {
		g.logAudit(audit.Record{Tool: tool, Input: input, Action: "rate_limited"})
		return Decision{Allowed: false, Reason: fmt.Sprintf("rate limited, retry after %s", retryAfter)}, nil
	}

	risk := g.classifyRisk(ctx, tool, input)
	if risk == classify.Blocked {
		g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "blocked"})
		return Decision{Allowed: false, Reason: "blocked by policy", Risk: risk}, nil
	}

	policy := g.matrix.Policy(g.level, tool)
	if !NeedsApproval(policy, risk) {
		g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "auto_allowed"})
		return Decision{Allowed: true, Risk: risk}, nil
	}

	req := g.createApprovalRequest(tool, input, risk)
	g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "approval_requested", RequestID: req.RequestID})
	if g.sink != nil {
		g.sink(Event{Request: req})
	}

	waitStart := time.Now()
	action, feedback, err := g.awaitApproval(ctx, req.RequestID)
	waited := time.Since(waitStart).Seconds()
	if err != nil {
		g.metrics.ObserveApproval("timeout", waited)
		g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "approval_timeout", RequestID: req.RequestID})
		return Decision{Allowed: false, Reason: err.Error(), Risk: risk, RequestID: req.RequestID}, nil
	}
	g.metrics.ObserveApproval(string(action), waited)

	switch action {
	case ActionApprove:
		g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "approved", RequestID: req.RequestID})
		return Decision{Allowed: true, Risk: risk, RequestID: req.RequestID}, nil
	case ActionInstruct:
		g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "instructed", RequestID: req.RequestID, Feedback: feedback})
		reason := "用户要求你重新考虑：[用户指示] " + feedback
		return Decision{Allowed: false, Reason: reason, Risk: risk, RequestID: req.RequestID, Instructed: true}, nil
	default: // ActionDeny
		g.logAudit(audit.Record{Tool: tool, Input: input, Risk: string(risk), Action: "denied", RequestID: req.RequestID, Feedback: feedback})
		return Decision{Allowed: false, Reason: "denied by reviewer", Risk: risk, RequestID: req.RequestID}, nil
	}
}

// newRequestID yields the 8-hex request id the external resolver echoes
// back, derived from a uuid rather than a counter so ids stay unguessable
// across restarts.
func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (g *Gate) createApprovalRequest(tool, input string, risk classify.RiskLevel) types.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	req := &pendingApproval{
		ApprovalRequest: types.ApprovalRequest{
			RequestID: newRequestID(),
			ToolName:  tool,
			ToolInput: input,
			RiskLevel: string(risk),
			CreatedAt: time.Now(),
			Timeout:   g.timeout,
		},
	}
	g.pending[req.RequestID] = req
	return req.ApprovalRequest
}

// awaitApproval suspends the calling goroutine on the Gate's condition
// variable until ResolveApproval is called for requestID, ctx is
// cancelled, or the configured timeout elapses.
func (g *Gate) awaitApproval(ctx context.Context, requestID string) (ApprovalAction, string, error) {
	done := make(chan struct{})
	timer := time.AfterFunc(g.timeout, func() { close(done) })
	defer timer.Stop()

	result := make(chan struct {
		action   ApprovalAction
		feedback string
	}, 1)

	go func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for {
			req, ok := g.pending[requestID]
			if !ok {
				return
			}
			if req.resolved {
				result <- struct {
					action   ApprovalAction
					feedback string
				}{req.action, req.feedback}
				delete(g.pending, requestID)
				return
			}
			g.cond.Wait()
		}
	}()

	select {
	case r := <-result:
		return r.action, r.feedback, nil
	case <-done:
		g.expireRequest(requestID)
		return "", "", fmt.Errorf("approval request %s timed out after %s", requestID, g.timeout)
	case <-ctx.Done():
		g.expireRequest(requestID)
		return "", "", ctx.Err()
	}
}

func (g *Gate) expireRequest(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
	g.cond.Broadcast()
}

// ResolveApproval implements resolve_approval(request_id, approved,
// feedback?, action?): an idempotent write that unblocks the goroutine
// suspended in awaitApproval. A second call for an already-resolved or
// unknown request is a no-op returning an error rather than panicking, so
// a retried webhook delivery is harmless.
func (g *Gate) ResolveApproval(requestID string, action ApprovalAction, feedback string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[requestID]
	if !ok {
		return fmt.Errorf("gate: no pending approval request %s", requestID)
	}
	if req.resolved {
		return fmt.Errorf("gate: approval request %s already resolved", requestID)
	}
	req.resolved = true
	req.action = action
	req.feedback = feedback
	g.cond.Broadcast()
	return nil
}

// PendingApprovals lists currently-suspended requests in no particular
// order.
func (g *Gate) PendingApprovals() []types.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.ApprovalRequest, 0, len(g.pending))
	for _, req := range g.pending {
		out = append(out, req.ApprovalRequest)
	}
	return out
}

func (g *Gate) logAudit(rec audit.Record) {
	if g.audit == nil {
		return
	}
	rec.Timestamp = time.Now()
	g.audit.Log(rec)
}

// ToolFunc is a blocking tool implementation dispatched through the
// worker pool.
type ToolFunc func(ctx context.Context, input string) (string, error)

// Wrap instruments toolFn with the gate's full request flow: session
// context propagation, permission check, worker-pool dispatch, and
// before/after audit logging with elapsed milliseconds. In relaxed mode
// only the session-context injection step applies; rate limiting,
// classification, and approval are skipped.
func (g *Gate) Wrap(name string, toolFn ToolFunc) ToolFunc {
	return func(ctx context.Context, input string) (string, error) {
		carrier := sessionctx.Capture(ctx)
		ctx = carrier.Republish(ctx)

		ctx, span := observability.StartToolSpan(ctx, name)
		defer span.End()

		if g.level == LevelRelaxed {
			return g.dispatch(ctx, carrier, toolFn, input)
		}

		start := time.Now()
		decision, err := g.Check(ctx, name, input)
		if err != nil {
			return "", err
		}
		// Denials are tool results, not errors: the LLM sees the string and
		// can re-plan; nothing propagates through the graph as a failure.
		if !decision.Allowed {
			g.metrics.ObserveTool(name, "denied", time.Since(start).Seconds())
			if decision.Instructed {
				return "⚠️ " + decision.Reason, nil
			}
			return "⛔ Operation denied: " + decision.Reason, nil
		}

		output, err := g.dispatch(ctx, carrier, toolFn, input)
		elapsed := time.Since(start).Milliseconds()
		rec := audit.Record{Tool: name, Input: input, Risk: string(decision.Risk), Action: "executed", RequestID: decision.RequestID, ExecMS: &elapsed}
		status := "ok"
		if err != nil {
			rec.Error = err.Error()
			status = "error"
		}
		g.metrics.ObserveTool(name, status, time.Since(start).Seconds())
		g.logAudit(rec)
		return output, err
	}
}

func (g *Gate) dispatch(ctx context.Context, carrier sessionctx.Carrier, toolFn ToolFunc, input string) (string, error) {
	result := <-g.pool.Submit(ctx, carrier, func(ctx context.Context) (string, error) {
		return toolFn(ctx, input)
	})
	return result.Output, result.Err
}
