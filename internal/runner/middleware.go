package runner

import (
	"context"

	"github.com/haasonsaas/agentengine/internal/streamadapter"
)

// Middleware observes and can transform every event a run emits, plus
// its start/end boundaries, mirroring engine/middleware's on_run_start/
// on_event/on_run_end trio. internal/middleware.DebugMiddleware is the
// only implementation so far; more (rate limiting, redaction) can be
// added without touching Run itself.
type Middleware interface {
	// OnRunStart fires once before the first event of a run.
	OnRunStart(ctx context.Context, rc *RunContext)
	// OnEvent is called for every event Run would otherwise forward to
	// its caller. Returning ok=false drops the event; otherwise the
	// (possibly rewritten) event returned is forwarded to the next
	// middleware in the chain, and finally to the caller.
	OnEvent(ctx context.Context, ev streamadapter.Event, rc *RunContext) (out streamadapter.Event, ok bool)
	// OnRunEnd fires once after the run's terminal event (done or error),
	// in reverse middleware order. Implementations must not panic; Run
	// recovers and logs regardless, but a well-behaved middleware handles
	// its own persistence errors.
	OnRunEnd(ctx context.Context, rc *RunContext)
}

// applyMiddlewares pipes ev through every middleware's OnEvent in order,
// stopping early if one drops it.
func applyMiddlewares(ctx context.Context, mws []Middleware, ev streamadapter.Event, rc *RunContext) (streamadapter.Event, bool) {
	for _, mw := range mws {
		var ok bool
		ev, ok = mw.OnEvent(ctx, ev, rc)
		if !ok {
			return nil, false
		}
	}
	return ev, true
}
