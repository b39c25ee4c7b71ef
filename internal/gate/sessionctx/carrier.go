// Package sessionctx propagates the per-run session id and working
// directory into worker goroutines that execute blocking tools. Go's
// context.Context already crosses goroutine boundaries by value, but a
// worker pool that queues work onto reused goroutines needs an explicit
// capture-and-republish step at dispatch time, which is what Carrier gives.
package sessionctx

import "context"

type key int

const (
	sessionIDKey key = iota
	workingDirKey
)

// Carrier snapshots the values that must survive a hop onto a worker
// goroutine.
type Carrier struct {
	SessionID  string
	WorkingDir string
}

// Capture reads the carrier values out of ctx.
func Capture(ctx context.Context) Carrier {
	sid, _ := ctx.Value(sessionIDKey).(string)
	wd, _ := ctx.Value(workingDirKey).(string)
	return Carrier{SessionID: sid, WorkingDir: wd}
}

// WithSession attaches a session id to ctx.
func WithSession(ctx context.Context, sessionID, workingDir string) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, workingDirKey, workingDir)
	return ctx
}

// Republish re-installs a previously captured Carrier onto a new context,
// used when a worker goroutine pool receives a job with a bare
// context.Background() and must carry forward the dispatching session.
func (c Carrier) Republish(ctx context.Context) context.Context {
	return WithSession(ctx, c.SessionID, c.WorkingDir)
}

// SessionID reads the session id directly off ctx.
func SessionID(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDKey).(string)
	return sid
}

// WorkingDir reads the working directory directly off ctx.
func WorkingDir(ctx context.Context) string {
	wd, _ := ctx.Value(workingDirKey).(string)
	return wd
}
