// Package workerpool runs blocking tool invocations (the Python REPL, shell
// subprocesses) on a bounded set of goroutines so they never block the
// cooperative scheduler driving the graph's suspension points.
package workerpool

import (
	"context"
	"sync"

	"github.com/haasonsaas/agentengine/internal/gate/sessionctx"
)

// Job is a unit of blocking work submitted to the pool.
type Job func(ctx context.Context) (string, error)

// Pool bounds concurrent blocking work to Size goroutines.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// New constructs a Pool with the given concurrency bound.
func New(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Result carries a job's outcome back to the submitter.
type Result struct {
	Output string
	Err    error
}

// Submit runs job on a pool goroutine, re-publishing carrier onto a fresh
// context derived from parent so the job observes the dispatching run's
// session id and working directory even though it executes on a reused
// goroutine with its own call stack.
func (p *Pool) Submit(parent context.Context, carrier sessionctx.Carrier, job Job) <-chan Result {
	out := make(chan Result, 1)
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		ctx := carrier.Republish(parent)
		output, err := job(ctx)
		out <- Result{Output: output, Err: err}
	}()
	return out
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() { p.wg.Wait() }
