package runner

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentengine/internal/streamadapter"
)

type recordingMiddleware struct {
	started, ended bool
	rewrite        func(streamadapter.Event) (streamadapter.Event, bool)
}

func (m *recordingMiddleware) OnRunStart(ctx context.Context, rc *RunContext) { m.started = true }
func (m *recordingMiddleware) OnRunEnd(ctx context.Context, rc *RunContext)   { m.ended = true }
func (m *recordingMiddleware) OnEvent(ctx context.Context, ev streamadapter.Event, rc *RunContext) (streamadapter.Event, bool) {
	if m.rewrite != nil {
		return m.rewrite(ev)
	}
	return ev, true
}

func TestApplyMiddlewaresPassesThroughByDefault(t *testing.T) {
	mw := &recordingMiddleware{}
	ev := streamadapter.NewTokenEvent("hi")
	out, ok := applyMiddlewares(context.Background(), []Middleware{mw}, ev, &RunContext{})
	if !ok || out != streamadapter.Event(ev) {
		t.Fatalf("expected event unchanged, got %+v ok=%v", out, ok)
	}
}

func TestApplyMiddlewaresDropsEvent(t *testing.T) {
	mw := &recordingMiddleware{rewrite: func(ev streamadapter.Event) (streamadapter.Event, bool) {
		return nil, false
	}}
	_, ok := applyMiddlewares(context.Background(), []Middleware{mw}, streamadapter.NewTokenEvent("hi"), &RunContext{})
	if ok {
		t.Fatal("expected the event to be dropped")
	}
}

func TestApplyMiddlewaresChainsRewrites(t *testing.T) {
	upper := &recordingMiddleware{rewrite: func(ev streamadapter.Event) (streamadapter.Event, bool) {
		tok := ev.(streamadapter.TokenEvent)
		tok.Content = tok.Content + "-first"
		return tok, true
	}}
	lower := &recordingMiddleware{rewrite: func(ev streamadapter.Event) (streamadapter.Event, bool) {
		tok := ev.(streamadapter.TokenEvent)
		tok.Content = tok.Content + "-second"
		return tok, true
	}}
	out, ok := applyMiddlewares(context.Background(), []Middleware{upper, lower}, streamadapter.NewTokenEvent("hi"), &RunContext{})
	if !ok {
		t.Fatal("expected event kept")
	}
	if got := out.(streamadapter.TokenEvent).Content; got != "hi-first-second" {
		t.Fatalf("expected middlewares applied in order, got %q", got)
	}
}

func TestApplyMiddlewaresStopsAtFirstDrop(t *testing.T) {
	dropper := &recordingMiddleware{rewrite: func(ev streamadapter.Event) (streamadapter.Event, bool) {
		return nil, false
	}}
	neverCalled := &recordingMiddleware{rewrite: func(ev streamadapter.Event) (streamadapter.Event, bool) {
		t.Fatal("second middleware should never see a dropped event")
		return ev, true
	}}
	_, ok := applyMiddlewares(context.Background(), []Middleware{dropper, neverCalled}, streamadapter.NewTokenEvent("hi"), &RunContext{})
	if ok {
		t.Fatal("expected drop to propagate")
	}
}
