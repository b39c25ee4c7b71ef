// Package middleware collects the runner.Middleware implementations that
// sit in a run's event pipeline without being part of its core control
// flow.
package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/agentengine/internal/runner"
	"github.com/haasonsaas/agentengine/internal/streamadapter"
)

// DebugLevel controls how much a DebugMiddleware tracks and truncates.
// Levels are ordered Off < Basic < Standard < Full.
type DebugLevel int

const (
	DebugOff DebugLevel = iota
	DebugBasic
	DebugStandard
	DebugFull
)

// CallRecord is one tracked tool or LLM invocation, persisted verbatim by
// SessionStore.SaveDebugCalls once a run ends. Fields unused by a given
// record's kind are left at their zero value, mirroring the Python
// collector's dict-per-call shape.
type CallRecord struct {
	Tool       string    `json:"tool,omitempty"`
	CallID     string    `json:"call_id,omitempty"`
	Node       string    `json:"node,omitempty"`
	Model      string    `json:"model,omitempty"`
	Motivation string    `json:"motivation,omitempty"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	InputTokens     *int `json:"input_tokens,omitempty"`
	OutputTokens    *int `json:"output_tokens,omitempty"`
	TotalTokens     *int `json:"total_tokens,omitempty"`
	TokensEstimated bool `json:"tokens_estimated,omitempty"`

	Cost      *float64 `json:"cost,omitempty"`
	ModelInfo string   `json:"model_info,omitempty"`

	inProgress bool
}

// SessionStore is the persistence collaborator DebugMiddleware consumes,
// not implements; session storage lives outside this engine.
type SessionStore interface {
	SaveDebugCalls(sessionID string, calls []CallRecord) error
}

// InMemoryCollector accumulates CallRecords for one run, backfilling a
// tool/LLM call's end fields onto its matching in-progress start record by
// scanning back to front, mirroring InMemoryCollector.record_tool_end/
// record_llm_end's reverse-iteration-and-backfill.
type InMemoryCollector struct {
	mu    sync.Mutex
	calls []CallRecord
}

func (c *InMemoryCollector) RecordToolStart(ev streamadapter.ToolStartEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, CallRecord{
		Tool:       ev.Tool,
		Input:      ev.Input,
		Motivation: ev.Motivation,
		Timestamp:  time.Now(),
		inProgress: true,
	})
}

func (c *InMemoryCollector) RecordToolEnd(ev streamadapter.ToolEndEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.calls) - 1; i >= 0; i-- {
		call := &c.calls[i]
		if call.Tool == ev.Tool && call.inProgress {
			call.Output = truncate(ev.Output, 1000)
			dur := ev.DurationMs
			call.DurationMs = &dur
			call.Cached = ev.Cached
			call.inProgress = false
			return
		}
	}
}

func (c *InMemoryCollector) RecordLLMStart(ev streamadapter.LLMStartEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, CallRecord{
		CallID:     ev.CallID,
		Node:       ev.Node,
		Model:      ev.Model,
		Input:      ev.Input,
		Motivation: ev.Motivation,
		Timestamp:  time.Now(),
		inProgress: true,
	})
}

func (c *InMemoryCollector) RecordLLMEnd(ev streamadapter.LLMEndEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.calls) - 1; i >= 0; i-- {
		call := &c.calls[i]
		if call.CallID == ev.CallID && call.inProgress {
			dur := ev.DurationMs
			call.DurationMs = &dur
			call.Output = ev.Output
			call.TokensEstimated = ev.TokensEstimated
			if ev.InputTokens != 0 || ev.OutputTokens != 0 || ev.TotalTokens != 0 {
				in, out, tot := ev.InputTokens, ev.OutputTokens, ev.TotalTokens
				call.InputTokens, call.OutputTokens, call.TotalTokens = &in, &out, &tot
			}
			call.Cost = ev.Cost
			call.ModelInfo = ev.ModelInfo
			call.inProgress = false
			return
		}
	}
}

// GetAll returns a snapshot of every record tracked so far.
func (c *InMemoryCollector) GetAll() []CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CallRecord, len(c.calls))
	copy(out, c.calls)
	return out
}

// DebugMiddleware is a pluggable, level-gated debug tracer: tool timings
// at Basic and above, LLM call timing/token/cost aggregates at Standard
// and above, with Standard specifically truncating large payloads for
// transport bandwidth (Full sends them whole).
type DebugMiddleware struct {
	Level     DebugLevel
	Store     SessionStore
	collector *InMemoryCollector
}

// NewDebugMiddleware constructs a DebugMiddleware at the given level,
// persisting collected calls to store on OnRunEnd.
func NewDebugMiddleware(level DebugLevel, store SessionStore) *DebugMiddleware {
	return &DebugMiddleware{Level: level, Store: store, collector: &InMemoryCollector{}}
}

func (m *DebugMiddleware) OnRunStart(ctx context.Context, rc *runner.RunContext) {}

func (m *DebugMiddleware) OnEvent(ctx context.Context, ev streamadapter.Event, rc *runner.RunContext) (streamadapter.Event, bool) {
	if m.Level == DebugOff {
		return ev, true
	}

	switch e := ev.(type) {
	case streamadapter.ToolStartEvent:
		m.collector.RecordToolStart(e)
	case streamadapter.ToolEndEvent:
		m.collector.RecordToolEnd(e)
	case streamadapter.LLMStartEvent:
		if m.Level >= DebugStandard {
			m.collector.RecordLLMStart(e)
		}
		if m.Level == DebugStandard && len(e.Input) > 2000 {
			e.Input = e.Input[:2000] + "...[truncated]"
			return e, true
		}
	case streamadapter.LLMEndEvent:
		if m.Level >= DebugStandard {
			m.collector.RecordLLMEnd(e)
		}
		if m.Level == DebugStandard && len(e.Output) > 1000 {
			e.Output = e.Output[:1000] + "...[truncated]"
			return e, true
		}
	}
	return ev, true
}

func (m *DebugMiddleware) OnRunEnd(ctx context.Context, rc *runner.RunContext) {
	if m.Level == DebugOff || m.Store == nil {
		return
	}
	calls := m.collector.GetAll()
	if len(calls) == 0 {
		return
	}
	if err := m.Store.SaveDebugCalls(rc.SessionID, calls); err != nil {
		// Persistence failure must not fail the run.
		_ = err
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
