package streamadapter

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/haasonsaas/agentengine/internal/graph"
	"github.com/haasonsaas/agentengine/internal/llm"
)

// Recorder implements graph.Sink, translating every LLM/tool call hook
// the react loop makes into a normalized Event pushed onto Out.
type Recorder struct {
	Out     chan Event
	Model   string
	Pricing PricingTable

	mu       sync.Mutex
	inFlight map[string]string // node -> in-progress call id
}

var _ graph.Sink = (*Recorder)(nil)

// NewRecorder constructs a Recorder. model is the resolved model name
// for the "llm" pool scenario (llm.Pool.Resolve("llm").Model), reported
// on every llm_start/llm_end event. pricing may be nil; a nil or
// unmatched table simply omits the cost field.
func NewRecorder(model string, pricing PricingTable) *Recorder {
	return &Recorder{Out: make(chan Event, 64), Model: model, Pricing: pricing}
}

func (r *Recorder) emit(e Event) {
	r.Out <- e
}

// OnToken implements graph.Sink.
func (r *Recorder) OnToken(content string) {
	if content == "" {
		return
	}
	r.emit(NewTokenEvent(content))
}

// OnLLMStart implements graph.Sink.
func (r *Recorder) OnLLMStart(node, input string) {
	id := newCallID()
	r.mu.Lock()
	if r.inFlight == nil {
		r.inFlight = make(map[string]string)
	}
	r.inFlight[node] = id
	r.mu.Unlock()
	r.emit(NewLLMStartEvent(id, node, r.Model, input))
}

// OnLLMEnd implements graph.Sink. If usage is nil (the provider didn't
// report it), token counts are estimated from input/output text.
func (r *Recorder) OnLLMEnd(node string, durationMs int64, usage *llm.Usage, input, output string) {
	r.mu.Lock()
	id := r.inFlight[node]
	delete(r.inFlight, node)
	r.mu.Unlock()

	var inputTok, outputTok, totalTok int
	estimated := false
	if usage != nil {
		inputTok, outputTok, totalTok = usage.InputTokens, usage.OutputTokens, usage.TotalTokens
	} else {
		inputTok = EstimateTokens(input)
		outputTok = EstimateTokens(output)
		totalTok = inputTok + outputTok
		estimated = true
	}

	ev := LLMEndEvent{
		Type:            KindLLMEnd,
		CallID:          id,
		Node:            node,
		Model:           r.Model,
		DurationMs:      durationMs,
		InputTokens:     inputTok,
		OutputTokens:    outputTok,
		TotalTokens:     totalTok,
		TokensEstimated: estimated,
		Input:           truncateRunes(input, maxDebugInputChars),
		Output:          truncateRunes(output, maxLLMOutputChars),
	}
	if r.Pricing != nil {
		if cost, ok := r.Pricing.Cost(r.Model, inputTok, outputTok); ok {
			ev.Cost = &cost
		}
	}
	r.emit(ev)
}

// OnToolStart implements graph.Sink.
func (r *Recorder) OnToolStart(tool, input string) {
	r.emit(NewToolStartEvent(tool, input))
}

// OnToolEnd implements graph.Sink.
func (r *Recorder) OnToolEnd(tool, output string, cached bool, durationMs int64) {
	r.emit(NewToolEndEvent(tool, output, cached, durationMs))
}

// Close closes Out; callers must stop using the Recorder afterward.
func (r *Recorder) Close() {
	close(r.Out)
}

func newCallID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
