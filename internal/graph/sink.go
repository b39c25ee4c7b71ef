package graph

import "github.com/haasonsaas/agentengine/internal/llm"

// Sink observes the fine-grained LLM and tool calls the ReAct loop makes,
// independent of the node-level events carried on AgentState.PendingEvents.
// internal/streamadapter implements this to translate calls into
// normalized SSE events; it is nil-safe everywhere it's called from.
type Sink interface {
	// OnToken is called for every non-empty streamed content chunk.
	OnToken(content string)
	// OnLLMStart fires before a completion call, node is the graph node
	// issuing it ("agent", "executor" or "replanner").
	OnLLMStart(node, input string)
	// OnLLMEnd fires after the call completes successfully.
	OnLLMEnd(node string, durationMs int64, usage *llm.Usage, input, output string)
	// OnToolStart fires before a tool is invoked.
	OnToolStart(tool, input string)
	// OnToolEnd fires after a tool call returns, whether it errored or not
	// (errors are folded into output as "[ERROR] ..." text by the caller).
	OnToolEnd(tool, output string, cached bool, durationMs int64)
}
