package reflection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/types"
)

// scriptedClient returns a fixed completion for every Complete call.
type scriptedClient struct {
	reply string
	err   error
}

func (c *scriptedClient) Complete(ctx context.Context, msgs []llm.ChatMessage, tools []llm.ToolSpec) (string, []llm.ToolCallDelta, *llm.Usage, error) {
	return c.reply, nil, nil, c.err
}

func (c *scriptedClient) Stream(ctx context.Context, msgs []llm.ChatMessage, tools []llm.ToolSpec, ch chan<- llm.StreamEvent) error {
	defer close(ch)
	if c.err != nil {
		return c.err
	}
	ch <- llm.StreamEvent{TokenDelta: c.reply}
	ch <- llm.StreamEvent{Done: true}
	return nil
}

type fakeSessions struct {
	messages  []types.Message
	toolCalls []ToolCallSummary
}

func (f *fakeSessions) Transcript(sessionID string) ([]types.Message, []ToolCallSummary, error) {
	return f.messages, f.toolCalls, nil
}

func newTestPool(t *testing.T, reply string) *llm.Pool {
	t.Helper()
	pool := llm.NewPool()
	pool.Register(llm.ModelConfig{ID: "primary", Provider: llm.ProviderAnthropic, Model: "test-model"})
	pool.Assign("llm", "primary")
	pool.InjectClient("primary", &scriptedClient{reply: reply})
	return pool
}

func TestReflectRecordsProceduralLessonFromToolFailure(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	sessions := &fakeSessions{
		messages: []types.Message{
			{Role: types.RoleUser, Content: "delete the build artifacts"},
			{Role: types.RoleAssistant, Content: "I'll run the cleanup."},
		},
		toolCalls: []ToolCallSummary{
			{Tool: "terminal", Input: "rm -rf ./out", Result: "[ERROR] tool timed out (30s)", IsError: true},
		},
	}
	reply := `[{"action": "ADD", "content": "terminal cleanup of ./out times out; split the deletion into smaller batches", "category": "procedural", "salience": 0.7, "tool": "terminal", "reason": "tool failure"}]`

	r := New(store, newTestPool(t, reply), sessions, nil)
	require.NoError(t, r.Reflect(context.Background(), "sess-42"))

	procedural, err := store.GetProceduralMemories("terminal")
	require.NoError(t, err)
	require.Len(t, procedural, 1)
	require.Equal(t, "sess-42", procedural[0].Context.LearnedFrom)
	require.Equal(t, "reflection", procedural[0].Source)
}

func TestReflectAppendsDailyLogLine(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	sessions := &fakeSessions{
		messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}

	r := New(store, newTestPool(t, `[]`), sessions, nil)
	require.NoError(t, r.Reflect(context.Background(), "sess-1"))

	days, err := store.ListDailyLogs()
	require.NoError(t, err)
	require.Len(t, days, 1)
	rendered, err := store.ReadDailyLog(days[0])
	require.NoError(t, err)
	require.Contains(t, rendered, "sess-1 reflected")
}

func TestReflectUpdateTargetsExistingMemory(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	seed, err := store.AddEntry("User prefers tabs over spaces", types.CategoryPreferences, 0.5, "user", nil, false)
	require.NoError(t, err)

	sessions := &fakeSessions{
		messages: []types.Message{{Role: types.RoleUser, Content: "actually, prefers tabs only in Go files"}},
	}
	reply := `[{"action": "UPDATE", "target_id": "` + seed.ID + `", "content": "User prefers tabs, but only in Go files", "category": "preferences", "salience": 0.8}]`

	r := New(store, newTestPool(t, reply), sessions, nil)
	require.NoError(t, r.Reflect(context.Background(), "sess-2"))

	updated, ok, err := store.ByID(seed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "User prefers tabs, but only in Go files", updated.Content)
	require.InDelta(t, 0.8, updated.Salience, 1e-9)
}

func TestReflectSkipsEmptySession(t *testing.T) {
	store := memstore.New(memstore.Options{DataRoot: t.TempDir()})
	r := New(store, newTestPool(t, `[]`), &fakeSessions{}, nil)
	require.NoError(t, r.Reflect(context.Background(), "sess-3"))

	days, err := store.ListDailyLogs()
	require.NoError(t, err)
	require.Empty(t, days)
}
