package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReduceMessagesAppends(t *testing.T) {
	existing := []Message{{ID: "system-prompt", Role: RoleSystem, Content: "sys"}}
	out := ReduceMessages(existing,
		[]Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}})

	require.Len(t, out, 3)
	require.Equal(t, "sys", out[0].Content)
	require.Equal(t, "hello", out[2].Content)
}

func TestReduceMessagesReplacesByID(t *testing.T) {
	existing := []Message{
		{ID: "system-prompt", Role: RoleSystem, Content: "old prompt"},
		{Role: RoleUser, Content: "hi"},
	}
	out := ReduceMessages(existing, []Message{{ID: "system-prompt", Role: RoleSystem, Content: "new prompt"}})

	require.Len(t, out, 2)
	require.Equal(t, "new prompt", out[0].Content)
	require.Equal(t, "hi", out[1].Content)
}

func TestReduceMessagesReplaceThenAppendSameBatch(t *testing.T) {
	existing := []Message{{ID: "a", Role: RoleAssistant, Content: "draft"}}
	out := ReduceMessages(existing, []Message{
		{ID: "a", Role: RoleAssistant, Content: "final"},
		{ID: "b", Role: RoleTool, Content: "result"},
		{ID: "b", Role: RoleTool, Content: "result v2"},
	})

	require.Len(t, out, 2)
	require.Equal(t, "final", out[0].Content)
	require.Equal(t, "result v2", out[1].Content)
}

func TestReduceMessagesEmptyAddIsIdentity(t *testing.T) {
	existing := []Message{{Role: RoleUser, Content: "hi"}}
	require.Equal(t, existing, ReduceMessages(existing, nil))
}

func TestNormalizeCategory(t *testing.T) {
	require.Equal(t, CategoryPreferences, NormalizeCategory("preferences"))
	require.Equal(t, CategoryGeneral, NormalizeCategory("nonsense"))
	require.Equal(t, CategoryGeneral, NormalizeCategory(""))
}

func TestClampSalience(t *testing.T) {
	require.Equal(t, 0.0, ClampSalience(-3))
	require.Equal(t, 0.5, ClampSalience(0.5))
	require.Equal(t, 1.0, ClampSalience(7))
}
