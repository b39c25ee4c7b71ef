package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/agentengine/internal/types"
)

func stubTool(name string) types.Tool {
	return types.Tool{
		Name:        name,
		Description: name + " tool",
		Schema:      json.RawMessage(`{"type": "object", "properties": {"input": {"type": "string"}}}`),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", nil
		},
	}
}

func newPopulatedRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(nil, nil)
	for _, name := range append(append([]string{}, coreTools...), PlanCreate) {
		require.NoError(t, r.Register(stubTool(name)))
	}
	return r
}

func TestRegisterRejectsMalformedSchema(t *testing.T) {
	r := New(nil, nil)
	tool := stubTool("broken")
	tool.Schema = json.RawMessage(`{"type": 42}`)
	require.Error(t, r.Register(tool))
}

func TestResolveCoreExcludesPlanCreate(t *testing.T) {
	r := newPopulatedRegistry(t)

	resolved, err := r.Resolve([]string{"core"}, false)
	require.NoError(t, err)
	require.Len(t, resolved, len(coreTools))
	for _, tool := range resolved {
		require.NotEqual(t, PlanCreate, tool.Name)
	}
}

func TestResolveIncludePlanCreateAppends(t *testing.T) {
	r := newPopulatedRegistry(t)

	resolved, err := r.Resolve([]string{"core"}, true)
	require.NoError(t, err)
	require.Equal(t, PlanCreate, resolved[len(resolved)-1].Name)
}

func TestResolveDeduplicatesPreservingFirstAppearance(t *testing.T) {
	r := newPopulatedRegistry(t)

	resolved, err := r.Resolve([]string{Terminal, "core", Terminal}, false)
	require.NoError(t, err)
	require.Len(t, resolved, len(coreTools))
	require.Equal(t, Terminal, resolved[0].Name)
}

func TestResolveNormalizesAliases(t *testing.T) {
	r := newPopulatedRegistry(t)

	resolved, err := r.Resolve([]string{"bash", "python"}, false)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, Terminal, resolved[0].Name)
	require.Equal(t, PythonREPL, resolved[1].Name)
}

func TestResolveSkipsUnknownNames(t *testing.T) {
	r := newPopulatedRegistry(t)

	resolved, err := r.Resolve([]string{"no_such_tool", ReadFile}, false)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, ReadFile, resolved[0].Name)
}

type fakeMCP struct {
	tools []types.Tool
}

func (f *fakeMCP) Initialize() error                            { return nil }
func (f *fakeMCP) Shutdown() error                              { return nil }
func (f *fakeMCP) ListTools(server string) ([]types.Tool, error) { return f.tools, nil }
func (f *fakeMCP) GetAllTools() ([]types.Tool, error)           { return f.tools, nil }

func TestResolveMCPPullsProviderTools(t *testing.T) {
	provider := &fakeMCP{tools: []types.Tool{stubTool("mcp:notes.search")}}
	r := New(provider, nil)
	require.NoError(t, r.Register(stubTool(Terminal)))

	resolved, err := r.Resolve([]string{"mcp", Terminal}, false)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, "mcp:notes.search", resolved[0].Name)
}
