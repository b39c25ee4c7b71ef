package graphcfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyReturnsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParsePartialOverlayKeepsOtherDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
graph:
  nodes:
    approval: {enabled: false}
  settings:
    recursion_limit: 25
`))
	require.NoError(t, err)

	require.False(t, cfg.Graph.Nodes.Approval.Enabled)
	require.Equal(t, 25, cfg.Graph.Settings.RecursionLimit)

	// Untouched leaves keep their built-in defaults.
	require.True(t, cfg.Graph.Nodes.Planner.Enabled)
	require.Equal(t, 10, cfg.Graph.Nodes.Agent.MaxIterations)
	require.Equal(t, []string{"core"}, cfg.Graph.Nodes.Executor.Tools)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("graph: [not: a: map"))
	require.Error(t, err)
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	a := Default()
	b := Default()
	require.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Graph.Nodes.Approval.Enabled = false
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
