package gate

import "github.com/haasonsaas/agentengine/internal/gate/classify"

// SecurityLevel selects a built-in (tool -> ToolPolicy) matrix.
type SecurityLevel string

const (
	LevelRelaxed  SecurityLevel = "relaxed"
	LevelStandard SecurityLevel = "standard"
	LevelStrict   SecurityLevel = "strict"
)

// ToolPolicy governs whether a risk classification requires human
// approval before execution.
type ToolPolicy string

const (
	PolicyAuto              ToolPolicy = "auto"
	PolicyApproveDangerous   ToolPolicy = "approve_dangerous"
	PolicyAlwaysApprove      ToolPolicy = "always_approve"
	PolicyApproveSensitive   ToolPolicy = "approve_sensitive"
)

// Matrix is a (security_level -> tool_name -> policy) lookup with a
// per-level fallback for tools it doesn't name explicitly.
type Matrix struct {
	levels   map[SecurityLevel]map[string]ToolPolicy
	fallback map[SecurityLevel]ToolPolicy
}

// DefaultMatrix defines the three built-in security levels:
// relaxed (everything auto), standard (dangerous tools need approval,
// sensitive reads flagged), strict (most tools always approve).
func DefaultMatrix() *Matrix {
	return &Matrix{
		levels: map[SecurityLevel]map[string]ToolPolicy{
			LevelRelaxed: {},
			LevelStandard: {
				"terminal":     PolicyApproveDangerous,
				"python_repl":  PolicyApproveDangerous,
				"fetch_url":    PolicyApproveDangerous,
				"read_file":    PolicyApproveSensitive,
				"memory_write": PolicyAuto,
				"memory_search": PolicyAuto,
				"rag_search":   PolicyAuto,
				"plan_create":  PolicyAuto,
			},
			LevelStrict: {
				"terminal":    PolicyAlwaysApprove,
				"python_repl": PolicyAlwaysApprove,
				"fetch_url":   PolicyApproveDangerous,
				"read_file":   PolicyApproveSensitive,
			},
		},
		fallback: map[SecurityLevel]ToolPolicy{
			LevelRelaxed:  PolicyAuto,
			LevelStandard: PolicyApproveDangerous,
			LevelStrict:   PolicyAlwaysApprove,
		},
	}
}

// Policy returns the ToolPolicy that applies to tool at level.
func (m *Matrix) Policy(level SecurityLevel, tool string) ToolPolicy {
	if perTool, ok := m.levels[level]; ok {
		if p, ok := perTool[tool]; ok {
			return p
		}
	}
	if p, ok := m.fallback[level]; ok {
		return p
	}
	return PolicyApproveDangerous
}

// NeedsApproval decides, given a policy and a classified risk, whether the
// call must suspend for a human decision.
func NeedsApproval(policy ToolPolicy, risk classify.RiskLevel) bool {
	switch policy {
	case PolicyAlwaysApprove:
		return true
	case PolicyApproveDangerous:
		return risk == classify.Dangerous || risk == classify.Blocked
	case PolicyApproveSensitive:
		return risk != classify.Safe
	default: // PolicyAuto
		return false
	}
}
