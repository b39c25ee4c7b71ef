// Package graphcfg parses the YAML graph configuration that toggles
// which state-graph nodes run and how, merging partial documents against
// built-in defaults.
package graphcfg

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// AgentNode configures the top-level ReAct node.
type AgentNode struct {
	Enabled       bool     `yaml:"enabled"`
	MaxIterations int      `yaml:"max_iterations"`
	Tools         []string `yaml:"tools"`
}

// PlannerNode toggles the plan_gate node.
type PlannerNode struct {
	Enabled bool `yaml:"enabled"`
}

// ApprovalNode toggles the human-approval interrupt node.
type ApprovalNode struct {
	Enabled bool `yaml:"enabled"`
}

// ExecutorNode configures the per-plan-step execution node.
type ExecutorNode struct {
	Enabled       bool     `yaml:"enabled"`
	MaxIterations int      `yaml:"max_iterations"`
	MaxSteps      int      `yaml:"max_steps"`
	Tools         []string `yaml:"tools"`
}

// ReplannerNode configures the continue/revise/finish decision node.
type ReplannerNode struct {
	Enabled       bool `yaml:"enabled"`
	SkipOnSuccess bool `yaml:"skip_on_success"`
}

// SummarizerNode toggles the final-digest node.
type SummarizerNode struct {
	Enabled bool `yaml:"enabled"`
}

// Nodes is the full node toggle/config block.
type Nodes struct {
	Agent      AgentNode      `yaml:"agent"`
	Planner    PlannerNode    `yaml:"planner"`
	Approval   ApprovalNode   `yaml:"approval"`
	Executor   ExecutorNode   `yaml:"executor"`
	Replanner  ReplannerNode  `yaml:"replanner"`
	Summarizer SummarizerNode `yaml:"summarizer"`
}

// Settings holds graph-wide runtime limits.
type Settings struct {
	RecursionLimit int `yaml:"recursion_limit"`
}

// Config is the top-level graph configuration document.
type Config struct {
	Graph struct {
		Nodes    Nodes    `yaml:"nodes"`
		Settings Settings `yaml:"settings"`
	} `yaml:"graph"`
}

// Default returns the built-in configuration every parsed document is
// merged against: every node enabled, conservative iteration caps, and a
// recursion limit of 100.
func Default() Config {
	var c Config
	c.Graph.Nodes.Agent = AgentNode{Enabled: true, MaxIterations: 10, Tools: []string{"core"}}
	c.Graph.Nodes.Planner = PlannerNode{Enabled: true}
	c.Graph.Nodes.Approval = ApprovalNode{Enabled: true}
	c.Graph.Nodes.Executor = ExecutorNode{Enabled: true, MaxIterations: 6, MaxSteps: 20, Tools: []string{"core"}}
	c.Graph.Nodes.Replanner = ReplannerNode{Enabled: true, SkipOnSuccess: false}
	c.Graph.Nodes.Summarizer = SummarizerNode{Enabled: true}
	c.Graph.Settings = Settings{RecursionLimit: 100}
	return c
}

// Parse decodes YAML document data and merges missing leaves against
// Default(), so a partial config (e.g. only overriding
// settings.recursion_limit) still produces a fully populated Config.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}

	var overlay struct {
		Graph struct {
			Nodes struct {
				Agent      *AgentNode      `yaml:"agent"`
				Planner    *PlannerNode    `yaml:"planner"`
				Approval   *ApprovalNode   `yaml:"approval"`
				Executor   *ExecutorNode   `yaml:"executor"`
				Replanner  *ReplannerNode  `yaml:"replanner"`
				Summarizer *SummarizerNode `yaml:"summarizer"`
			} `yaml:"nodes"`
			Settings *Settings `yaml:"settings"`
		} `yaml:"graph"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("graphcfg: parse: %w", err)
	}

	if n := overlay.Graph.Nodes.Agent; n != nil {
		cfg.Graph.Nodes.Agent = *n
	}
	if n := overlay.Graph.Nodes.Planner; n != nil {
		cfg.Graph.Nodes.Planner = *n
	}
	if n := overlay.Graph.Nodes.Approval; n != nil {
		cfg.Graph.Nodes.Approval = *n
	}
	if n := overlay.Graph.Nodes.Executor; n != nil {
		cfg.Graph.Nodes.Executor = *n
	}
	if n := overlay.Graph.Nodes.Replanner; n != nil {
		cfg.Graph.Nodes.Replanner = *n
	}
	if n := overlay.Graph.Nodes.Summarizer; n != nil {
		cfg.Graph.Nodes.Summarizer = *n
	}
	if s := overlay.Graph.Settings; s != nil {
		cfg.Graph.Settings = *s
	}
	return cfg, nil
}

// Fingerprint serialises cfg as JSON and returns the first 16 hex chars of
// its SHA-256, keying the process-wide compiled-graph cache in
// internal/graph.Builder.
func Fingerprint(cfg Config) string {
	b, _ := json.Marshal(cfg) // struct field order is fixed, so the encoding is deterministic
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
