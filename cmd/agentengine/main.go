// Package main provides the CLI entry point for the agent execution
// engine.
//
// The engine itself is a library; this binary exists to exercise it
// locally: stream a single agent turn, answer approval prompts on the
// terminal, and run the memory maintenance jobs by hand.
//
// # Basic Usage
//
// Run one agent turn:
//
//	agentengine run "summarise workspace/SOUL.md"
//
// Memory maintenance:
//
//	agentengine memory compact
//	agentengine memory archive
//
// Cache maintenance:
//
//	agentengine cache clear url
//
// # Environment Variables
//
//   - AGENTENGINE_CONFIG: Path to configuration file (default: agentengine.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key (embedding/translate scenarios)
//   - GEMINI_API_KEY: Google Gemini API key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "agentengine",
		Short:         "Local agent execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to configuration file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newMemoryCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newTranslateCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentengine %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENTENGINE_CONFIG"); p != "" {
		return p
	}
	return "agentengine.yaml"
}
