// Package main provides the CLI entry point for the agentcore autonomous
// agent runtime: a ReAct control loop driving an LLM-based assistant through
// Think-Act-Observe cycles behind a Safety Guardian, a three-tier memory
// manager, and a tool registry/dispatcher.
//
// # Basic Usage
//
// Run a task to completion:
//
//	agentcore run --config agentcore.yaml "summarize the open incidents"
//
// Inspect budget/circuit-breaker/trust-level state:
//
//	agentcore inspect --config agentcore.yaml
//
// Validate configuration:
//
//	agentcore doctor --config agentcore.yaml
//
// Serve the host API (JWT-authenticated HTTP+WebSocket):
//
//	agentcore serve --config agentcore.yaml
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: Path to configuration file (default: agentcore.yaml)
//   - AGENTCORE_HOST, AGENTCORE_HTTP_PORT, AGENTCORE_METRICS_PORT, AGENTCORE_JWT_SECRET
//   - AGENTCORE_LLM_PROVIDER, <PROVIDER>_API_KEY (e.g. ANTHROPIC_API_KEY)
//   - AGENTCORE_APPROVAL_MODE, AGENTCORE_MAX_ITERATIONS, AGENTCORE_MAX_WALL_TIME
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - autonomous ReAct agent runtime",
		Long: `agentcore drives an LLM through Think-Act-Observe cycles under a budget,
a Safety Guardian, and a three-tier memory manager.

Subsystems: Agent Loop, Memory Manager, Safety Guardian, Tool Registry & Dispatcher.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildInspectCmd(),
		buildDoctorCmd(),
		buildServeCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("AGENTCORE_CONFIG"); env != "" {
		return env
	}
	return "agentcore.yaml"
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentcore:", err)
		os.Exit(1)
	}
}
