package main

import (
	"fmt"

	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/guardian"
	"github.com/spf13/cobra"
)

func buildInspectCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show budget, circuit-breaker, and trust-level state for a fresh session",
		Long: `Constructs the Safety Guardian run_task would use and reports its
starting state: approval mode, trust level, circuit breaker state, and budget caps.
Useful for confirming a configuration change before driving a real task. Does
not contact an LLM provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			g := guardian.New(buildGuardianConfig(cfg), lookupToolRisk)

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "approval_mode:  %s\n", cfg.Safety.ApprovalMode)
			fmt.Fprintf(out, "trust_level:    %s\n", g.Trust().Level())
			fmt.Fprintf(out, "breaker_state:  %s\n", g.Breaker().State())
			fmt.Fprintln(out)
			fmt.Fprintf(out, "budget.max_iterations:   %d\n", cfg.Budget.MaxIterations)
			fmt.Fprintf(out, "budget.max_tokens:       %d\n", cfg.Budget.MaxTokens)
			fmt.Fprintf(out, "budget.max_cost_usd:     %.2f\n", cfg.Budget.MaxCostUSD)
			fmt.Fprintf(out, "budget.max_wall_time:    %s\n", cfg.Budget.MaxWallTime)
			fmt.Fprintf(out, "budget.warn_at_fraction: %.2f\n", cfg.Budget.WarnAtFraction)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "deny_paths:             %v\n", cfg.Safety.DenyPaths)
			fmt.Fprintf(out, "deny_command_prefixes:  %v\n", cfg.Safety.DenyCommandPrefixes)
			fmt.Fprintf(out, "policies:               %d rule(s)\n", len(cfg.Tools.Policies))

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	return cmd
}
