package main

import (
	"fmt"

	"github.com/agentcore/runtime/internal/config"
	"github.com/spf13/cobra"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration without running the loop",
		Long: `Loads and validates the configuration file, reports the default
provider's readiness (API key present), and flags any deny-list/policy rules
that reference tools that do not exist in this build's tool registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			out := cmd.OutOrStdout()

			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(out, "FAIL  config: %s\n", err)
				return err
			}
			fmt.Fprintf(out, "OK    config loaded from %s\n", configPath)

			pc, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
			switch {
			case !ok:
				fmt.Fprintf(out, "FAIL  llm.default_provider %q has no matching entry in llm.providers\n", cfg.LLM.DefaultProvider)
			case pc.APIKey == "":
				fmt.Fprintf(out, "WARN  llm.providers.%s.api_key is empty\n", cfg.LLM.DefaultProvider)
			default:
				fmt.Fprintf(out, "OK    default provider %q configured (model %q)\n", cfg.LLM.DefaultProvider, pc.Model)
			}

			knownTools := make(map[string]bool, len(toolRisk))
			for name := range toolRisk {
				knownTools[name] = true
			}
			for _, rule := range cfg.Tools.Policies {
				for _, t := range rule.Tools {
					if t == "*" || knownTools[t] {
						continue
					}
					fmt.Fprintf(out, "WARN  policy %q references unknown tool %q\n", rule.Name, t)
				}
			}

			fmt.Fprintf(out, "OK    safety.approval_mode=%s safety.trust_level=%s\n", cfg.Safety.ApprovalMode, cfg.Safety.TrustLevel)
			fmt.Fprintf(out, "OK    budget.max_iterations=%d budget.max_wall_time=%s\n", cfg.Budget.MaxIterations, cfg.Budget.MaxWallTime)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	return cmd
}
