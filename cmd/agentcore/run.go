package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath   string
		workspace    string
		sessionID    string
		systemPrompt string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Run a task to completion and print its outcome",
		Long: `Drives the agent loop through Think-Act-Observe cycles for one goal,
in-process, until it reaches a terminal TaskOutcome: completed, halted, or aborted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			if systemPrompt == "" {
				systemPrompt = "You are an autonomous assistant. Use tools deliberately and report progress."
			}

			loop, err := buildLoop(cfg, workspace, sessionID, systemPrompt)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			auditLogger, err := buildAuditLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to start audit logger: %w", err)
			}
			defer auditLogger.Close()

			out := cmd.OutOrStdout()
			goal := strings.TrimSpace(args[0])

			var outcome agent.TaskOutcome
			var answer string
			for chunk := range loop.Run(ctx, goal) {
				if chunk.Text != "" {
					answer += chunk.Text
					if verbose {
						fmt.Fprint(out, chunk.Text)
					}
				}
				if chunk.Error != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "\n[error] %s\n", chunk.Error.Error())
				}
				if chunk.ToolEvent != nil {
					auditLogger.ObserveToolEvent(ctx, sessionID, chunk.ToolEvent)
				}
				if chunk.Event != nil {
					auditLogger.ObserveRuntimeEvent(ctx, sessionID, chunk.Event)
					switch chunk.Event.Type {
					case "task_completed":
						outcome.Status = agent.TaskCompleted
						outcome.Answer = chunk.Event.Message
					case "task_halted":
						outcome.Status = agent.TaskHalted
						outcome.Reason = chunk.Event.Message
					case "task_aborted":
						outcome.Status = agent.TaskAborted
						outcome.Reason = chunk.Event.Message
					default:
						if verbose {
							fmt.Fprintf(cmd.ErrOrStderr(), "[event] %s iteration=%d tool=%s\n", chunk.Event.Type, chunk.Event.Iteration, chunk.Event.ToolName)
						}
					}
				}
			}
			if outcome.Answer == "" {
				outcome.Answer = answer
			}
			outcome.Usage = loop.Usage()

			if verbose {
				fmt.Fprintln(out)
			}
			return printOutcome(out, outcome)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Filesystem root the file/exec tools are scoped to")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session ID for memory scoping (default: generated)")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Override the default system prompt")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Stream tokens and lifecycle events as they happen")

	return cmd
}

func printOutcome(out io.Writer, outcome agent.TaskOutcome) error {
	fmt.Fprintf(out, "status: %s\n", outcome.Status)
	if outcome.Answer != "" {
		fmt.Fprintf(out, "answer: %s\n", outcome.Answer)
	}
	if outcome.Reason != "" {
		fmt.Fprintf(out, "reason: %s\n", outcome.Reason)
	}
	fmt.Fprintf(out, "usage: iterations=%d tokens=%d cost_usd=%.4f\n",
		outcome.Usage.Iteration, outcome.Usage.TokensUsed, outcome.Usage.CostUSD)

	if outcome.Status == agent.TaskAborted {
		return fmt.Errorf("task aborted: %s", outcome.Reason)
	}
	return nil
}
