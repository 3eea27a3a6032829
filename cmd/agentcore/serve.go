package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/hostapi"
	"github.com/agentcore/runtime/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JWT-authenticated host API (§6)",
		Long: `Exposes run_task over POST /v1/tasks and subscribe over the WebSocket
/v1/tasks/stream, both gated by a bearer token signed with server.jwt_secret.
Metrics are served separately on server.metrics_port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret must be set to serve the host API")
			}

			logger := slog.Default()
			tokens := hostapi.NewTokenService(cfg.Server.JWTSecret, cfg.Server.TokenExpiry)

			auditLogger, err := buildAuditLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to start audit logger: %w", err)
			}
			defer auditLogger.Close()

			_, shutdownTracer := buildTracer(cfg)
			defer shutdownTracer(context.Background())

			newLoop := func(sessionID string) (*agent.AgenticLoop, error) {
				if sessionID == "" {
					sessionID = uuid.NewString()
				}
				return buildLoop(cfg, workspace, sessionID, "You are an autonomous assistant. Use tools deliberately and report progress.")
			}

			var limiter *ratelimit.Limiter
			if cfg.Server.RateLimit.Enabled {
				limiter = ratelimit.NewLimiter(ratelimit.Config{
					Enabled:           true,
					RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
					BurstSize:         cfg.Server.RateLimit.BurstSize,
				})
			}

			srv := hostapi.NewServer(tokens, newLoop, logger, auditLogger, limiter)

			if cfg.Observability.MetricsEnabled {
				metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
				go serveMetrics(metricsAddr)
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
			fmt.Fprintf(cmd.OutOrStdout(), "agentcore host API listening on %s\n", addr)
			return hostapi.ListenAndServe(addr, srv.Handler())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Filesystem root the file/exec tools are scoped to")

	return cmd
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	_ = http.ListenAndServe(addr, mux)
}
