package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/internal/agent/providers"
	"github.com/agentcore/runtime/internal/audit"
	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/guardian"
	"github.com/agentcore/runtime/internal/jobs"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/observability"
	"github.com/agentcore/runtime/internal/tools/exec"
	"github.com/agentcore/runtime/internal/tools/facts"
	"github.com/agentcore/runtime/internal/tools/files"
	jobstools "github.com/agentcore/runtime/internal/tools/jobs"
	"github.com/agentcore/runtime/internal/tools/memorysearch"
)

var (
	metricsOnce   sync.Once
	sharedMetrics *observability.Metrics

	tracerOnce           sync.Once
	sharedTracer         *observability.Tracer
	sharedTracerShutdown func(context.Context) error
)

// buildMetrics returns the process-wide Metrics registry when
// cfg.Observability.MetricsEnabled, or nil otherwise. buildLoop is called
// once per session (the host API's NewLoop factory in serve.go constructs a
// fresh AgenticLoop per run_task), so the underlying Prometheus collectors
// are registered exactly once regardless of session count.
func buildMetrics(cfg *config.Config) *observability.Metrics {
	if !cfg.Observability.MetricsEnabled {
		return nil
	}
	metricsOnce.Do(func() {
		sharedMetrics = observability.NewMetrics()
	})
	return sharedMetrics
}

// buildTracer returns the process-wide Tracer from cfg.Observability.Trace
// along with its shutdown func (a no-op when Trace.Endpoint is empty). An
// empty Endpoint makes NewTracer return a no-op tracer, so this is safe to
// call unconditionally; the exporter and its background batcher are started
// exactly once regardless of session count.
func buildTracer(cfg *config.Config) (*observability.Tracer, func(context.Context) error) {
	tracerOnce.Do(func() {
		sharedTracer, sharedTracerShutdown = observability.NewTracer(cfg.Observability.Trace)
	})
	return sharedTracer, sharedTracerShutdown
}

// buildAuditLogger constructs the audit trail from cfg.Audit (§4.3, §4.4).
// A disabled config still returns a non-nil *audit.Logger whose Log calls
// are no-ops, so callers never need a nil check.
func buildAuditLogger(cfg *config.Config) (*audit.Logger, error) {
	return audit.NewLogger(cfg.Audit)
}

// buildNamedProvider constructs one LLM backend from cfg.LLM.Providers[name].
func buildNamedProvider(cfg *config.Config, name string) (agent.LLMProvider, string, error) {
	pc, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, "", fmt.Errorf("no provider configured for %q", name)
	}

	switch name {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
		})
		return p, pc.Model, err
	case "openai":
		return providers.NewOpenAIProvider(pc.APIKey), pc.Model, nil
	case "bedrock":
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{Region: pc.Region})
		return p, pc.Model, err
	default:
		return nil, "", fmt.Errorf("unknown provider %q", name)
	}
}

// buildProvider constructs the LLM backend from cfg.LLM: the default
// provider alone, or, when fallback_providers names any of cfg.LLM.Providers,
// a FailoverOrchestrator trying the default first and falling through the
// list in order on retriable errors (§4.1, §7). The returned model string is
// always the default provider's, since that's the model the first attempt
// (and the loop's budget accounting) is quoted against.
func buildProvider(cfg *config.Config) (agent.LLMProvider, string, error) {
	primary, model, err := buildNamedProvider(cfg, cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, "", err
	}
	if len(cfg.LLM.FallbackProviders) == 0 {
		return primary, model, nil
	}

	orchestrator := agent.NewFailoverOrchestrator(primary, &agent.FailoverConfig{
		MaxRetries:              cfg.LLM.Failover.MaxRetries,
		RetryBackoff:            cfg.LLM.Failover.RetryBackoff,
		MaxRetryBackoff:         cfg.LLM.Failover.MaxRetryBackoff,
		FailoverOnRateLimit:     cfg.LLM.Failover.FailoverOnRateLimit,
		FailoverOnServerError:   cfg.LLM.Failover.FailoverOnServerError,
		CircuitBreakerThreshold: cfg.LLM.Failover.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.LLM.Failover.CircuitBreakerTimeout,
	})
	for _, fb := range cfg.LLM.FallbackProviders {
		fp, _, err := buildNamedProvider(cfg, fb)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build fallback provider %q: %w", fb, err)
		}
		orchestrator.AddProvider(fp)
	}
	return orchestrator, model, nil
}

// toolRisk is the static declared risk_level for each registered tool (§4.3).
// It is consulted by the Guardian during classification for tools outside
// its explicit action-type mapping.
var toolRisk = map[string]guardian.RiskLevel{
	"read":          guardian.RiskReadOnly,
	"write":         guardian.RiskWrite,
	"edit":          guardian.RiskWrite,
	"apply_patch":   guardian.RiskWrite,
	"run_command":   guardian.RiskExecute,
	"process":       guardian.RiskExecute,
	"facts_extract": guardian.RiskReadOnly,
	"memory_search": guardian.RiskReadOnly,
	"memory_get":    guardian.RiskReadOnly,
	"job_status":    guardian.RiskReadOnly,
	"job_list":      guardian.RiskReadOnly,
	"job_cancel":    guardian.RiskWrite,
}

func lookupToolRisk(name string) (guardian.RiskLevel, bool) {
	r, ok := toolRisk[name]
	return r, ok
}

// buildToolRegistry registers the workspace-scoped file/exec tools, the fact
// extractor, and the async job inspection tools (§4.3). workspace roots file
// and command tool access; jobStore backs the async job tools started by the
// Agent Loop's queueAsyncJob path.
func buildToolRegistry(workspace string, jobStore jobs.Store) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()

	fileCfg := files.Config{Workspace: workspace, MaxReadBytes: 1 << 20}
	registry.Register(files.NewReadTool(fileCfg))
	registry.Register(files.NewWriteTool(fileCfg))
	registry.Register(files.NewEditTool(fileCfg))
	registry.Register(files.NewApplyPatchTool(fileCfg))

	execManager := exec.NewManager(workspace)
	registry.Register(exec.NewExecTool("run_command", execManager))
	registry.Register(exec.NewProcessTool(execManager))

	registry.Register(facts.NewExtractTool(50))

	registry.Register(jobstools.NewStatusTool(jobStore))
	registry.Register(jobstools.NewListTool(jobStore))
	registry.Register(jobstools.NewCancelTool(jobStore))

	return registry
}

// buildGuardianConfig translates the decoded config.SafetyConfig/ToolsConfig
// into the dependency-free guardian.Config (§4.4).
func buildGuardianConfig(cfg *config.Config) guardian.Config {
	rules := make([]guardian.PolicyRule, 0, len(cfg.Tools.Policies))
	for _, p := range cfg.Tools.Policies {
		rules = append(rules, guardian.PolicyRule{
			Name:              p.Name,
			Tools:             p.Tools,
			TimeWindowStart:   p.TimeWindowStart,
			TimeWindowEnd:     p.TimeWindowEnd,
			MaxBlastRadius:    p.MaxBlastRadius,
			MinTrustLevel:     guardian.ParseTrustLevel(p.MinTrustLevel),
			RequiresConsensus: p.RequiresConsensus,
			MaxConcurrent:     p.MaxConcurrent,
		})
	}

	return guardian.Config{
		Mode: guardian.ApprovalMode(cfg.Safety.ApprovalMode),
		DenyList: guardian.DenyList{
			Paths:    cfg.Safety.DenyPaths,
			Commands: cfg.Safety.DenyCommandPrefixes,
		},
		PolicyRules:  rules,
		InitialTrust: guardian.ParseTrustLevel(cfg.Safety.TrustLevel),
		Circuit: guardian.CircuitBreakerConfig{
			Window:                      cfg.Safety.Circuit.Window,
			ConsecutiveFailureThreshold: cfg.Safety.Circuit.ConsecutiveFailureThreshold,
			FailureRateThreshold:        cfg.Safety.Circuit.FailureRateThreshold,
			MinSamples:                  cfg.Safety.Circuit.MinSamples,
			HalfOpenAfter:               cfg.Safety.Circuit.HalfOpenAfter,
			CountSafetyDenials:          cfg.Safety.Circuit.CountSafetyDenials,
		},
	}
}

// buildLoop wires the six components into one AgenticLoop for sessionID:
// the model backend, the tool registry, the Safety Guardian, the three-tier
// memory manager, and the Knowledge Distiller.
func buildLoop(cfg *config.Config, workspace, sessionID, systemPrompt string) (*agent.AgenticLoop, error) {
	provider, model, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM provider: %w", err)
	}

	metrics := buildMetrics(cfg)
	provider = agent.InstrumentProvider(provider, metrics)

	jobStore := jobs.NewMemoryStore()
	registry := buildToolRegistry(workspace, jobStore)
	registry.SetMetrics(metrics)

	if cfg.Memory.LongTerm.Enabled {
		msCfg := &memorysearch.Config{WorkspacePath: workspace, MaxResults: 10}
		registry.Register(memorysearch.NewMemorySearchTool(msCfg))
		registry.Register(memorysearch.NewMemoryGetTool(msCfg))
	}

	longTerm, err := memory.NewManager(&cfg.Memory.LongTerm)
	if err != nil {
		return nil, fmt.Errorf("failed to build long-term memory manager: %w", err)
	}

	loopCfg := &agent.LoopConfig{
		Model:          model,
		MaxIterations:  cfg.Budget.MaxIterations,
		MaxTokens:      cfg.Budget.MaxTokens,
		MaxCostUSD:     cfg.Budget.MaxCostUSD,
		MaxWallTime:    cfg.Budget.MaxWallTime,
		WarnAtFraction: cfg.Budget.WarnAtFraction,
		HaltOnExceed:   true,
		Tools: agent.RuntimeOptions{
			ToolParallelism: cfg.Tools.MaxConcurrent,
			ToolTimeout:     cfg.Tools.DefaultTimeout,
			JobStore:        jobStore,
		},
		Guardian:         buildGuardianConfig(cfg),
		ToolRisk:         lookupToolRisk,
		MemoryTiers: memory.TierConfig{
			WorkingMaxChars:      cfg.Memory.WorkingMaxChars,
			ShortTermMaxMessages: cfg.Memory.ShortTermMaxMessages,
			CompactAtFraction:    cfg.Memory.CompactAtFraction,
		},
		Knowledge:        memory.DistillerConfig{MaxRules: cfg.Knowledge.MaxRules, MinEntries: 3, RecomputeEvery: 10},
		RollbackCapacity: cfg.Rollback.Capacity,
	}

	tracer, _ := buildTracer(cfg)

	loop := agent.NewAgenticLoop(provider, registry, sessionID, systemPrompt, loopCfg, longTerm)
	loop.SetMetrics(metrics)
	loop.SetTracer(tracer)
	return loop, nil
}
