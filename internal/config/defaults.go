package config

import (
	"time"

	"github.com/agentcore/runtime/internal/audit"
)

// DefaultConfig returns a Config with every sub-config defaulted, suitable
// as a starting point before a YAML file is decoded over it.
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		LLM:           DefaultLLMConfig(),
		Safety:        DefaultSafetyConfig(),
		Memory:        DefaultMemoryTierConfig(),
		Budget:        DefaultBudgetConfig(),
		Knowledge:     DefaultKnowledgeConfig(),
		Tools:         DefaultToolsConfig(),
		Rollback:      DefaultRollbackConfig(),
		Observability: DefaultObservabilityConfig(),
		Audit:         DefaultAuditConfig(),
	}
}

// DefaultAuditConfig returns audit logging defaults: disabled, since most
// deployments opt in explicitly once they have somewhere to ship the log.
func DefaultAuditConfig() audit.Config {
	return audit.Config{
		Enabled:           false,
		Level:             audit.LevelInfo,
		Format:            audit.FormatJSON,
		Output:            "stdout",
		IncludeToolInput:  true,
		IncludeToolOutput: false,
		MaxFieldSize:      1024,
		SampleRate:        1.0,
		BufferSize:        1000,
		FlushInterval:     5 * time.Second,
	}
}

// sanitizeAuditConfig fills zero-value fields with DefaultAuditConfig's
// values without disturbing an explicitly configured Enabled/EventTypes.
func sanitizeAuditConfig(cfg *audit.Config) {
	d := DefaultAuditConfig()
	if cfg.Level == "" {
		cfg.Level = d.Level
	}
	if cfg.Format == "" {
		cfg.Format = d.Format
	}
	if cfg.Output == "" {
		cfg.Output = d.Output
	}
	if cfg.MaxFieldSize <= 0 {
		cfg.MaxFieldSize = d.MaxFieldSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
}

// sanitizeConfig normalizes a decoded Config in place, letting zero-value
// fields fall back to defaults instead of propagating as zero (§2.1).
func sanitizeConfig(cfg *Config) {
	sanitizeServerConfig(&cfg.Server)
	sanitizeLLMConfig(&cfg.LLM)
	sanitizeSafetyConfig(&cfg.Safety)
	sanitizeMemoryTierConfig(&cfg.Memory)
	sanitizeBudgetConfig(&cfg.Budget)
	sanitizeKnowledgeConfig(&cfg.Knowledge)
	sanitizeToolsConfig(&cfg.Tools)
	sanitizeRollbackConfig(&cfg.Rollback)
	sanitizeObservabilityConfig(&cfg.Observability)
	sanitizeAuditConfig(&cfg.Audit)
}

// DefaultServerConfig returns the host-facing API listener defaults (§6).
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:        "127.0.0.1",
		HTTPPort:    8080,
		MetricsPort: 9090,
		TokenExpiry: 24 * time.Hour,
		RateLimit:   DefaultRateLimitConfig(),
	}
}

func sanitizeServerConfig(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
	sanitizeRateLimitConfig(&cfg.RateLimit)
}

// DefaultRateLimitConfig returns the per-subject token bucket defaults
// guarding the host API (§6).
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10.0,
		BurstSize:         20,
	}
}

func sanitizeRateLimitConfig(cfg *RateLimitConfig) {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
}

// DefaultLLMConfig returns the Model Backend Adapter defaults (§4.1).
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "anthropic",
		Retry:           DefaultRetryConfig(),
		Failover:        DefaultFailoverConfig(),
	}
}

func sanitizeLLMConfig(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	sanitizeRetryConfig(&cfg.Retry)
	sanitizeFailoverConfig(&cfg.Failover)
}

// DefaultFailoverConfig mirrors agent.DefaultFailoverConfig's values, kept
// independent since the config package cannot import internal/agent without
// creating an import cycle (internal/agent's RuntimeOptions ultimately feeds
// off internal/config in cmd/agentcore's wiring, not the reverse).
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:              2,
		RetryBackoff:            100 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		FailoverOnRateLimit:     true,
		FailoverOnServerError:   true,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

func sanitizeFailoverConfig(cfg *FailoverConfig) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 3
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 30 * time.Second
	}
}

// DefaultRetryConfig returns the retry policy defaults: initial 1s,
// multiplier 2.0, max 60s, jitter ±50%, cap 3 retries (§4.1, §7).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	}
}

func sanitizeRetryConfig(cfg *RetryConfig) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.5
	}
}

// DefaultSafetyConfig returns the Safety Guardian defaults (§4.4).
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		ApprovalMode:    "cautious",
		TrustLevel:      "shadow",
		ApprovalTimeout: 5 * time.Minute,
		Circuit:         DefaultCircuitBreakerConfig(),
	}
}

func sanitizeSafetyConfig(cfg *SafetyConfig) {
	if cfg.ApprovalMode == "" {
		cfg.ApprovalMode = "cautious"
	}
	if cfg.TrustLevel == "" {
		cfg.TrustLevel = "shadow"
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 5 * time.Minute
	}
	sanitizeCircuitBreakerConfig(&cfg.Circuit)
}

// DefaultCircuitBreakerConfig returns the per-tool circuit breaker defaults
// (§4.4, §9): a 5-minute sliding window, tripping after 5 consecutive
// failures or a 50% failure rate over at least 5 samples.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Window:                      5 * time.Minute,
		ConsecutiveFailureThreshold: 5,
		FailureRateThreshold:        0.5,
		MinSamples:                  5,
		HalfOpenAfter:               30 * time.Second,
	}
}

func sanitizeCircuitBreakerConfig(cfg *CircuitBreakerConfig) {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = 5
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.HalfOpenAfter <= 0 {
		cfg.HalfOpenAfter = 30 * time.Second
	}
}

// DefaultMemoryTierConfig returns the three-tier Memory Manager defaults
// (§4.2, §6: memory.working_limit, memory.short_term_limit,
// memory.fact_cap=10000, memory.correction_cap=1000).
func DefaultMemoryTierConfig() MemoryTierConfig {
	return MemoryTierConfig{
		WorkingMaxChars:      48000,
		ShortTermMaxMessages: 200,
		CompactAtFraction:    0.8,
	}
}

func sanitizeMemoryTierConfig(cfg *MemoryTierConfig) {
	if cfg.WorkingMaxChars <= 0 {
		cfg.WorkingMaxChars = 48000
	}
	if cfg.ShortTermMaxMessages <= 0 {
		cfg.ShortTermMaxMessages = 200
	}
	if cfg.CompactAtFraction <= 0 {
		cfg.CompactAtFraction = 0.8
	}
}

// DefaultBudgetConfig returns the Agent Loop's budget defaults (§4.5, §8).
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxIterations:  25,
		MaxTokens:      0,
		MaxCostUSD:     0,
		MaxWallTime:    10 * time.Minute,
		WarnAtFraction: 0.8,
	}
}

func sanitizeBudgetConfig(cfg *BudgetConfig) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	if cfg.MaxWallTime <= 0 {
		cfg.MaxWallTime = 10 * time.Minute
	}
	if cfg.WarnAtFraction <= 0 {
		cfg.WarnAtFraction = 0.8
	}
}

// DefaultKnowledgeConfig returns the Knowledge Distiller defaults
// (§6: knowledge.max_rules=20).
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{MaxRules: 20}
}

func sanitizeKnowledgeConfig(cfg *KnowledgeConfig) {
	if cfg.MaxRules <= 0 {
		cfg.MaxRules = 20
	}
}

// DefaultToolsConfig returns the Tool Registry & Dispatcher defaults
// (§6: tools.default_timeout_secs=60).
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		DefaultTimeout: 60 * time.Second,
		MaxConcurrent:  4,
	}
}

func sanitizeToolsConfig(cfg *ToolsConfig) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
}

// DefaultRollbackConfig returns the rollback/undo registry defaults
// (§6: rollback.capacity=100).
func DefaultRollbackConfig() RollbackConfig {
	return RollbackConfig{Capacity: 100}
}

func sanitizeRollbackConfig(cfg *RollbackConfig) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
}

// DefaultObservabilityConfig returns the ambient metrics/tracing defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{MetricsEnabled: true}
}

func sanitizeObservabilityConfig(cfg *ObservabilityConfig) {
	// MetricsEnabled's zero value (false) is a valid, deliberate choice, so
	// there is nothing to normalize beyond what decode already produced.
	_ = cfg
}
