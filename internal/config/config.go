package config

import (
	"time"

	"github.com/agentcore/runtime/internal/audit"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/observability"
)

// Config is the top-level configuration for an agentcore runtime instance.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Safety        SafetyConfig        `yaml:"safety"`
	Memory        MemoryTierConfig    `yaml:"memory"`
	Budget        BudgetConfig        `yaml:"budget"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Tools         ToolsConfig         `yaml:"tools"`
	Rollback      RollbackConfig      `yaml:"rollback"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       observability.LogConfig `yaml:"logging"`

	// Audit governs structured logging of tool invocations, completions,
	// and denials (§4.3, §4.4) independent of Logging's general-purpose
	// slog output.
	Audit audit.Config `yaml:"audit"`
}

// ServerConfig configures the host-facing API listener (§6).
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`

	// JWTSecret signs and verifies bearer tokens presented to run_task/subscribe.
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`

	// RateLimit caps request throughput per authenticated subject.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the per-subject token bucket guarding
// /v1/tasks and /v1/tasks/stream (§6).
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// LLMConfig configures the Model Backend Adapter (§4.1).
type LLMConfig struct {
	// DefaultProvider selects which of Providers is used absent a per-run override.
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	Retry           RetryConfig               `yaml:"retry"`

	// FallbackProviders names additional entries in Providers, tried in
	// order, when DefaultProvider's requests keep failing. Empty means no
	// cross-provider failover: only Retry's single-provider backoff applies.
	FallbackProviders []string       `yaml:"fallback_providers,omitempty"`
	Failover          FailoverConfig `yaml:"failover"`
}

// FailoverConfig governs the FailoverOrchestrator wrapping DefaultProvider
// and FallbackProviders (§4.1, §7).
type FailoverConfig struct {
	MaxRetries              int           `yaml:"max_retries"`
	RetryBackoff            time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff         time.Duration `yaml:"max_retry_backoff"`
	FailoverOnRateLimit     bool          `yaml:"failover_on_rate_limit"`
	FailoverOnServerError   bool          `yaml:"failover_on_server_error"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}

// ProviderConfig configures a single named model backend (anthropic/openai/bedrock).
type ProviderConfig struct {
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Region    string `yaml:"region,omitempty"`    // bedrock
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// RetryConfig configures the exponential-backoff-with-jitter retry policy
// used by the Model Backend Adapter on retriable failures (§4.1, §7).
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// SafetyConfig configures the Safety Guardian (§4.4).
type SafetyConfig struct {
	// ApprovalMode is the default approval mode: safe, cautious, paranoid, yolo.
	ApprovalMode string `yaml:"approval_mode"`

	// TrustLevel is the starting trust level: shadow, dry_run, assisted,
	// supervised, selective_autonomy.
	TrustLevel string `yaml:"trust_level"`

	// DenyPaths are glob patterns that are never permitted as filesystem targets.
	DenyPaths []string `yaml:"deny_paths"`

	// DenyCommandPrefixes are command-line prefixes that are always denied.
	DenyCommandPrefixes []string `yaml:"deny_command_prefixes"`

	// ApprovalTimeout bounds how long the Guardian waits for a human decision
	// before the request times out (treated as denied, §4.4).
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	Circuit CircuitBreakerConfig `yaml:"circuit"`
}

// CircuitBreakerConfig configures the per-tool circuit breaker (§4.4, §9).
type CircuitBreakerConfig struct {
	// Window is the sliding time window over which outcomes are counted.
	Window time.Duration `yaml:"window"`

	// ConsecutiveFailureThreshold trips the breaker after this many
	// back-to-back failures regardless of Window.
	ConsecutiveFailureThreshold int `yaml:"consecutive_failure_threshold"`

	// FailureRateThreshold trips the breaker when the failure rate within
	// Window meets or exceeds this fraction, given at least MinSamples outcomes.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
	MinSamples           int     `yaml:"min_samples"`

	// HalfOpenAfter is how long the breaker stays Open before probing again.
	HalfOpenAfter time.Duration `yaml:"half_open_after"`

	// CountSafetyDenials includes Guardian denials (not just execution
	// failures/timeouts) in the failure count. Resolves SPEC_FULL.md's open
	// question on counting scope; defaults to false.
	CountSafetyDenials bool `yaml:"count_safety_denials"`
}

// MemoryTierConfig configures the three-tier Memory Manager (§4.2).
type MemoryTierConfig struct {
	// WorkingMaxChars bounds what is ever handed to the model in one call.
	WorkingMaxChars int `yaml:"working_max_chars"`

	// ShortTermMaxMessages bounds the sliding-window tier retained for recall
	// without a long-term search.
	ShortTermMaxMessages int `yaml:"short_term_max_messages"`

	// CompactAtFraction triggers compaction once the working tier reaches
	// this fraction of WorkingMaxChars (§4.2, §8 boundary test).
	CompactAtFraction float64 `yaml:"compact_at_fraction"`

	Pruning ContextPruningConfig `yaml:"pruning"`

	// LongTerm is the durable fact/correction vector store (§4.2).
	LongTerm memory.Config `yaml:"long_term"`
}

// BudgetConfig configures the Agent Loop's iteration/token/cost/wall-time
// budgets and graceful-termination behavior (§4.5, §8).
type BudgetConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxCostUSD    float64       `yaml:"max_cost_usd"`
	MaxWallTime   time.Duration `yaml:"max_wall_time"`

	// WarnAtFraction emits a budget.warning event once a dimension crosses
	// this fraction of its limit, ahead of the hard stop.
	WarnAtFraction float64 `yaml:"warn_at_fraction"`
}

// KnowledgeConfig configures the Knowledge Distiller (§4.6).
type KnowledgeConfig struct {
	// MaxRules caps how many distilled rules are injected into the system
	// prompt addendum, keeping it bounded regardless of accumulated facts.
	MaxRules int `yaml:"max_rules"`
}

// ToolsConfig configures the Tool Registry & Dispatcher (§4.3).
type ToolsConfig struct {
	DefaultTimeout   time.Duration          `yaml:"default_timeout"`
	PerToolTimeout   map[string]time.Duration `yaml:"per_tool_timeout"`
	MaxConcurrent    int                    `yaml:"max_concurrent"`
	Policies         []PolicyRuleConfig     `yaml:"policies"`
}

// PolicyRuleConfig is a single Guardian policy predicate (§4.4): a named
// rule that must hold for an action to proceed once it passes classification.
type PolicyRuleConfig struct {
	Name               string   `yaml:"name"`
	Tools              []string `yaml:"tools"`
	TimeWindowStart    string   `yaml:"time_window_start,omitempty"` // "HH:MM"
	TimeWindowEnd      string   `yaml:"time_window_end,omitempty"`
	MaxBlastRadius     int      `yaml:"max_blast_radius,omitempty"`      // e.g. max files touched
	MinTrustLevel      string   `yaml:"min_trust_level,omitempty"`
	RequiresConsensus  bool     `yaml:"requires_consensus,omitempty"`
	MaxConcurrent      int      `yaml:"max_concurrent,omitempty"` // e.g. max concurrent deployments
}

// RollbackConfig configures the bounded rollback/undo registry (§4.3).
type RollbackConfig struct {
	Capacity int `yaml:"capacity"`
}

// ObservabilityConfig configures ambient metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool                       `yaml:"metrics_enabled"`
	Trace          observability.TraceConfig  `yaml:"trace"`
}
