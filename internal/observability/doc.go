// Package observability provides monitoring and debugging capabilities for
// the agent runtime through metrics, structured logging, distributed
// tracing, and an event timeline.
//
// # Overview
//
// The observability package implements four complementary mechanisms:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed span tracing with OpenTelemetry
//  4. Events - An in-memory timeline for replaying a single run
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: Minimal performance impact on production systems
//   - Type-safe: Strongly-typed APIs reduce configuration errors
//   - Production-ready: Built-in security (redaction) and reliability features
//   - Standards-based: Uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Model backend request latency, token usage, and cost
//   - Tool dispatch performance and outcome
//   - ReAct loop iteration outcomes and budget state
//   - Safety Guardian decisions and circuit-breaker transitions
//   - Memory compaction runs and tokens reclaimed
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	// Serve metrics with promhttp.Handler() on a separate port.
//
//	// Track a model backend request
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	// Track tool execution
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/session/run/tool-call ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Add context IDs for correlation
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddRunID(ctx, runID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "dispatching tool",
//	    "tool_name", toolName,
//	    "iteration", iteration,
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "model backend request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a run across components:
//   - End-to-end run visualization, from the triggering goal to its outcome
//   - Per-iteration model backend latency
//   - Tool dispatch latency and failures
//   - Memory compaction duration
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentcore",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace a whole run
//	ctx, span := tracer.TraceRun(ctx, sessionID, runID)
//	defer span.End()
//
//	// Trace a model backend request
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
//	defer llmSpan.End()
//	tracer.SetAttributes(llmSpan, "prompt_tokens", 100, "completion_tokens", 500)
//
//	// Trace tool execution
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Events
//
// The event timeline records a run's tool calls, model requests, and
// lifecycle transitions for replay and debugging, independent of tracing:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//
//	recorder.RecordRunStart(ctx, runID, map[string]interface{}{"goal": goal})
//	recorder.RecordToolStart(ctx, "web_search", args)
//	recorder.RecordToolEnd(ctx, "web_search", elapsed, result, nil)
//	recorder.RecordRunEnd(ctx, elapsed, nil)
//
//	events, _ := store.GetByRunID(runID)
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(events)))
//
// # Context Propagation
//
// All of these integrate with Go's context for automatic correlation:
//
//	// Add IDs to context
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddRunID(ctx, "run-789")
//	ctx = observability.AddToolCallID(ctx, "call-001")
//
//	// IDs automatically appear in logs
//	logger.Info(ctx, "iteration started") // Includes request_id, run_id, etc.
//
//	// Spans inherit context
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Integration Example
//
// Complete example integrating all four components around one ReAct
// iteration:
//
//	func (l *AgenticLoop) runIteration(ctx context.Context, runID string) error {
//	    ctx = observability.AddRunID(ctx, runID)
//	    ctx, span := tracer.TraceLLMRequest(ctx, provider.Name(), model)
//	    defer span.End()
//
//	    start := time.Now()
//	    resp, err := provider.Complete(ctx, req)
//	    duration := time.Since(start).Seconds()
//
//	    if err != nil {
//	        metrics.RecordError("agent", "llm_request_failed")
//	        tracer.RecordError(span, err)
//	        logger.Error(ctx, "model backend request failed", "error", err)
//	        metrics.RecordLLMRequest(provider.Name(), model, "error", duration, 0, 0)
//	        return err
//	    }
//
//	    metrics.RecordLLMRequest(provider.Name(), model, "success",
//	        duration, resp.PromptTokens, resp.CompletionTokens)
//	    logger.Info(ctx, "model backend request completed",
//	        "duration_ms", duration*1000,
//	        "tokens", resp.CompletionTokens)
//
//	    return nil
//	}
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Performance
//
// The observability system is designed for minimal overhead:
//   - Metrics use lock-free counters where possible
//   - Logging with slog is highly efficient
//   - Tracing supports sampling to reduce overhead
//   - Context propagation is zero-allocation in most cases
//
// Typical overhead:
//   - Metrics: <1% CPU, ~10KB memory per metric
//   - Logging: ~1-5μs per log call
//   - Tracing: ~2-10μs per span (when sampled)
//
// # Configuration
//
// All components support configuration via structs:
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Logging - configurable output, level, format
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:          os.Getenv("LOG_LEVEL"),
//	    Format:         "json",
//	    AddSource:      true,
//	    RedactPatterns: []string{`custom-secret-\d+`},
//	})
//
//	// Tracing - configurable sampling, endpoint, attributes
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentcore",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate:   0.1,
//	    Attributes: map[string]string{
//	        "deployment.region": region,
//	        "deployment.cluster": cluster,
//	    },
//	})
//	defer shutdown(context.Background())
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests
//   - Events can be asserted against a MemoryEventStore directly
//
// # Best Practices
//
//  1. Always propagate context to enable correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Use structured logging with key-value pairs
//  5. Set appropriate sampling rates for high-traffic deployments
//  6. Add relevant attributes to spans for debugging
//  7. Use typed metric labels (avoid high-cardinality values)
//  8. Call shutdown() on tracer during graceful shutdown
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Model backend request throughput
//	rate(agentcore_llm_requests_total[5m])
//
//	# Model backend latency (95th percentile)
//	histogram_quantile(0.95, rate(agentcore_llm_request_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(agentcore_errors_total[5m])
//
//	# Budget consumption
//	agentcore_budget_iterations_used
//	agentcore_budget_cost_usd
//
//	# Tool execution time
//	rate(agentcore_tool_execution_duration_seconds_sum[5m]) /
//	rate(agentcore_tool_execution_duration_seconds_count[5m])
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - High error rate: rate(agentcore_errors_total[5m]) > threshold
//   - High model backend latency: p95 latency > 10s
//   - Circuit breaker open: rate(agentcore_circuit_breaker_transitions_total{to="open"}[5m]) > 0
//   - Budget exhaustion: agentcore_budget_cost_usd approaching configured MaxCostUSD
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
