package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/runtime/internal/guardian"
	"github.com/agentcore/runtime/internal/jobs"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/observability"
	"github.com/agentcore/runtime/internal/rollback"
	"github.com/agentcore/runtime/internal/tools/policy"
	"github.com/agentcore/runtime/pkg/models"
)

// AskUserFunc answers the ask_user pseudo-tool via the host's user-prompt
// channel. It bypasses the Guardian entirely and blocks until a human (or
// host-side automation) supplies an answer; there is no deadline.
type AskUserFunc func(ctx context.Context, question string) (string, error)

// BudgetState accumulates the Agent Loop's resource usage across a run.
type BudgetState struct {
	Iteration  int
	TokensUsed int
	CostUSD    float64
	StartedAt  time.Time
}

// BudgetSeverity classifies how a BudgetState compares against its caps.
type BudgetSeverity string

const (
	BudgetOK       BudgetSeverity = "ok"
	BudgetWarning  BudgetSeverity = "warning"
	BudgetExceeded BudgetSeverity = "exceeded"
)

// LoopConfig configures an AgenticLoop: the model backend, the resource
// budget that bounds a run, the Guardian's policy, the three-tier memory
// manager's sizing, and the Knowledge Distiller's cadence.
type LoopConfig struct {
	Model string

	MaxIterations  int
	MaxTokens      int
	MaxCostUSD     float64
	MaxWallTime    time.Duration
	WarnAtFraction float64
	HaltOnExceed   bool

	// CostPerInputToken/CostPerOutputToken convert reported token usage into
	// the running CostUSD figure. Zero disables cost accounting.
	CostPerInputToken  float64
	CostPerOutputToken float64

	Tools    RuntimeOptions
	Guardian guardian.Config
	ToolRisk guardian.ToolRiskLookup

	MemoryTiers      memory.TierConfig
	Knowledge        memory.DistillerConfig
	RollbackCapacity int

	// Summarizer produces high-quality compaction summaries; nil falls back
	// to the structure-preserving template.
	Summarizer      memory.Summarizer
	SummarizeTimeout time.Duration

	AskUser AskUserFunc
}

// DefaultLoopConfig returns the baseline loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:    25,
		MaxTokens:        200_000,
		MaxCostUSD:       5.0,
		MaxWallTime:      30 * time.Minute,
		WarnAtFraction:   0.8,
		HaltOnExceed:     true,
		Tools:            DefaultRuntimeOptions(),
		MemoryTiers:      memory.DefaultTierConfig(),
		Knowledge:        memory.DefaultDistillerConfig(),
		RollbackCapacity: rollback.DefaultCapacity,
		SummarizeTimeout: 20 * time.Second,
	}
}

func sanitizeLoopConfig(cfg *LoopConfig) *LoopConfig {
	if cfg == nil {
		return DefaultLoopConfig()
	}
	merged := *cfg
	def := DefaultLoopConfig()
	if merged.MaxIterations <= 0 {
		merged.MaxIterations = def.MaxIterations
	}
	if merged.MaxWallTime <= 0 {
		merged.MaxWallTime = def.MaxWallTime
	}
	if merged.WarnAtFraction <= 0 {
		merged.WarnAtFraction = def.WarnAtFraction
	}
	if merged.SummarizeTimeout <= 0 {
		merged.SummarizeTimeout = def.SummarizeTimeout
	}
	if merged.RollbackCapacity <= 0 {
		merged.RollbackCapacity = def.RollbackCapacity
	}
	merged.Tools = mergeRuntimeOptions(def.Tools, merged.Tools)
	if merged.MemoryTiers.WorkingMaxChars <= 0 {
		merged.MemoryTiers = def.MemoryTiers
	}
	if merged.Knowledge.MaxRules <= 0 {
		merged.Knowledge = def.Knowledge
	}
	return &merged
}

// TaskOutcomeStatus is the terminal disposition of a run_task call.
type TaskOutcomeStatus string

const (
	TaskCompleted TaskOutcomeStatus = "completed"
	TaskHalted    TaskOutcomeStatus = "halted"
	TaskAborted   TaskOutcomeStatus = "aborted"
)

// TaskOutcome is the result of a completed run_task invocation.
type TaskOutcome struct {
	Status TaskOutcomeStatus
	Answer string
	Reason string
	Usage  BudgetState
}

// AgenticLoop drives a single agent instance through Think-Act-Observe
// cycles: snapshotting the three-tier memory manager, invoking the model
// backend, and routing any proposed tool calls through the Safety Guardian
// before dispatch via the Tool Registry.
type AgenticLoop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *Executor
	guard    *guardian.Guardian
	mem      *memory.ConversationMemory
	distill  *memory.Distiller
	rb       *rollback.Registry
	resolver *policy.Resolver
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	cfg *LoopConfig

	mu            sync.Mutex
	budget        BudgetState
	distilledAt   int
	jobSem        chan struct{}
}

// SetMetrics attaches a Metrics registry so every iteration, compaction run,
// Guardian decision, and circuit-breaker transition is recorded (§4.5, §7).
// Passing nil (the default) disables recording.
func (l *AgenticLoop) SetMetrics(metrics *observability.Metrics) { l.metrics = metrics }

// SetTracer attaches an OpenTelemetry tracer so each run, model backend
// request, tool dispatch, and compaction run opens its own span. Passing nil
// (the default) disables tracing.
func (l *AgenticLoop) SetTracer(tracer *observability.Tracer) { l.tracer = tracer }

// NewAgenticLoop constructs an AgenticLoop for one session. longTerm may be
// nil, which disables vector-backed search_long_term in favor of a keyword
// fallback. riskOf resolves a tool's statically declared risk level; nil
// tools classify at RiskWrite by default.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, sessionID, systemPrompt string, cfg *LoopConfig, longTerm *memory.Manager) *AgenticLoop {
	cfg = sanitizeLoopConfig(cfg)

	execCfg := DefaultExecutorConfig()
	if cfg.Tools.ToolTimeout > 0 {
		execCfg.DefaultTimeout = cfg.Tools.ToolTimeout
	}
	if cfg.Tools.ToolParallelism > 0 {
		execCfg.MaxConcurrency = cfg.Tools.ToolParallelism
	}
	if cfg.Tools.ToolMaxAttempts > 0 {
		execCfg.DefaultRetries = cfg.Tools.ToolMaxAttempts - 1
	}
	if cfg.Tools.ToolRetryBackoff > 0 {
		execCfg.RetryBackoff = cfg.Tools.ToolRetryBackoff
	}

	var jobSem chan struct{}
	if cfg.Tools.ToolParallelism > 0 {
		jobSem = make(chan struct{}, cfg.Tools.ToolParallelism)
	}

	return &AgenticLoop{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, execCfg),
		guard:    guardian.New(cfg.Guardian, cfg.ToolRisk),
		mem:      memory.NewConversationMemory(sessionID, systemPrompt, cfg.MemoryTiers, longTerm),
		distill:  memory.NewDistiller(cfg.Knowledge),
		rb:       rollback.New(cfg.RollbackCapacity),
		cfg:      cfg,
		jobSem:   jobSem,
	}
}

// Memory exposes the loop's conversation memory manager, e.g. so a host can
// pin a message or set the persona addendum before a run.
func (l *AgenticLoop) Memory() *memory.ConversationMemory { return l.mem }

// Guardian exposes the loop's Safety Guardian for inspection (status
// endpoints, trust promotion) by the host.
func (l *AgenticLoop) Guardian() *guardian.Guardian { return l.guard }

// Rollback exposes the loop's undo registry.
func (l *AgenticLoop) Rollback() *rollback.Registry { return l.rb }

// SeedHistory loads a prior session's transcript into the working tier
// before the first Run/RunTask call, for a host resuming a session_id
// across process-external requests.
func (l *AgenticLoop) SeedHistory(history []models.Message) { l.mem.SeedHistory(history) }

// Usage returns a snapshot of the current run's accumulated budget
// consumption, safe to call concurrently with an in-flight Run.
func (l *AgenticLoop) Usage() BudgetState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget
}

// SetToolPolicyResolver installs the tool-name allow/deny resolver consulted
// when guarding and truncating tool results.
func (l *AgenticLoop) SetToolPolicyResolver(r *policy.Resolver) { l.resolver = r }

// Run streams a single run_task invocation. The returned channel is closed
// once the task reaches a terminal outcome; the final chunk's Event carries
// the outcome as one of "task_completed", "task_halted", "task_aborted".
func (l *AgenticLoop) Run(ctx context.Context, goal string) <-chan *ResponseChunk {
	chunks := make(chan *ResponseChunk, 16)
	go l.run(ctx, goal, chunks)
	return chunks
}

// RunTask runs goal to completion and returns its TaskOutcome, draining the
// Run channel internally. Use Run directly when the caller wants to observe
// the event stream as it happens (§6 subscribe semantics).
func (l *AgenticLoop) RunTask(ctx context.Context, goal string) TaskOutcome {
	var outcome TaskOutcome
	var answer string

	for chunk := range l.Run(ctx, goal) {
		if chunk.Text != "" {
			answer += chunk.Text
		}
		if chunk.Event == nil {
			continue
		}
		switch chunk.Event.Type {
		case "task_completed":
			outcome.Status = TaskCompleted
			outcome.Answer = chunk.Event.Message
		case "task_halted":
			outcome.Status = TaskHalted
			outcome.Reason = chunk.Event.Message
		case "task_aborted":
			outcome.Status = TaskAborted
			outcome.Reason = chunk.Event.Message
		}
	}
	if outcome.Answer == "" {
		outcome.Answer = answer
	}

	l.mu.Lock()
	outcome.Usage = l.budget
	l.mu.Unlock()
	return outcome
}

func (l *AgenticLoop) run(ctx context.Context, goal string, chunks chan<- *ResponseChunk) {
	defer close(chunks)

	l.mu.Lock()
	l.budget = BudgetState{StartedAt: time.Now()}
	l.mu.Unlock()

	runID := uuid.NewString()
	if l.tracer != nil {
		var span trace.Span
		ctx, span = l.tracer.TraceRun(ctx, l.mem.SessionID(), runID)
		defer span.End()
	}

	l.mem.Append(models.Message{Role: models.RoleUser, Content: goal})

	resolver := l.resolver

	for {
		if ctx.Err() != nil {
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_aborted", Message: ctx.Err().Error()}}
			return
		}

		if l.mem.NeedsCompaction() {
			chunks <- &ResponseChunk{Event: models.NewToolEvent(models.EventSummarizing, "", "")}
			compactStart := time.Now()
			summarizeCtx, cancel := context.WithTimeout(ctx, l.cfg.SummarizeTimeout)
			var compactSpan trace.Span
			if l.tracer != nil {
				summarizeCtx, compactSpan = l.tracer.TraceMemoryCompaction(summarizeCtx, l.mem.SessionID())
			}
			tokensBefore := l.mem.SnapshotForModel()
			err := l.mem.Compact(summarizeCtx, l.cfg.Summarizer)
			cancel()
			if compactSpan != nil {
				if err != nil {
					l.tracer.RecordError(compactSpan, err)
				}
				compactSpan.End()
			}
			if l.metrics != nil {
				outcome := "success"
				if err != nil {
					outcome = "error"
				}
				l.metrics.RecordCompaction(outcome, time.Since(compactStart).Seconds(), countReclaimedChars(tokensBefore, l.mem.SnapshotForModel()))
			}
			if err != nil {
				iter := l.currentIteration()
				chunks <- &ResponseChunk{Error: &LoopError{Phase: PhaseContinue, Iteration: iter, Message: "compaction failed", Cause: err}}
			}
		}

		iteration := l.nextIteration()
		iterationStart := time.Now()
		chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventIterationStart}).WithIteration(iteration)}

		snapshot := l.mem.SnapshotForModel()
		req := &CompletionRequest{
			Model:    l.cfg.Model,
			System:   snapshot[0].Content,
			Messages: toCompletionMessages(snapshot[1:]),
			Tools:    l.registry.AsLLMTools(),
		}

		llmCtx := ctx
		var llmSpan trace.Span
		if l.tracer != nil {
			llmCtx, llmSpan = l.tracer.TraceLLMRequest(ctx, l.provider.Name(), l.cfg.Model)
		}
		respChunks, err := l.provider.Complete(llmCtx, req)
		if err != nil {
			if llmSpan != nil {
				l.tracer.RecordError(llmSpan, err)
				llmSpan.End()
			}
			loopErr := &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
			chunks <- &ResponseChunk{Error: loopErr}
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_halted", Message: loopErr.Error()}}
			l.recordIterationOutcome("halted", iterationStart)
			return
		}

		var text string
		var toolCalls []models.ToolCall
		var inputTokens, outputTokens int
		streamErr := error(nil)

		for c := range respChunks {
			if c.Error != nil {
				streamErr = c.Error
				continue
			}
			if c.Text != "" {
				text += c.Text
				chunks <- &ResponseChunk{Text: c.Text}
			}
			if c.Thinking != "" || c.ThinkingStart || c.ThinkingEnd {
				chunks <- &ResponseChunk{Thinking: c.Thinking, ThinkingStart: c.ThinkingStart, ThinkingEnd: c.ThinkingEnd}
			}
			if c.ToolCall != nil {
				toolCalls = append(toolCalls, *c.ToolCall)
			}
			if c.Done {
				inputTokens, outputTokens = c.InputTokens, c.OutputTokens
			}
		}
		if llmSpan != nil {
			if streamErr != nil {
				l.tracer.RecordError(llmSpan, streamErr)
			}
			llmSpan.End()
		}
		if streamErr != nil {
			loopErr := &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: streamErr}
			chunks <- &ResponseChunk{Error: loopErr}
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_halted", Message: loopErr.Error()}}
			l.recordIterationOutcome("halted", iterationStart)
			return
		}

		l.accrueUsage(inputTokens, outputTokens)
		l.recordBudgetState()
		if observability.IsDiagnosticsEnabled() {
			observability.EmitModelUsage(&observability.ModelUsageEvent{
				SessionID: l.mem.SessionID(),
				RunID:     runID,
				Model:     l.cfg.Model,
				Usage: observability.UsageDetails{
					Input:  int64(inputTokens),
					Output: int64(outputTokens),
					Total:  int64(inputTokens + outputTokens),
				},
				CostUSD:    float64(inputTokens)*l.cfg.CostPerInputToken + float64(outputTokens)*l.cfg.CostPerOutputToken,
				DurationMs: time.Since(iterationStart).Milliseconds(),
			})
		}

		if len(toolCalls) == 0 {
			l.mem.Append(models.Message{Role: models.RoleAssistant, Content: text})
			chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventIterationEnd}).WithIteration(iteration)}
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_completed", Message: text}}
			l.recordIterationOutcome("completed", iterationStart)
			return
		}

		l.mem.Append(models.Message{Role: models.RoleAssistant, Content: text, ToolCalls: toolCalls})

		aborted := false
		for _, tc := range toolCalls {
			if ctx.Err() != nil {
				aborted = true
				break
			}

			chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventToolProposed, ToolName: tc.ToolName, ToolCallID: tc.CallID})}

			var result models.ToolResult
			if tc.ToolName == models.AskUserToolName {
				result = l.handleAskUser(ctx, tc, chunks)
			} else {
				result = l.handleToolCall(ctx, goal, tc, resolver, chunks)
			}

			l.mem.Append(models.Message{Role: models.RoleTool, ToolResults: []models.ToolResult{result}})
		}

		if aborted {
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_aborted", Message: "cancelled mid tool-iteration"}}
			l.recordIterationOutcome("aborted", iterationStart)
			return
		}

		l.maybeDistill()

		severity, reason := l.budgetSeverity()
		switch severity {
		case BudgetWarning:
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: models.EventBudgetWarning, Message: reason}}
		case BudgetExceeded:
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: models.EventBudgetExceeded, Message: reason}}
			if l.cfg.HaltOnExceed {
				chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_halted", Message: reason}}
				l.recordIterationOutcome("halted", iterationStart)
				return
			}
		}

		if l.cfg.MaxIterations > 0 && iteration >= l.cfg.MaxIterations {
			chunks <- &ResponseChunk{Event: &models.RuntimeEvent{Type: "task_halted", Message: "max iterations reached"}}
			l.recordIterationOutcome("halted", iterationStart)
			return
		}

		chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventIterationEnd}).WithIteration(iteration)}
		l.recordIterationOutcome("continue", iterationStart)
	}
}

// recordBreakerOutcome feeds a tool outcome to the Guardian's circuit
// breaker and records any resulting state transition on metrics (§4.4, §7).
func (l *AgenticLoop) recordBreakerOutcome(risk guardian.RiskLevel, success bool) {
	if l.metrics == nil {
		l.guard.RecordOutcome(risk, success)
		return
	}
	before := l.guard.Breaker().State()
	l.guard.RecordOutcome(risk, success)
	after := l.guard.Breaker().State()
	if after != before {
		l.metrics.RecordCircuitTransition(string(before), string(after))
	}
}

// recordIterationOutcome records one completed think-act-observe iteration
// on the metrics registry, if attached (§4.5, §7).
func (l *AgenticLoop) recordIterationOutcome(outcome string, iterationStart time.Time) {
	if l.metrics != nil {
		l.metrics.RecordIteration(outcome, time.Since(iterationStart).Seconds())
	}
}

// recordBudgetState pushes the run's current budget consumption onto the
// metrics registry, if attached.
func (l *AgenticLoop) recordBudgetState() {
	if l.metrics == nil {
		return
	}
	usage := l.Usage()
	l.metrics.SetBudgetState(float64(usage.Iteration), usage.CostUSD)
}

// countReclaimedChars estimates the characters freed by one compaction pass,
// used to approximate tokens reclaimed for the compaction metrics.
func countReclaimedChars(before, after []models.Message) int {
	var b, a int
	for _, m := range before {
		b += len(m.Content)
	}
	for _, m := range after {
		a += len(m.Content)
	}
	if b <= a {
		return 0
	}
	return (b - a) / 4
}

// handleAskUser answers the ask_user pseudo-tool directly from the host's
// user-prompt channel, bypassing the Guardian entirely (§4.5 step 4a).
func (l *AgenticLoop) handleAskUser(ctx context.Context, tc models.ToolCall, chunks chan<- *ResponseChunk) models.ToolResult {
	question := extractQuestion(tc.Arguments)
	chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventClarificationRequested, ToolName: tc.ToolName, ToolCallID: tc.CallID}).WithMessage(question)}

	if l.cfg.AskUser == nil {
		return models.ToolResult{ToolCallID: tc.CallID, Kind: models.ToolResultExecutionFailed, Message: "no user-prompt channel configured"}
	}
	answer, err := l.cfg.AskUser(ctx, question)
	if err != nil {
		return models.ToolResult{ToolCallID: tc.CallID, Kind: models.ToolResultExecutionFailed, Message: err.Error()}
	}
	payload, n := models.TruncatePayload(answer)
	return models.ToolResult{ToolCallID: tc.CallID, Kind: models.ToolResultOK, Payload: payload, ByteCount: n}
}

// handleToolCall runs the full Guardian pipeline for a proposed tool call,
// dispatches it on approval, and records the Fact/Correction/circuit-breaker
// feedback the Agent Loop owes back to memory and the Guardian (§4.5 step 4).
func (l *AgenticLoop) handleToolCall(ctx context.Context, goal string, tc models.ToolCall, resolver *policy.Resolver, chunks chan<- *ResponseChunk) models.ToolResult {
	decision, approvalCtx := l.guard.Evaluate(tc.ToolName, tc.Arguments)
	if l.metrics != nil {
		l.metrics.RecordGuardianDecision(string(decision))
	}

	chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventApprovalDecision, ToolName: tc.ToolName, ToolCallID: tc.CallID}).WithMessage(string(decision))}
	chunks <- &ResponseChunk{Event: (&models.RuntimeEvent{Type: models.EventDecisionExplanation, ToolName: tc.ToolName, ToolCallID: tc.CallID}).WithMessage(approvalCtx.Reasoning)}

	switch decision {
	case guardian.DecisionDenied, guardian.DecisionCircuitBroken, guardian.DecisionPending, guardian.DecisionSuggestion, guardian.DecisionDryRun:
		if decision == guardian.DecisionDenied {
			l.mem.RecordCorrection(tc.ToolName, argsDigest(tc.Arguments), goal, approvalCtx.Reasoning)
		}
		return models.ToolResult{ToolCallID: tc.CallID, Kind: models.ToolResultExecutionFailed, Message: approvalCtx.Reasoning}
	}

	chunks <- &ResponseChunk{Event: models.NewToolEvent(models.EventToolStarted, tc.ToolName, tc.CallID)}

	if l.isAsyncTool(tc.ToolName, resolver) && l.cfg.Tools.JobStore != nil {
		result := l.queueAsyncJob(tc)
		l.recordBreakerOutcome(approvalCtx.Action.BaseRisk, !result.IsError())
		return result
	}

	toolCtx := ctx
	var toolSpan trace.Span
	if l.tracer != nil {
		toolCtx, toolSpan = l.tracer.TraceToolExecution(ctx, tc.ToolName)
	}
	execResult := l.executor.Execute(toolCtx, tc)
	if toolSpan != nil {
		if execResult.Error != nil {
			l.tracer.RecordError(toolSpan, execResult.Error)
		}
		toolSpan.End()
	}
	success := execResult.Error == nil && (execResult.Result == nil || !execResult.Result.IsError)
	l.recordBreakerOutcome(approvalCtx.Action.BaseRisk, success)

	result := toModelsToolResult(execResult)
	result = guardToolResult(l.cfg.Tools.ToolResultGuard, tc.ToolName, result, resolver)

	if success && !result.IsError() {
		if l.mem.RecordFact(tc.ToolName, result.Payload) {
			l.rb.Register(tc.ToolName, tc.CallID, result.Payload)
		}
		chunks <- &ResponseChunk{Event: models.NewToolEvent(models.EventToolCompleted, tc.ToolName, tc.CallID)}
	} else {
		eventType := models.EventToolFailed
		if execResult.Error != nil {
			if toolErr, ok := GetToolError(execResult.Error); ok && toolErr.Type == ToolErrorTimeout {
				eventType = models.EventToolTimeout
			}
		}
		chunks <- &ResponseChunk{Event: models.NewToolEvent(eventType, tc.ToolName, tc.CallID).WithMessage(result.Message)}
	}

	return result
}

func (l *AgenticLoop) isAsyncTool(name string, resolver *policy.Resolver) bool {
	return matchesToolPatterns(l.cfg.Tools.AsyncTools, name, resolver)
}

func (l *AgenticLoop) queueAsyncJob(tc models.ToolCall) models.ToolResult {
	job := &jobs.Job{
		ID:         uuid.NewString(),
		ToolName:   tc.ToolName,
		ToolCallID: tc.CallID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}
	_ = l.cfg.Tools.JobStore.Create(context.Background(), job)

	payload, err := json.Marshal(map[string]any{"job_id": job.ID, "status": job.Status})
	if err != nil {
		return models.ToolResult{ToolCallID: tc.CallID, Kind: models.ToolResultExecutionFailed, Message: err.Error()}
	}

	if l.jobSem == nil {
		go l.runToolJob(tc, job)
	} else {
		select {
		case l.jobSem <- struct{}{}:
			go func() {
				defer func() { <-l.jobSem }()
				l.runToolJob(tc, job)
			}()
		default:
			go l.runToolJob(tc, job)
		}
	}

	out, n := models.TruncatePayload(string(payload))
	return models.ToolResult{ToolCallID: tc.CallID, Kind: models.ToolResultOK, Payload: out, ByteCount: n}
}

func (l *AgenticLoop) runToolJob(tc models.ToolCall, job *jobs.Job) {
	store := l.cfg.Tools.JobStore
	if job == nil || store == nil {
		return
	}
	ctx := context.Background()
	job.Status = jobs.StatusRunning
	job.StartedAt = time.Now()
	_ = store.Update(ctx, job)

	execResult := l.executor.Execute(ctx, tc)
	result := toModelsToolResult(execResult)
	job.FinishedAt = time.Now()
	if result.IsError() {
		job.Status = jobs.StatusFailed
		job.Error = result.Message
	} else {
		job.Status = jobs.StatusSucceeded
		job.Result = &result
	}
	_ = store.Update(ctx, job)

	l.guard.RecordOutcome(RiskOfJob(tc.ToolName, l.cfg.ToolRisk), !result.IsError())
}

// RiskOfJob resolves the risk level used to feed Guardian outcome tracking
// for a job that finished asynchronously, outside the Evaluate call that
// admitted it.
func RiskOfJob(toolName string, lookup guardian.ToolRiskLookup) guardian.RiskLevel {
	if lookup == nil {
		return guardian.RiskWrite
	}
	if r, ok := lookup(toolName); ok {
		return r
	}
	return guardian.RiskWrite
}

func toModelsToolResult(execResult *ExecutionResult) models.ToolResult {
	if execResult == nil {
		return models.ToolResult{Kind: models.ToolResultExecutionFailed, Message: "tool execution failed"}
	}
	if execResult.Error != nil {
		payload, n := models.TruncatePayload(execResult.Error.Error())
		kind := models.ToolResultExecutionFailed
		if toolErr, ok := GetToolError(execResult.Error); ok && toolErr.Type == ToolErrorTimeout {
			kind = models.ToolResultTimeout
		}
		return models.ToolResult{ToolCallID: execResult.ToolCallID, Kind: kind, Payload: payload, ByteCount: n, Message: execResult.Error.Error(), DurationMS: execResult.Duration.Milliseconds()}
	}
	if execResult.Result != nil {
		kind := models.ToolResultOK
		if execResult.Result.IsError {
			kind = models.ToolResultExecutionFailed
		}
		payload, n := models.TruncatePayload(execResult.Result.Content)
		return models.ToolResult{ToolCallID: execResult.ToolCallID, Kind: kind, Payload: payload, ByteCount: n, DurationMS: execResult.Duration.Milliseconds()}
	}
	return models.ToolResult{ToolCallID: execResult.ToolCallID, Kind: models.ToolResultExecutionFailed, Message: "tool returned no result"}
}

func toCompletionMessages(msgs []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		}
	}
	return out
}

func extractQuestion(arguments json.RawMessage) string {
	var payload struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(arguments, &payload); err == nil && payload.Question != "" {
		return payload.Question
	}
	return string(arguments)
}

// argsDigest abstracts a tool call's arguments into a short, stable digest
// so a recorded Correction never carries raw (possibly sensitive) payloads.
func argsDigest(arguments json.RawMessage) string {
	sum := sha256.Sum256(arguments)
	return hex.EncodeToString(sum[:])[:16]
}

func (l *AgenticLoop) nextIteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budget.Iteration++
	return l.budget.Iteration
}

func (l *AgenticLoop) currentIteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget.Iteration
}

func (l *AgenticLoop) accrueUsage(inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budget.TokensUsed += inputTokens + outputTokens
	l.budget.CostUSD += float64(inputTokens)*l.cfg.CostPerInputToken + float64(outputTokens)*l.cfg.CostPerOutputToken
}

// budgetSeverity compares the accumulated BudgetState against the
// configured caps and returns the most severe dimension's explanation.
func (l *AgenticLoop) budgetSeverity() (BudgetSeverity, string) {
	l.mu.Lock()
	b := l.budget
	l.mu.Unlock()

	type dim struct {
		name    string
		used    float64
		cap     float64
	}
	dims := []dim{
		{"iterations", float64(b.Iteration), float64(l.cfg.MaxIterations)},
		{"tokens", float64(b.TokensUsed), float64(l.cfg.MaxTokens)},
		{"cost_usd", b.CostUSD, l.cfg.MaxCostUSD},
		{"wall_time", time.Since(b.StartedAt).Seconds(), l.cfg.MaxWallTime.Seconds()},
	}

	worst := BudgetOK
	reason := ""
	for _, d := range dims {
		if d.cap <= 0 {
			continue
		}
		frac := d.used / d.cap
		if frac >= 1.0 {
			return BudgetExceeded, fmt.Sprintf("%s exceeded: %.0f/%.0f", d.name, d.used, d.cap)
		}
		if frac >= l.cfg.WarnAtFraction && worst == BudgetOK {
			worst = BudgetWarning
			reason = fmt.Sprintf("%s at %.0f%% of budget (%.0f/%.0f)", d.name, frac*100, d.used, d.cap)
		}
	}
	return worst, reason
}

// maybeDistill recomputes the Knowledge Distiller's rule set when enough new
// facts/corrections have accumulated since the last run (§4.6).
func (l *AgenticLoop) maybeDistill() {
	facts := l.mem.Facts()
	corrections := l.mem.Corrections()
	total := len(facts) + len(corrections)

	l.mu.Lock()
	lastRun := l.distilledAt
	l.mu.Unlock()

	if !l.distill.ShouldRecompute(total, lastRun) {
		return
	}

	rules := l.distill.Distill(facts, corrections)
	l.mem.SetKnowledgeAddendum(memory.Addendum(rules))

	l.mu.Lock()
	l.distilledAt = total
	l.mu.Unlock()
}
