package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/guardian"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/pkg/models"
)

// loopTestProvider allows control over LLM responses for loop testing. Each
// call to Complete consumes the next entry in responses, in order.
type loopTestProvider struct {
	responses   [][]CompletionChunk
	currentCall int32
}

func (p *loopTestProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	call := int(atomic.AddInt32(&p.currentCall, 1)) - 1
	ch := make(chan *CompletionChunk, 10)

	go func() {
		defer close(ch)
		if call >= len(p.responses) {
			ch <- &CompletionChunk{Text: "no more scripted responses", Done: true}
			return
		}
		for _, chunk := range p.responses[call] {
			select {
			case ch <- &chunk:
			case <-ctx.Done():
				ch <- &CompletionChunk{Error: ctx.Err()}
				return
			}
		}
	}()

	return ch, nil
}

func (p *loopTestProvider) Name() string        { return "loop-test" }
func (p *loopTestProvider) Models() []Model     { return nil }
func (p *loopTestProvider) SupportsTools() bool { return true }

// echoTool returns its input arguments back as the result payload.
type echoTool struct{ toolName string }

func (t *echoTool) Name() string            { return t.toolName }
func (t *echoTool) Description() string     { return "echoes its input" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: string(params)}, nil
}

// failingTool always returns an error.
type failingTool struct{ toolName string }

func (t *failingTool) Name() string            { return t.toolName }
func (t *failingTool) Description() string     { return "always fails" }
func (t *failingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *failingTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return nil, errors.New("boom")
}

func yoloLoopConfig() *LoopConfig {
	cfg := DefaultLoopConfig()
	cfg.Guardian.Mode = guardian.ModeYolo
	cfg.Guardian.InitialTrust = guardian.TrustSelectiveAutonomy
	cfg.MaxIterations = 10
	return cfg
}

func newTestLoop(t *testing.T, provider LLMProvider, registry *ToolRegistry, cfg *LoopConfig) *AgenticLoop {
	t.Helper()
	if registry == nil {
		registry = NewToolRegistry()
	}
	if cfg == nil {
		cfg = yoloLoopConfig()
	}
	return NewAgenticLoop(provider, registry, "session-1", "you are a test agent", cfg, nil)
}

func drain(t *testing.T, ch <-chan *ResponseChunk) []*ResponseChunk {
	t.Helper()
	var out []*ResponseChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatal("timed out draining loop output")
		}
	}
}

func terminalEvent(chunks []*ResponseChunk) *models.RuntimeEvent {
	for _, c := range chunks {
		if c.Event == nil {
			continue
		}
		switch c.Event.Type {
		case "task_completed", "task_halted", "task_aborted":
			return c.Event
		}
	}
	return nil
}

func TestAgenticLoop_TextAnswerTerminatesTurn(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "hello there"}, {Done: true}},
		},
	}
	loop := newTestLoop(t, provider, nil, nil)

	chunks := drain(t, loop.Run(context.Background(), "say hi"))

	term := terminalEvent(chunks)
	if term == nil || term.Type != "task_completed" {
		t.Fatalf("expected task_completed, got %+v", term)
	}
	if term.Message != "hello there" {
		t.Errorf("answer = %q, want %q", term.Message, "hello there")
	}
}

func TestAgenticLoop_SingleToolCallDispatches(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&echoTool{toolName: "echo"})

	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{CallID: "call-1", ToolName: "echo", Arguments: json.RawMessage(`{"x":1}`)}},
				{Done: true},
			},
			{{Text: "done"}, {Done: true}},
		},
	}

	loop := newTestLoop(t, provider, registry, nil)
	chunks := drain(t, loop.Run(context.Background(), "echo something"))

	var sawCompleted bool
	for _, c := range chunks {
		if c.Event != nil && c.Event.Type == models.EventToolCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("expected a tool_completed event")
	}

	term := terminalEvent(chunks)
	if term == nil || term.Type != "task_completed" {
		t.Fatalf("expected task_completed, got %+v", term)
	}

	facts := loop.Memory().Facts()
	if len(facts) == 0 {
		t.Error("expected a fact recorded for the successful echo result")
	}
}

func TestAgenticLoop_ToolErrorRecordsNoFact(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&failingTool{toolName: "boom"})

	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{CallID: "call-1", ToolName: "boom", Arguments: json.RawMessage(`{}`)}},
				{Done: true},
			},
			{{Text: "recovered"}, {Done: true}},
		},
	}

	loop := newTestLoop(t, provider, registry, nil)
	chunks := drain(t, loop.Run(context.Background(), "try the broken tool"))

	var sawFailed bool
	for _, c := range chunks {
		if c.Event != nil && c.Event.Type == models.EventToolFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("expected a tool_failed event")
	}
	if len(loop.Memory().Facts()) != 0 {
		t.Error("a failing tool call must not record a fact")
	}
}

func TestAgenticLoop_DeniedToolRecordsCorrection(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&echoTool{toolName: "delete_everything"})

	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{CallID: "call-1", ToolName: "delete_everything", Arguments: json.RawMessage(`{"path":"/"}`)}},
				{Done: true},
			},
			{{Text: "ok, stopping"}, {Done: true}},
		},
	}

	cfg := DefaultLoopConfig()
	cfg.Guardian.DenyList.Paths = []string{"/"}
	cfg.MaxIterations = 10

	loop := newTestLoop(t, provider, registry, cfg)
	chunks := drain(t, loop.Run(context.Background(), "delete everything"))

	var sawDenied bool
	for _, c := range chunks {
		if c.Event != nil && c.Event.Type == models.EventApprovalDecision && c.Event.Message == string(guardian.DecisionDenied) {
			sawDenied = true
		}
	}
	if !sawDenied {
		t.Error("expected an approval_decision event carrying denied")
	}

	corrections := loop.Memory().Corrections()
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].ToolName != "delete_everything" {
		t.Errorf("correction tool = %q, want delete_everything", corrections[0].ToolName)
	}
}

func TestAgenticLoop_AskUserBypassesGuardian(t *testing.T) {
	registry := NewToolRegistry()

	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{
				{ToolCall: &models.ToolCall{CallID: "call-1", ToolName: models.AskUserToolName, Arguments: json.RawMessage(`{"question":"proceed?"}`)}},
				{Done: true},
			},
			{{Text: "thanks"}, {Done: true}},
		},
	}

	cfg := DefaultLoopConfig()
	cfg.Guardian.Mode = guardian.ModeParanoid // would deny every real tool
	cfg.MaxIterations = 10
	cfg.AskUser = func(ctx context.Context, question string) (string, error) {
		if question != "proceed?" {
			t.Errorf("question = %q, want %q", question, "proceed?")
		}
		return "yes", nil
	}

	loop := newTestLoop(t, provider, registry, cfg)
	chunks := drain(t, loop.Run(context.Background(), "ask before acting"))

	var sawClarification bool
	for _, c := range chunks {
		if c.Event != nil && c.Event.Type == models.EventClarificationRequested {
			sawClarification = true
		}
		if c.Event != nil && c.Event.Type == models.EventApprovalDecision {
			t.Error("ask_user must never reach the Guardian")
		}
	}
	if !sawClarification {
		t.Error("expected a clarification_requested event")
	}
}

func TestAgenticLoop_MaxIterationsHalts(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&echoTool{toolName: "echo"})

	// Always propose another tool call, never a text answer.
	var responses [][]CompletionChunk
	for i := 0; i < 10; i++ {
		responses = append(responses, []CompletionChunk{
			{ToolCall: &models.ToolCall{CallID: "call", ToolName: "echo", Arguments: json.RawMessage(`{}`)}},
			{Done: true},
		})
	}
	provider := &loopTestProvider{responses: responses}

	cfg := yoloLoopConfig()
	cfg.MaxIterations = 3

	loop := newTestLoop(t, provider, registry, cfg)
	chunks := drain(t, loop.Run(context.Background(), "loop forever"))

	term := terminalEvent(chunks)
	if term == nil || term.Type != "task_halted" {
		t.Fatalf("expected task_halted, got %+v", term)
	}
}

func TestAgenticLoop_ContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &loopTestProvider{
		responses: [][]CompletionChunk{{{Text: "should not be reached"}, {Done: true}}},
	}
	loop := newTestLoop(t, provider, nil, nil)

	chunks := drain(t, loop.Run(ctx, "goal"))
	term := terminalEvent(chunks)
	if term == nil || term.Type != "task_aborted" {
		t.Fatalf("expected task_aborted, got %+v", term)
	}
}

func TestAgenticLoop_ProviderErrorHalts(t *testing.T) {
	provider := &loopTestProvider{}
	loop := newTestLoop(t, provider, nil, nil)

	// Force a provider-level error by cancelling mid-stream via a 0-length
	// response list combined with an already-cancelled context on the first
	// call path exercised through Complete's ctx.Done() branch.
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	chunks := drain(t, loop.Run(ctx, "goal"))
	term := terminalEvent(chunks)
	if term == nil {
		t.Fatal("expected a terminal event")
	}
	if term.Type != "task_aborted" && term.Type != "task_halted" {
		t.Errorf("expected task_aborted or task_halted, got %s", term.Type)
	}
}

func TestAgenticLoop_RunTask(t *testing.T) {
	provider := &loopTestProvider{
		responses: [][]CompletionChunk{
			{{Text: "the answer"}, {Done: true}},
		},
	}
	loop := newTestLoop(t, provider, nil, nil)

	outcome := loop.RunTask(context.Background(), "what is the answer")
	if outcome.Status != TaskCompleted {
		t.Fatalf("status = %s, want completed", outcome.Status)
	}
	if outcome.Answer != "the answer" {
		t.Errorf("answer = %q, want %q", outcome.Answer, "the answer")
	}
}

func TestAgenticLoop_BudgetWarningAndExceeded(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&echoTool{toolName: "echo"})

	var responses [][]CompletionChunk
	for i := 0; i < 5; i++ {
		responses = append(responses, []CompletionChunk{
			{ToolCall: &models.ToolCall{CallID: "call", ToolName: "echo", Arguments: json.RawMessage(`{}`)}},
			{Done: true, InputTokens: 10, OutputTokens: 10},
		})
	}
	provider := &loopTestProvider{responses: responses}

	cfg := yoloLoopConfig()
	cfg.MaxIterations = 5
	cfg.MaxTokens = 40 // 20 tokens/iteration; warn at 80% = 32, exceed at 40
	cfg.WarnAtFraction = 0.8
	cfg.HaltOnExceed = true

	loop := newTestLoop(t, provider, registry, cfg)
	chunks := drain(t, loop.Run(context.Background(), "spend tokens"))

	var sawWarning, sawExceeded bool
	for _, c := range chunks {
		if c.Event == nil {
			continue
		}
		switch c.Event.Type {
		case models.EventBudgetWarning:
			sawWarning = true
		case models.EventBudgetExceeded:
			sawExceeded = true
		}
	}
	if !sawWarning {
		t.Error("expected a budget_warning event")
	}
	if !sawExceeded {
		t.Error("expected a budget_exceeded event")
	}

	term := terminalEvent(chunks)
	if term == nil || term.Type != "task_halted" {
		t.Fatalf("expected task_halted once the cost budget is exceeded, got %+v", term)
	}
}

func TestAgenticLoop_KnowledgeAddendumAppliedAfterDistillation(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&echoTool{toolName: "echo"})

	var responses [][]CompletionChunk
	for i := 0; i < 4; i++ {
		responses = append(responses, []CompletionChunk{
			{ToolCall: &models.ToolCall{CallID: "call", ToolName: "echo", Arguments: json.RawMessage(`{"ok":true}`)}},
			{Done: true},
		})
	}
	responses = append(responses, []CompletionChunk{{Text: "done"}, {Done: true}})
	provider := &loopTestProvider{responses: responses}

	cfg := yoloLoopConfig()
	cfg.MaxIterations = 10
	cfg.Knowledge = memory.DistillerConfig{MaxRules: 5, MinEntries: 2, RecomputeEvery: 2}

	loop := newTestLoop(t, provider, registry, cfg)
	drain(t, loop.Run(context.Background(), "repeat the echo tool"))

	snapshot := loop.Memory().SnapshotForModel()
	if snapshot[0].Role != models.RoleSystem {
		t.Fatal("snapshot must begin with the system message")
	}
	if !contains(snapshot[0].Content, "Learned rules") {
		t.Error("expected the knowledge addendum to be concatenated into the system prompt after enough facts accumulated")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
