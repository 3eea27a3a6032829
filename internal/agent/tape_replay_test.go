package agent

import (
	"context"
	"testing"

	"github.com/agentcore/runtime/internal/agent/tape"
)

// TestAgenticLoop_ReplaysFromTape drives a full run_task against a recorded
// tape instead of a scripted mock, proving a session can be captured once
// against a real provider and replayed deterministically afterward.
func TestAgenticLoop_ReplaysFromTape(t *testing.T) {
	recorded := tape.NewTape()
	recorded.Model = "replay"
	recorded.AddTurn(tape.Turn{
		Chunks: []CompletionChunk{
			{Text: "hello there"},
			{Done: true},
		},
	})

	replayer := tape.NewReplayer(recorded)
	loop := newTestLoop(t, replayer, nil, nil)

	chunks := drain(t, loop.Run(context.Background(), "say hi"))

	term := terminalEvent(chunks)
	if term == nil || term.Type != "task_completed" {
		t.Fatalf("expected task_completed, got %+v", term)
	}
	if term.Message != "hello there" {
		t.Errorf("answer = %q, want %q", term.Message, "hello there")
	}
	if got := replayer.CurrentTurn(); got != 1 {
		t.Errorf("replayer consumed %d turns, want 1", got)
	}
}
