package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

func TestConversationMemory_SnapshotBeginsWithSystemPrompt(t *testing.T) {
	cm := NewConversationMemory("s1", "you are helpful", DefaultTierConfig(), nil)
	snap := cm.SnapshotForModel()
	if len(snap) != 1 {
		t.Fatalf("got %d messages, want 1 (system only)", len(snap))
	}
	if snap[0].Role != models.RoleSystem || snap[0].Content != "you are helpful" {
		t.Errorf("snapshot[0] = %+v", snap[0])
	}
}

func TestConversationMemory_SnapshotIsPure(t *testing.T) {
	cm := NewConversationMemory("s1", "system", DefaultTierConfig(), nil)
	cm.Append(models.Message{Role: models.RoleUser, Content: "hello"})

	a := cm.SnapshotForModel()
	b := cm.SnapshotForModel()

	if len(a) != len(b) {
		t.Fatalf("snapshot lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Content != b[i].Content || a[i].Sequence != b[i].Sequence {
			t.Errorf("snapshot[%d] differs between calls: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestConversationMemory_AppendAssignsIncreasingSequence(t *testing.T) {
	cm := NewConversationMemory("s1", "system", DefaultTierConfig(), nil)
	m1 := cm.Append(models.Message{Role: models.RoleUser, Content: "one"})
	m2 := cm.Append(models.Message{Role: models.RoleUser, Content: "two"})
	if m2.Sequence <= m1.Sequence {
		t.Errorf("sequence did not increase: %d then %d", m1.Sequence, m2.Sequence)
	}
}

func TestConversationMemory_PinnedMessageSurvivesTrailingWindow(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 10, ShortTermMaxMessages: 50, CompactAtFraction: 10}
	cm := NewConversationMemory("s1", "system", cfg, nil)

	first := cm.Append(models.Message{Role: models.RoleUser, Content: "important context to keep"})
	cm.Pin(first.Sequence)

	for i := 0; i < 5; i++ {
		cm.Append(models.Message{Role: models.RoleUser, Content: "filler filler filler filler"})
	}

	snap := cm.SnapshotForModel()
	var found bool
	for _, msg := range snap {
		if msg.Sequence == first.Sequence {
			found = true
		}
	}
	if !found {
		t.Error("pinned message must appear in every snapshot regardless of the trailing char budget")
	}
}

func TestConversationMemory_UnpinRemovesGuarantee(t *testing.T) {
	cm := NewConversationMemory("s1", "system", DefaultTierConfig(), nil)
	m := cm.Append(models.Message{Role: models.RoleUser, Content: "x"})
	cm.Pin(m.Sequence)
	cm.Unpin(m.Sequence)

	cm.mu.Lock()
	pinned := cm.working[0].Pinned
	cm.mu.Unlock()
	if pinned {
		t.Error("Unpin should clear the Pinned flag on the stored message")
	}
}

func TestConversationMemory_SystemPromptComposesAddendums(t *testing.T) {
	cm := NewConversationMemory("s1", "base prompt", DefaultTierConfig(), nil)
	cm.SetPersonaAddendum("be concise")
	cm.SetKnowledgeAddendum("1. always confirm before deleting")

	snap := cm.SnapshotForModel()
	content := snap[0].Content
	if !containsAll(content, "base prompt", "# Persona", "be concise", "# Learned rules", "always confirm before deleting") {
		t.Errorf("composed system prompt missing expected sections: %q", content)
	}
}

func TestConversationMemory_NeedsCompactionTriggersAtThreshold(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 10, ShortTermMaxMessages: 50, CompactAtFraction: 1.5}
	cm := NewConversationMemory("s1", "", cfg, nil)
	if cm.NeedsCompaction() {
		t.Fatal("empty working tier should not need compaction")
	}
	cm.Append(models.Message{Role: models.RoleUser, Content: "this content is longer than fifteen chars"})
	if !cm.NeedsCompaction() {
		t.Fatal("expected compaction to be needed once threshold is crossed")
	}
}

func TestConversationMemory_CompactMovesRegionToShortTermAndSummarizes(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 20, ShortTermMaxMessages: 50, CompactAtFraction: 1.0}
	cm := NewConversationMemory("s1", "system", cfg, nil)

	cm.Append(models.Message{Role: models.RoleUser, Content: "do the thing please"})
	cm.Append(models.Message{Role: models.RoleAssistant, Content: "working on it now, one moment"})
	cm.Append(models.Message{Role: models.RoleUser, Content: "final"})

	if err := cm.Compact(context.Background(), nil); err != nil {
		t.Fatalf("Compact returned error: %v", err)
	}

	cm.mu.Lock()
	shortTermLen := len(cm.shortTerm)
	workingLen := len(cm.working)
	firstIsSummary := workingLen > 0 && cm.working[0].Summary
	cm.mu.Unlock()

	if shortTermLen == 0 {
		t.Error("expected some messages moved into the short-term tier")
	}
	if !firstIsSummary {
		t.Error("expected the working tier to begin with a summary message after compaction")
	}
}

func TestConversationMemory_CompactNeverRemovesPinnedMessages(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 5, ShortTermMaxMessages: 50, CompactAtFraction: 1.0}
	cm := NewConversationMemory("s1", "", cfg, nil)

	first := cm.Append(models.Message{Role: models.RoleUser, Content: "pinned content here"})
	cm.Pin(first.Sequence)

	if err := cm.Compact(context.Background(), nil); err != nil {
		t.Fatalf("Compact returned error: %v", err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if len(cm.shortTerm) != 0 {
		t.Error("the only message is pinned; compaction must not move it to short-term")
	}
}

func TestConversationMemory_CompactUsesSummarizerWhenProvided(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 10, ShortTermMaxMessages: 50, CompactAtFraction: 1.0}
	cm := NewConversationMemory("s1", "", cfg, nil)
	cm.Append(models.Message{Role: models.RoleUser, Content: "some long content to compact away"})

	called := false
	summarizer := func(ctx context.Context, region []models.Message) (string, error) {
		called = true
		return "custom summary", nil
	}
	if err := cm.Compact(context.Background(), summarizer); err != nil {
		t.Fatalf("Compact returned error: %v", err)
	}
	if !called {
		t.Fatal("expected the provided summarizer to be invoked")
	}

	cm.mu.Lock()
	content := cm.working[0].Content
	cm.mu.Unlock()
	if content != "custom summary" {
		t.Errorf("working[0].Content = %q, want custom summary", content)
	}
}

func TestConversationMemory_CompactFallsBackOnSummarizerError(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 10, ShortTermMaxMessages: 50, CompactAtFraction: 1.0}
	cm := NewConversationMemory("s1", "", cfg, nil)
	cm.Append(models.Message{Role: models.RoleUser, Content: "goal: ship the feature end to end"})

	failing := func(ctx context.Context, region []models.Message) (string, error) {
		return "", errors.New("summarizer unavailable")
	}
	if err := cm.Compact(context.Background(), failing); err != nil {
		t.Fatalf("Compact returned error: %v", err)
	}

	cm.mu.Lock()
	content := cm.working[0].Content
	cm.mu.Unlock()
	if !containsAll(content, "[compacted region summary]", "goal:") {
		t.Errorf("expected the fallback template, got %q", content)
	}
}

func TestConversationMemory_RecordFactAppliesLengthPolicy(t *testing.T) {
	cm := NewConversationMemory("s1", "", DefaultTierConfig(), nil)

	if cm.RecordFact("tool", "short") {
		t.Error("content shorter than factCharsMin should not be recorded")
	}
	if !cm.RecordFact("tool", "this is a long enough fact to be recorded verbatim") {
		t.Error("content within the valid length window should be recorded")
	}

	tooLong := make([]byte, factCharsMax+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	if cm.RecordFact("tool", string(tooLong)) {
		t.Error("content longer than factCharsMax should not be recorded")
	}

	facts := cm.Facts()
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
}

func TestConversationMemory_RecordCorrection(t *testing.T) {
	cm := NewConversationMemory("s1", "", DefaultTierConfig(), nil)
	cm.RecordCorrection("delete_file", "abc123", "clean up temp files", "path matched a deny-list pattern")

	corrections := cm.Corrections()
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	c := corrections[0]
	if c.ToolName != "delete_file" || c.ArgsDigest != "abc123" || c.Goal != "clean up temp files" {
		t.Errorf("correction = %+v", c)
	}
}

func TestConversationMemory_SearchLongTermFallsBackToKeywordSearch(t *testing.T) {
	cm := NewConversationMemory("s1", "", DefaultTierConfig(), nil)
	cm.RecordFact("web_fetch", "the capital of france is paris, a fact worth keeping")

	results, err := cm.SearchLongTerm(context.Background(), "paris", 5)
	if err != nil {
		t.Fatalf("SearchLongTerm returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestConversationMemory_SearchLongTermEmptyQueryReturnsNothing(t *testing.T) {
	cm := NewConversationMemory("s1", "", DefaultTierConfig(), nil)
	cm.RecordFact("tool", "some fact that is long enough to be recorded here")

	results, err := cm.SearchLongTerm(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("SearchLongTerm returned error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for an empty query, want 0", len(results))
	}
}

func TestConversationMemory_TrailingWindowRespectsCharBudget(t *testing.T) {
	cfg := TierConfig{WorkingMaxChars: 15, ShortTermMaxMessages: 50, CompactAtFraction: 100}
	cm := NewConversationMemory("s1", "", cfg, nil)

	cm.Append(models.Message{Role: models.RoleUser, Content: "aaaaaaaaaaaaaaaaaaaa"})
	time.Sleep(time.Millisecond)
	cm.Append(models.Message{Role: models.RoleUser, Content: "bbb"})

	snap := cm.SnapshotForModel()
	// system message + at least the most recent trailing message.
	if len(snap) < 2 {
		t.Fatalf("got %d messages, want at least system + 1", len(snap))
	}
	last := snap[len(snap)-1]
	if last.Content != "bbb" {
		t.Errorf("most recent message = %q, want bbb", last.Content)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strContains(haystack, n) {
			return false
		}
	}
	return true
}

func strContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return len(needle) == 0
}
