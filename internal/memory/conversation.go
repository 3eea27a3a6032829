package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

// TierConfig configures the three-tier Memory Manager's working/short-term
// behavior (§4.2). The long-term tier's vector store is configured
// separately via Config and wired in at construction.
type TierConfig struct {
	// WorkingMaxChars bounds what is ever handed to the model in one call.
	WorkingMaxChars int
	// ShortTermMaxMessages bounds the sliding-window tier retained for
	// recall without a long-term search.
	ShortTermMaxMessages int
	// CompactAtFraction triggers compaction once the working tier reaches
	// this fraction of WorkingMaxChars.
	CompactAtFraction float64
}

// DefaultTierConfig returns sensible defaults.
func DefaultTierConfig() TierConfig {
	return TierConfig{
		WorkingMaxChars:      24000,
		ShortTermMaxMessages: 200,
		CompactAtFraction:    2.0,
	}
}

// factCharsMin/factCharsMax bound the fact-recording policy window (§4.2):
// shorter results are noise, longer ones are too bulky without curation.
const (
	factCharsMin = 10
	factCharsMax = 5000
)

const (
	factCap       = 10000
	correctionCap = 1000
)

// sectionBoundary marks the join between the static prompt, the persona
// addendum, and the knowledge addendum in the composed system prompt (§4.2
// invariant: "clearly marked section boundaries").
const sectionBoundary = "\n\n---\n\n"

// ConversationMemory implements the three-tier Memory Manager (§4.2):
// working tier (sent to the model each turn), short-term tier (sliding
// window of compacted history), and long-term tier (durable facts and
// corrections, optionally backed by a vector Manager for semantic search).
type ConversationMemory struct {
	mu sync.Mutex

	cfg TierConfig

	systemPrompt      string
	personaAddendum   string
	knowledgeAddendum string

	working   []models.Message
	shortTerm []models.Message
	pinned    map[uint64]bool
	nextSeq   uint64
	sessionID string

	facts       []models.Fact
	corrections []models.Correction

	longTerm *Manager // optional; nil disables search_long_term
}

// NewConversationMemory constructs a ConversationMemory whose working tier
// begins with the given system prompt, satisfying the invariant that the
// working tier is always non-empty and begins with the current system
// prompt. longTerm may be nil.
func NewConversationMemory(sessionID, systemPrompt string, cfg TierConfig, longTerm *Manager) *ConversationMemory {
	if cfg.WorkingMaxChars <= 0 {
		cfg = DefaultTierConfig()
	}
	cm := &ConversationMemory{
		cfg:          cfg,
		systemPrompt: systemPrompt,
		sessionID:    sessionID,
		pinned:       make(map[uint64]bool),
		longTerm:     longTerm,
	}
	return cm
}

// Append pushes a message to the working tier, assigning it the next
// strictly increasing sequence number, and returns the stored copy.
// SessionID returns the session this memory belongs to.
func (m *ConversationMemory) SessionID() string { return m.sessionID }

func (m *ConversationMemory) Append(msg models.Message) models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	msg.Sequence = m.nextSeq
	msg.SessionID = m.sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.working = append(m.working, msg)
	return msg
}

// SeedHistory repairs and appends a batch of externally-supplied messages
// to the working tier ahead of the first turn, for a host resuming a prior
// session_id. Each message is assigned a fresh sequence number in order;
// callers resuming a session should seed history before the first Append.
func (m *ConversationMemory) SeedHistory(history []models.Message) {
	repaired := repairTranscript(history)
	for _, msg := range repaired {
		m.Append(msg)
	}
}

// Pin marks the message with the given sequence number as pinned, so it
// survives every future compaction and appears in every snapshot.
func (m *ConversationMemory) Pin(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[seq] = true
	for i := range m.working {
		if m.working[i].Sequence == seq {
			m.working[i].Pinned = true
		}
	}
}

// Unpin removes the pin on the given sequence number.
func (m *ConversationMemory) Unpin(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pinned, seq)
	for i := range m.working {
		if m.working[i].Sequence == seq {
			m.working[i].Pinned = false
		}
	}
}

// SetPersonaAddendum sets the persona section of the composed system
// prompt.
func (m *ConversationMemory) SetPersonaAddendum(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personaAddendum = s
}

// SetKnowledgeAddendum sets the Knowledge Distiller's output (§4.6),
// concatenated into the system prompt on the next snapshot.
func (m *ConversationMemory) SetKnowledgeAddendum(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knowledgeAddendum = s
}

// composedSystemPrompt concatenates the static prompt, persona addendum,
// and knowledge addendum, separated by clearly marked section boundaries
// (§4.2 invariant). Caller must hold m.mu.
func (m *ConversationMemory) composedSystemPrompt() string {
	parts := []string{m.systemPrompt}
	if m.personaAddendum != "" {
		parts = append(parts, "# Persona\n"+m.personaAddendum)
	}
	if m.knowledgeAddendum != "" {
		parts = append(parts, "# Learned rules\n"+m.knowledgeAddendum)
	}
	return strings.Join(parts, sectionBoundary)
}

// SnapshotForModel returns the system prompt plus pinned messages plus the
// trailing working-tier messages up to the configured window. It is pure:
// two back-to-back calls with no intervening mutation return identical
// results (§4.2 invariant).
func (m *ConversationMemory) SnapshotForModel() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *ConversationMemory) snapshotLocked() []models.Message {
	system := models.Message{
		Role:    models.RoleSystem,
		Content: m.composedSystemPrompt(),
	}

	snapshot := make([]models.Message, 0, len(m.working)+1)
	snapshot = append(snapshot, system)

	seen := make(map[uint64]bool)
	budget := m.cfg.WorkingMaxChars
	used := 0

	// Pinned messages always appear, regardless of the trailing window.
	for _, msg := range m.working {
		if msg.Pinned {
			snapshot = append(snapshot, msg)
			seen[msg.Sequence] = true
			used += len(msg.Content)
		}
	}

	// Trailing window: walk backward from the end, keeping chronological
	// order in the final result, until the char budget is exhausted.
	var trailing []models.Message
	for i := len(m.working) - 1; i >= 0; i-- {
		msg := m.working[i]
		if seen[msg.Sequence] {
			continue
		}
		if budget > 0 && used+len(msg.Content) > budget && len(trailing) > 0 {
			break
		}
		trailing = append(trailing, msg)
		used += len(msg.Content)
	}
	for i := len(trailing) - 1; i >= 0; i-- {
		snapshot = append(snapshot, trailing[i])
	}

	sort.SliceStable(snapshot[1:], func(i, j int) bool {
		return snapshot[i+1].Sequence < snapshot[j+1].Sequence
	})

	return snapshot
}

// NeedsCompaction reports whether the working tier has crossed the
// configured compaction trigger.
func (m *ConversationMemory) NeedsCompaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsCompactionLocked()
}

func (m *ConversationMemory) needsCompactionLocked() bool {
	threshold := float64(m.cfg.WorkingMaxChars) * m.cfg.CompactAtFraction
	if threshold <= 0 {
		return false
	}
	return float64(m.workingCharsLocked()) > threshold
}

func (m *ConversationMemory) workingCharsLocked() int {
	total := 0
	for _, msg := range m.working {
		total += len(msg.Content)
	}
	return total
}

// Summarizer produces a high-quality summary of a working-tier region
// within a timeout; if it errors or is nil, Compact falls back to the
// structure-preserving template (§4.2).
type Summarizer func(ctx context.Context, region []models.Message) (string, error)

// Compact identifies the oldest contiguous non-pinned region of the working
// tier whose removal brings size under threshold, summarizes it, and moves
// it to the short-term tier. Pinned messages are never summarized or
// removed (§4.2).
func (m *ConversationMemory) Compact(ctx context.Context, summarize Summarizer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.needsCompactionLocked() {
		return nil
	}

	target := float64(m.cfg.WorkingMaxChars)
	regionEnd := 0
	runningChars := m.workingCharsLocked()

	for regionEnd < len(m.working) {
		if m.working[regionEnd].Pinned {
			break
		}
		runningChars -= len(m.working[regionEnd].Content)
		regionEnd++
		if float64(runningChars) <= target {
			break
		}
	}
	if regionEnd == 0 {
		return nil // nothing non-pinned to remove
	}

	region := append([]models.Message(nil), m.working[:regionEnd]...)

	summaryText, err := "", error(nil)
	if summarize != nil {
		summaryText, err = summarize(ctx, region)
	}
	if summarize == nil || err != nil || strings.TrimSpace(summaryText) == "" {
		summaryText = fallbackSummary(region)
	}

	m.nextSeq++
	summary := models.Message{
		SessionID: m.sessionID,
		Sequence:  m.nextSeq,
		Role:      models.RoleAssistant,
		Content:   summaryText,
		Summary:   true,
		CreatedAt: time.Now(),
	}

	m.shortTerm = append(m.shortTerm, region...)
	if m.cfg.ShortTermMaxMessages > 0 && len(m.shortTerm) > m.cfg.ShortTermMaxMessages {
		m.shortTerm = m.shortTerm[len(m.shortTerm)-m.cfg.ShortTermMaxMessages:]
	}

	remaining := append([]models.Message{summary}, m.working[regionEnd:]...)
	m.working = remaining
	return nil
}

// fallbackSummary builds the structure-preserving template (§4.2): the
// initiating user goal, the names of tools invoked, one-line previews of
// their results, and the most recent message in the region.
func fallbackSummary(region []models.Message) string {
	var goal string
	var tools []string
	var previews []string

	for _, msg := range region {
		if goal == "" && msg.Role == models.RoleUser && msg.Content != "" {
			goal = msg.Content
		}
		for _, tc := range msg.ToolCalls {
			tools = append(tools, tc.ToolName)
		}
		for _, tr := range msg.ToolResults {
			preview := tr.Payload
			if len(preview) > 200 {
				preview = preview[:200]
			}
			previews = append(previews, preview)
		}
	}

	var b strings.Builder
	b.WriteString("[compacted region summary]\n")
	if goal != "" {
		fmt.Fprintf(&b, "goal: %s\n", goal)
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, "tools invoked: %s\n", strings.Join(tools, ", "))
	}
	for i, p := range previews {
		fmt.Fprintf(&b, "result %d preview: %s\n", i+1, p)
	}
	if len(region) > 0 {
		last := region[len(region)-1]
		fmt.Fprintf(&b, "most recent message: [%s] %s\n", last.Role, last.Content)
	}
	return b.String()
}

// RecordFact records a Fact tagged with the tool name, applying the §4.2
// fact-recording policy window (payload length in [10, 5000] chars).
// Callers are responsible for redacting secrets before calling this (§9).
func (m *ConversationMemory) RecordFact(toolName, content string) bool {
	if len(content) < factCharsMin || len(content) > factCharsMax {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.facts = append(m.facts, models.Fact{
		SessionID: m.sessionID,
		ToolName:  toolName,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if len(m.facts) > factCap {
		m.facts = m.facts[len(m.facts)-factCap:]
	}
	return true
}

// RecordCorrection records a Correction referencing the attempted tool, an
// abstracted arguments digest, and the current task goal.
func (m *ConversationMemory) RecordCorrection(tool, argsDigest, goal, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.corrections = append(m.corrections, models.Correction{
		SessionID:  m.sessionID,
		ToolName:   tool,
		ArgsDigest: argsDigest,
		Goal:       goal,
		Reason:     reason,
		CreatedAt:  time.Now(),
	})
	if len(m.corrections) > correctionCap {
		m.corrections = m.corrections[len(m.corrections)-correctionCap:]
	}
}

// Facts returns a snapshot of recorded facts, for the Knowledge Distiller.
func (m *ConversationMemory) Facts() []models.Fact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Fact, len(m.facts))
	copy(out, m.facts)
	return out
}

// Corrections returns a snapshot of recorded corrections, for the
// Knowledge Distiller.
func (m *ConversationMemory) Corrections() []models.Correction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Correction, len(m.corrections))
	copy(out, m.corrections)
	return out
}

// SearchLongTerm performs hybrid keyword+vector retrieval over the
// long-term tier, backed by the sqlite-vec domain-stack store (§2.2, §4.2).
// Returns an empty result set if no backend was configured.
func (m *ConversationMemory) SearchLongTerm(ctx context.Context, query string, k int) ([]*models.SearchResult, error) {
	m.mu.Lock()
	longTerm := m.longTerm
	sessionID := m.sessionID
	m.mu.Unlock()

	if longTerm == nil {
		return keywordSearchFacts(m.Facts(), query, k), nil
	}

	resp, err := longTerm.Search(ctx, &models.SearchRequest{
		Query:   query,
		Scope:   models.ScopeSession,
		ScopeID: sessionID,
		Limit:   k,
	})
	if err != nil {
		return nil, fmt.Errorf("search_long_term: %w", err)
	}
	return resp.Results, nil
}

// keywordSearchFacts is the fallback keyword-only retrieval used when no
// vector backend is configured.
func keywordSearchFacts(facts []models.Fact, query string, k int) []*models.SearchResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []*models.SearchResult
	for _, f := range facts {
		if strings.Contains(strings.ToLower(f.Content), query) {
			out = append(out, &models.SearchResult{
				Entry: &models.MemoryEntry{
					ID:      f.ID,
					Content: f.Content,
				},
				Score: 1.0,
			})
		}
		if k > 0 && len(out) >= k {
			break
		}
	}
	return out
}
