package agent

import (
	"context"
	"fmt"

	"github.com/agentcore/runtime/internal/compaction"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/pkg/models"
)

// ChunkedSummarizerConfig controls how NewChunkedSummarizer splits and
// merges large compaction regions before handing them to the model.
type ChunkedSummarizerConfig struct {
	// Model is the model identifier used for summarization requests.
	Model string

	// ContextWindow is the summarization model's context window, used to
	// size chunks. Falls back to compaction.DefaultContextWindow if zero.
	ContextWindow int

	// Parts is the number of parallel partitions attempted for very long
	// regions before falling back to simple chunking.
	Parts int

	// Instructions are appended to the summarization prompt.
	Instructions string
}

// NewChunkedSummarizer adapts internal/compaction's multi-stage, token-budget
// aware summarization (chunk, summarize each chunk, merge) into a
// memory.Summarizer backed by provider. Large compacted regions are split by
// token share rather than sent to the model as a single oversized prompt
// (§4.2's summarization step does not itself require chunking, but nothing
// bounds how large a compacted region can get before one is needed).
func NewChunkedSummarizer(provider LLMProvider, cfg ChunkedSummarizerConfig) memory.Summarizer {
	scfg := compaction.DefaultSummarizationConfig()
	scfg.Model = cfg.Model
	scfg.CustomInstructions = cfg.Instructions
	if cfg.ContextWindow > 0 {
		scfg.ContextWindow = cfg.ContextWindow
	}
	if cfg.Parts > 0 {
		scfg.Parts = cfg.Parts
	}

	summarizer := &providerSummarizer{provider: provider, model: cfg.Model}

	return func(ctx context.Context, region []models.Message) (string, error) {
		msgs := toCompactionMessages(region)
		return compaction.SummarizeInStages(ctx, msgs, summarizer, scfg)
	}
}

// providerSummarizer implements compaction.Summarizer by issuing a single
// completion request per chunk through an LLMProvider.
type providerSummarizer struct {
	provider LLMProvider
	model    string
}

func (s *providerSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	prompt := compaction.FormatMessagesForSummary(messages)
	instructions := "Summarize the conversation below, preserving goals, tool usage, and any durable facts or corrections. Be concise."
	if cfg != nil && cfg.CustomInstructions != "" {
		instructions = cfg.CustomInstructions
	}

	req := &CompletionRequest{
		Model:  s.model,
		System: instructions,
		Messages: []CompletionMessage{
			{Role: "user", Content: prompt},
		},
	}

	respChunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chunk summarization request: %w", err)
	}

	var summary string
	for c := range respChunks {
		if c.Error != nil {
			return "", fmt.Errorf("chunk summarization stream: %w", c.Error)
		}
		summary += c.Text
	}
	if summary == "" {
		return compaction.DefaultSummaryFallback, nil
	}
	return summary, nil
}

// toCompactionMessages converts models.Message (the memory tier's shape)
// into compaction.Message (a transport-agnostic shape with serialized
// tool call/result fields for token estimation).
func toCompactionMessages(region []models.Message) []*compaction.Message {
	out := make([]*compaction.Message, 0, len(region))
	for _, m := range region {
		cm := &compaction.Message{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt.Unix(),
		}
		if len(m.ToolCalls) > 0 {
			cm.ToolCalls = fmt.Sprintf("%d tool call(s)", len(m.ToolCalls))
		}
		if len(m.ToolResults) > 0 {
			cm.ToolResults = fmt.Sprintf("%d tool result(s)", len(m.ToolResults))
		}
		out = append(out, cm)
	}
	return out
}
