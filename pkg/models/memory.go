// Package models defines the core data types for the agent runtime.
package models

import (
	"time"
)

// MemoryEntry represents a memory item stored in the vector database for semantic search.
type MemoryEntry struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	Content  string         `json:"content"`
	Metadata MemoryMetadata `json:"metadata"`

	Embedding []float32 `json:"-"` // Not serialized to JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryMetadata contains additional information about a memory entry.
type MemoryMetadata struct {
	Source string         `json:"source"` // "message", "document", "note"
	Role   string         `json:"role"`   // "user", "assistant"
	Tags   []string       `json:"tags"`
	Extra  map[string]any `json:"extra"`
}

// MemoryScope defines the scope for memory search/indexing.
type MemoryScope string

const (
	// ScopeSession limits memory to the current session.
	ScopeSession MemoryScope = "session"
	// ScopeChannel limits memory to the current channel.
	ScopeChannel MemoryScope = "channel"
	// ScopeAgent limits memory to the current agent.
	ScopeAgent MemoryScope = "agent"
	// ScopeGlobal searches all memories.
	ScopeGlobal MemoryScope = "global"
	// ScopeAll searches across every scope, ignoring ScopeID.
	ScopeAll MemoryScope = "all"
)

// Fact is a durable long-term-tier entry recorded after a successful tool
// invocation whose payload length falls within the fact-recording policy
// window (§4.2). Tagged by the tool that produced it.
type Fact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ToolName  string    `json:"tool_name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Correction is a durable long-term-tier entry recorded after a tool call is
// denied (§4.4, §4.5). ArgsDigest is an abstracted summary of the attempted
// arguments, never the raw arguments, so secrets cannot leak through it.
type Correction struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ToolName   string    `json:"tool_name"`
	ArgsDigest string    `json:"args_digest"`
	Goal       string    `json:"goal"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchRequest defines parameters for semantic memory search.
type SearchRequest struct {
	Query     string         `json:"query"`
	Scope     MemoryScope    `json:"scope"`
	ScopeID   string         `json:"scope_id"`
	Limit     int            `json:"limit"`
	Threshold float32        `json:"threshold"` // Min similarity (0-1)
	Filters   map[string]any `json:"filters"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Entry      *MemoryEntry `json:"entry"`
	Score      float32      `json:"score"`      // Similarity score (0-1)
	Highlights []string     `json:"highlights"` // Matched snippets
}

// SearchResponse contains the results of a memory search.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	QueryTime  time.Duration   `json:"query_time"`
}
