package models

import (
	"time"
	"unicode/utf8"
)

// EventType classifies session events.
type EventType string

const (
	EventLLMCall          EventType = "llm-call"
	EventToolCall         EventType = "tool-call"
	EventUserMessage      EventType = "user-message"
	EventAssistantMessage EventType = "assistant-message"
	EventFallback         EventType = "fallback"
	EventError            EventType = "error"
)

// Event is an append-only record of something that happened in a session.
// Event timestamps are informational; the message log is the ordering
// source of truth.
type Event struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	Type             EventType      `json:"type"`
	DurationMS       int64          `json:"duration_ms,omitempty"`
	PromptTokens     int            `json:"prompt_tokens,omitempty"`
	CompletionTokens int            `json:"completion_tokens,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ToolEvent is an append-only record of one tool dispatch.
//
// IsRepeated and ConsecutiveCount are derived by the recorder against its
// running last-tool state for the session: IsRepeated is true when the
// previous tool event in the same session named the same tool, and
// ConsecutiveCount is the run length ending at this event.
type ToolEvent struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	ToolName         string         `json:"tool_name"`
	DurationMS       int64          `json:"duration_ms"`
	Success          bool           `json:"success"`
	Error            string         `json:"error,omitempty"`
	IsRepeated       bool           `json:"is_repeated"`
	ConsecutiveCount int            `json:"consecutive_count"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	ResultSummary    string         `json:"result_summary,omitempty"` // truncated to 200 chars
	CreatedAt        time.Time      `json:"created_at"`
}

// ResultSummaryLimit caps ToolEvent.ResultSummary length.
const ResultSummaryLimit = 200

// TruncateSummary shortens s to ResultSummaryLimit characters without
// splitting a rune.
func TruncateSummary(s string) string {
	if utf8.RuneCountInString(s) <= ResultSummaryLimit {
		return s
	}
	return string([]rune(s)[:ResultSummaryLimit])
}
