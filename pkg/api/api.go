// Package api defines the envelope types the diagnostic core exposes to
// outer surfaces (desktop shell, CLI, any future HTTP layer). These are
// wire shapes, not domain types; pkg/models holds the domain.
package api

import (
	"time"

	"github.com/netmedic/netmedic/pkg/models"
)

// ChatRequest carries one user message into the assistant. A blank
// ConversationID starts a new conversation; a known one continues it.
// Conversation IDs and session IDs are the same value.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ToolCallResult is one executed tool call as shown to the caller.
type ToolCallResult struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Result     string         `json:"result"`
	Success    bool           `json:"success"`
	DurationMS int64          `json:"duration_ms"`
}

// ToolUse is the compact per-tool entry inside Diagnostics.
type ToolUse struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Diagnostics is advisory turn metadata. ConfidenceScore is in [0,1]
// and never gates behavior.
type Diagnostics struct {
	ConfidenceScore float64   `json:"confidence_score"`
	Thoughts        []string  `json:"thoughts"`
	ToolsUsed       []ToolUse `json:"tools_used"`
}

// ChatResponse is the assistant's reply to one ChatRequest.
type ChatResponse struct {
	Response       string           `json:"response"`
	ToolCalls      []ToolCallResult `json:"tool_calls,omitempty"`
	ConversationID string           `json:"conversation_id"`
	SessionID      string           `json:"session_id"`
	Diagnostics    Diagnostics      `json:"diagnostics"`
}

// SessionSummary is one session-list item.
type SessionSummary struct {
	ID            string `json:"id"`
	StartedAt     string `json:"started_at"` // ISO-8601 UTC
	Outcome       string `json:"outcome"`
	IssueCategory string `json:"issue_category,omitempty"`
	Preview       string `json:"preview"`
	MessageCount  int    `json:"message_count"`
}

// SessionPage is a paginated slice of the session list.
type SessionPage struct {
	Items    []SessionSummary `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	HasMore  bool             `json:"has_more"`
}

// SessionDetail is the full session plus its ordered trail.
type SessionDetail struct {
	Session    models.Session     `json:"session"`
	Events     []models.Event     `json:"events"`
	ToolEvents []models.ToolEvent `json:"tool_events"`
	Feedback   *models.Feedback   `json:"feedback,omitempty"`
}

// FeedbackRequest submits a 1..5 score for a session. Resubmitting
// replaces the prior feedback for that session.
type FeedbackRequest struct {
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
	Source    string `json:"source,omitempty"`
}

// FeedbackResponse acknowledges a stored feedback record.
type FeedbackResponse struct {
	FeedbackID string `json:"feedback_id"`
	SessionID  string `json:"session_id"`
	Score      int    `json:"score"`
}

// ToolParameter is one parameter in the external tool definition form.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolDefinition is the provider-neutral tool form exposed for UI.
type ToolDefinition struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	OSILayer    int             `json:"osiLayer"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ToolExecution is the result envelope of a direct tool run. Result is
// the parsed object when the tool produced JSON, otherwise the raw
// string.
type ToolExecution struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Result     any    `json:"result"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration"`
}

// FormatTime renders a timestamp the way every envelope does: ISO-8601
// in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
