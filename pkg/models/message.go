package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session's conversation log. Messages are
// immutable once stored and totally ordered by insertion.
type Message struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // role=assistant only

	// ToolCallID and ToolName are set on role=tool messages and echo the
	// assistant tool call they answer.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is an LLM request to run a named tool with JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsMap decodes the call arguments into a map. Malformed or empty
// argument payloads yield an empty map, never an error; the registry's
// schema validation is the place where bad arguments are reported.
func (c ToolCall) ArgumentsMap() map[string]any {
	args := map[string]any{}
	if len(c.Arguments) > 0 {
		_ = json.Unmarshal(c.Arguments, &args)
	}
	return args
}

// ToolResult is what a tool execution hands back to the model. ToolCallID
// always echoes the originating call, including for unknown tools.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
}
