package agent

import (
	"context"

	"github.com/netmedic/netmedic/pkg/models"
)

// LLMProvider is the capability interface every chat backend implements.
//
// Implementations exist for the cloud providers (OpenAI, Anthropic, Google,
// xAI) and for the locally supervised Ollama sidecar. A provider is a plain
// request/response transport: it converts the session message log and the
// provider-neutral tool definitions into its wire format, performs one chat
// call, and maps the reply back. Provider-specific behavior, such as the
// sidecar's tool_choice emulation, lives inside the implementation, never in
// the router.
//
// Implementations must be safe for concurrent use; the router may serve
// several sessions through one client.
type LLMProvider interface {
	// Chat performs a single non-streaming completion. The response carries
	// one assistant message with optional tool calls, a stop reason, and
	// token counts when the backend reports them. Errors should be
	// *providers.ProviderError so the router can classify them.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Available reports whether the provider can be selected right now.
	// Cloud providers answer from configuration (credentials present);
	// the sidecar probes its health endpoint. Available must be cheap
	// enough to call on every routing decision.
	Available(ctx context.Context) bool

	// Name returns the stable lowercase backend identifier used in
	// routing, events, and metrics ("openai", "anthropic", "google",
	// "xai", "ollama").
	Name() string

	// Model returns the concrete model the provider will use.
	Model() string

	// Close releases any held connections. Safe to call more than once.
	Close() error
}

// ToolChoiceMode constrains whether the model may, must, or must not call
// tools on a given turn.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice is the per-call tool forcing instruction. Function names a
// specific tool when Mode is ToolChoiceFunction.
type ToolChoice struct {
	Mode     ToolChoiceMode
	Function string
}

// ChatRequest is one LLM call: the full ordered message log, the tool
// definitions the model may use, and sampling controls.
type ChatRequest struct {
	Messages    []models.Message
	Tools       []models.ToolDefinition
	Temperature float32
	ToolChoice  ToolChoice
}

// Stop reasons normalized across providers.
const (
	StopReasonStop      = "stop"
	StopReasonToolCalls = "tool_calls"
	StopReasonLength    = "length"
)

// ChatResponse is the provider's reply to a ChatRequest.
type ChatResponse struct {
	// Message is the assistant message: content and, when the model wants
	// tools run, the ordered tool calls.
	Message models.Message

	// StopReason is one of the StopReason constants, or the provider's raw
	// value when it does not map.
	StopReason string

	// Token counts as reported by the provider; zero when unreported.
	PromptTokens     int
	CompletionTokens int
}

// HasToolCalls reports whether the model asked for tool executions.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}
