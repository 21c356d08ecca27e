package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/pkg/models"
)

// OllamaClient implements agent.LLMProvider against a local Ollama-style
// sidecar. It is the terminal fallback: Available probes the actual HTTP
// endpoint instead of checking credentials.
type OllamaClient struct {
	baseURL     string
	model       string
	httpClient  *http.Client
	probeClient *http.Client
	base        baseClient
}

// OllamaConfig configures the sidecar client.
type OllamaConfig struct {
	// BaseURL defaults to http://127.0.0.1:11434.
	BaseURL string

	// Model defaults to llama3.2.
	Model string

	// Timeout bounds one chat call. Local inference is slow on modest
	// hardware, so the default is 5 minutes.
	Timeout time.Duration

	MaxRetries int
	RetryDelay time.Duration
}

// NewOllamaClient creates a client for the local sidecar.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &OllamaClient{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		probeClient: &http.Client{Timeout: 2 * time.Second},
		base:        newBaseClient("ollama", cfg.MaxRetries, cfg.RetryDelay),
	}
}

// Name returns "ollama".
func (c *OllamaClient) Name() string { return "ollama" }

// Model returns the configured model.
func (c *OllamaClient) Model() string { return c.model }

// Available probes the list-models endpoint. Any 2xx counts as healthy.
func (c *OllamaClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Close releases nothing; the supervised process is owned elsewhere.
func (c *OllamaClient) Close() error { return nil }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaToolSpec `json:"function"`
}

type ollamaToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// Chat performs one non-streaming chat call against POST /api/chat.
//
// The sidecar does not honor a tool_choice field: "required" and named
// function choices are emulated by appending a directive to the last user
// message, and "none" by withholding the tool list entirely.
func (c *OllamaClient) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: convertOllamaMessages(req.Messages),
		Stream:   false,
		Options:  &ollamaOptions{Temperature: float64(req.Temperature)},
	}
	if len(req.Tools) > 0 && req.ToolChoice.Mode != agent.ToolChoiceNone {
		payload.Tools = convertOllamaTools(req.Tools)
		if directive := toolChoiceDirective(req.ToolChoice); directive != "" {
			appendToLastUserMessage(payload.Messages, directive)
		}
	}

	var out *agent.ChatResponse
	err := c.base.retry(ctx, func() error {
		resp, callErr := c.send(ctx, payload)
		if callErr != nil {
			return callErr
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OllamaClient) send(ctx context.Context, payload ollamaChatRequest) (*agent.ChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", c.model, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", c.model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", c.model, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewProviderError("ollama", c.model, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, NewProviderError("ollama", c.model,
			fmt.Errorf("chat failed: %s", strings.TrimSpace(string(data)))).
			WithStatus(httpResp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return nil, NewProviderError("ollama", c.model, fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != "" {
		return nil, NewProviderError("ollama", c.model, fmt.Errorf("chat failed: %s", chatResp.Error))
	}

	out := &agent.ChatResponse{
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: chatResp.Message.Content,
		},
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}
	for i, tc := range chatResp.Message.ToolCalls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil || len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%s_%d", tc.Function.Name, i)
		}
		out.Message.ToolCalls = append(out.Message.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	switch {
	case len(out.Message.ToolCalls) > 0:
		out.StopReason = agent.StopReasonToolCalls
	case chatResp.DoneReason == "length":
		out.StopReason = agent.StopReasonLength
	default:
		out.StopReason = agent.StopReasonStop
	}
	return out, nil
}

// convertOllamaMessages maps the session log onto the sidecar wire format.
// Tool-call arguments travel as objects, not JSON-encoded strings.
func convertOllamaMessages(messages []models.Message) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == models.RoleTool {
			om.ToolCallID = msg.ToolCallID
			om.ToolName = msg.ToolName
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = map[string]any{}
			}
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ollamaToolFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		result = append(result, om)
	}
	return result
}

func convertOllamaTools(defs []models.ToolDefinition) []ollamaTool {
	result := make([]ollamaTool, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if err := json.Unmarshal(def.Schema(), &params); err != nil {
			continue
		}
		result = append(result, ollamaTool{
			Type: "function",
			Function: ollamaToolSpec{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func toolChoiceDirective(tc agent.ToolChoice) string {
	switch tc.Mode {
	case agent.ToolChoiceRequired:
		return "You must respond with a tool call, not plain text."
	case agent.ToolChoiceFunction:
		return fmt.Sprintf("You must respond with a call to the %q tool, not plain text.", tc.Function)
	default:
		return ""
	}
}

func appendToLastUserMessage(messages []ollamaMessage, directive string) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(models.RoleUser) {
			messages[i].Content = strings.TrimSpace(messages[i].Content + "\n\n" + directive)
			return
		}
	}
}
