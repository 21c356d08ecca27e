package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/pkg/models"
)

const anthropicMaxTokens = 4096

// AnthropicClient implements agent.LLMProvider for Claude models.
type AnthropicClient struct {
	client anthropic.Client
	apiKey string
	model  string
	base   baseClient
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies.
	BaseURL string

	// Model defaults to claude-3-5-haiku-latest.
	Model string

	// Timeout bounds one chat call. Defaults to 2 minutes.
	Timeout time.Duration

	MaxRetries int
	RetryDelay time.Duration
}

// NewAnthropicClient creates a client for the Anthropic API.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(options...),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		base:   newBaseClient("anthropic", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "anthropic".
func (c *AnthropicClient) Name() string { return "anthropic" }

// Model returns the configured model.
func (c *AnthropicClient) Model() string { return c.model }

// Available reports whether credentials are configured.
func (c *AnthropicClient) Available(_ context.Context) bool {
	return c.apiKey != ""
}

// Close releases nothing.
func (c *AnthropicClient) Close() error { return nil }

// Chat performs one non-streaming message call.
func (c *AnthropicClient) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    convertAnthropicMessages(req.Messages),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system := systemText(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, NewProviderError("anthropic", c.model, err)
		}
		params.Tools = tools
		params.ToolChoice = anthropicToolChoice(req.ToolChoice)
	}

	var msg *anthropic.Message
	err := c.base.retry(ctx, func() error {
		var callErr error
		msg, callErr = c.client.Messages.New(ctx, params)
		if callErr != nil {
			return c.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &agent.ChatResponse{
		Message:          models.Message{Role: models.RoleAssistant},
		StopReason:       normalizeAnthropicStop(msg.StopReason),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if out.Message.Content != "" {
				out.Message.Content += "\n"
			}
			out.Message.Content += variant.Text
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(variant.Input)
			if err != nil || len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

func (c *AnthropicClient) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", c.model, err).WithStatus(apiErr.StatusCode)
	}
	return NewProviderError("anthropic", c.model, err)
}

// systemText pulls the leading system message's text; Anthropic takes the
// system prompt outside the message array.
func systemText(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			return msg.Content
		}
	}
	return ""
}

// convertAnthropicMessages maps the session log to Anthropic's alternating
// user/assistant format. Tool messages become tool_result blocks inside a
// user message; a run of consecutive tool messages folds into one user
// message so every tool_use gets its result in the immediately following
// turn, as the API requires.
func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case models.RoleSystem:
			continue

		case models.RoleTool:
			var content []anthropic.ContentBlockParamUnion
			for ; i < len(messages) && messages[i].Role == models.RoleTool; i++ {
				tm := messages[i]
				content = append(content, anthropic.NewToolResultBlock(tm.ToolCallID, tm.Content, false))
			}
			i--
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextBlock(""))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result
}

func convertAnthropicTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema(), &schema); err != nil {
			return nil, err
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			continue
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

// anthropicToolChoice maps the neutral tool choice onto Anthropic's union;
// "required" is spelled "any" there.
func anthropicToolChoice(tc agent.ToolChoice) anthropic.ToolChoiceUnionParam {
	switch tc.Mode {
	case agent.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case agent.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case agent.ToolChoiceFunction:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: tc.Function}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

func normalizeAnthropicStop(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonToolUse:
		return agent.StopReasonToolCalls
	case anthropic.StopReasonMaxTokens:
		return agent.StopReasonLength
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return agent.StopReasonStop
	default:
		return string(reason)
	}
}
