package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/pkg/models"
)

// OpenAIClient implements agent.LLMProvider against any OpenAI-compatible
// chat completions API. The stock construction targets api.openai.com;
// NewXAIClient points the same transport at x.ai, which speaks the same
// wire shape.
type OpenAIClient struct {
	client *openai.Client
	name   string
	apiKey string
	model  string
	base   baseClient
}

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint for compatible backends.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout bounds one chat call. Defaults to 2 minutes; local diagnostic
	// conversations tolerate slow turns better than dropped ones.
	Timeout time.Duration

	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	return newOpenAICompatible("openai", "gpt-4o-mini", cfg)
}

// NewXAIClient creates a client for xAI's OpenAI-compatible API.
func NewXAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai/v1"
	}
	return newOpenAICompatible("xai", "grok-2-latest", cfg)
}

func newOpenAICompatible(name, defaultModel string, cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(name + ": API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		name:   name,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		base:   newBaseClient(name, cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the backend identifier.
func (c *OpenAIClient) Name() string { return c.name }

// Model returns the configured model.
func (c *OpenAIClient) Model() string { return c.model }

// Available reports whether credentials are configured. Reachability is the
// router's concern; probing the API here would spend quota on every routing
// decision.
func (c *OpenAIClient) Available(_ context.Context) bool {
	return c.apiKey != ""
}

// Close releases nothing; the underlying client holds no persistent state.
func (c *OpenAIClient) Close() error { return nil }

// Chat performs one non-streaming chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
		chatReq.ToolChoice = openaiToolChoice(req.ToolChoice)
	}

	var resp openai.ChatCompletionResponse
	err := c.base.retry(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return c.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(c.name, c.model, errors.New("empty choices in response"))
	}

	choice := resp.Choices[0]
	out := &agent.ChatResponse{
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: choice.Message.Content,
		},
		StopReason:       normalizeOpenAIFinish(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.Message.ToolCalls = append(out.Message.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewProviderError(c.name, c.model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			pe = pe.WithCode(code)
		}
		return pe
	}
	return NewProviderError(c.name, c.model, err)
}

func convertOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Content: msg.Content,
		}
		switch msg.Role {
		case models.RoleSystem:
			oaiMsg.Role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			oaiMsg.Role = openai.ChatMessageRoleAssistant
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case models.RoleTool:
			oaiMsg.Role = openai.ChatMessageRoleTool
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.ToolName
		default:
			oaiMsg.Role = openai.ChatMessageRoleUser
		}
		result = append(result, oaiMsg)
	}
	return result
}

func convertOpenAITools(defs []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema(),
			},
		}
	}
	return result
}

func openaiToolChoice(tc agent.ToolChoice) any {
	switch tc.Mode {
	case agent.ToolChoiceRequired:
		return "required"
	case agent.ToolChoiceNone:
		return "none"
	case agent.ToolChoiceFunction:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tc.Function},
		}
	default:
		return "auto"
	}
}

func normalizeOpenAIFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls:
		return agent.StopReasonToolCalls
	case openai.FinishReasonLength:
		return agent.StopReasonLength
	case openai.FinishReasonStop:
		return agent.StopReasonStop
	default:
		return string(reason)
	}
}
