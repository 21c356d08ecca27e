package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/pkg/models"
)

// GoogleClient implements agent.LLMProvider for Gemini models.
type GoogleClient struct {
	client *genai.Client
	apiKey string
	model  string
	base   baseClient
}

// GoogleConfig configures the Gemini client.
type GoogleConfig struct {
	// APIKey is required.
	APIKey string

	// Model defaults to gemini-2.0-flash.
	Model string

	MaxRetries int
	RetryDelay time.Duration
}

// NewGoogleClient creates a client for the Gemini API.
func NewGoogleClient(cfg GoogleConfig) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleClient{
		client: client,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		base:   newBaseClient("google", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "google".
func (c *GoogleClient) Name() string { return "google" }

// Model returns the configured model.
func (c *GoogleClient) Model() string { return c.model }

// Available reports whether credentials are configured.
func (c *GoogleClient) Available(_ context.Context) bool {
	return c.apiKey != ""
}

// Close releases nothing.
func (c *GoogleClient) Close() error { return nil }

// Chat performs one non-streaming generate call.
func (c *GoogleClient) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	contents := convertGoogleMessages(req.Messages)
	config := c.buildConfig(req)

	var resp *genai.GenerateContentResponse
	err := c.base.retry(ctx, func() error {
		var callErr error
		resp, callErr = c.client.Models.GenerateContent(ctx, c.model, contents, config)
		if callErr != nil {
			return c.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewProviderError("google", c.model, errors.New("empty response: no candidates"))
	}

	out := &agent.ChatResponse{
		Message: models.Message{Role: models.RoleAssistant},
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	candidate := resp.Candidates[0]
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			if out.Message.Content != "" {
				out.Message.Content += "\n"
			}
			out.Message.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, models.ToolCall{
				ID:        googleToolCallID(part.FunctionCall.Name),
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}

	// Gemini reports STOP even when it emitted function calls.
	switch {
	case len(out.Message.ToolCalls) > 0:
		out.StopReason = agent.StopReasonToolCalls
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = agent.StopReasonLength
	default:
		out.StopReason = agent.StopReasonStop
	}
	return out, nil
}

func (c *GoogleClient) buildConfig(req *agent.ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if system := systemText(req.Messages); system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGoogleTools(req.Tools)
		config.ToolConfig = googleToolConfig(req.ToolChoice)
	}
	return config
}

// wrapError classifies by message text; the SDK does not expose a typed
// status error for every failure path.
func (c *GoogleClient) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", c.model, err)
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403"), strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404"), strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}
	return providerErr
}

// convertGoogleMessages maps the session log to Gemini contents. System
// messages are skipped here and carried as the system instruction; tool
// results ride on the user side as function response parts.
func convertGoogleMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolName,
					Response: response,
				},
			})
		} else if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func convertGoogleTools(defs []models.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Schema(), &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  googleSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// googleSchema converts a JSON Schema map to Gemini's Schema type.
func googleSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = googleSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = googleSchema(items)
	}
	return schema
}

func googleToolConfig(tc agent.ToolChoice) *genai.ToolConfig {
	fc := &genai.FunctionCallingConfig{}
	switch tc.Mode {
	case agent.ToolChoiceRequired:
		fc.Mode = genai.FunctionCallingConfigModeAny
	case agent.ToolChoiceNone:
		fc.Mode = genai.FunctionCallingConfigModeNone
	case agent.ToolChoiceFunction:
		fc.Mode = genai.FunctionCallingConfigModeAny
		fc.AllowedFunctionNames = []string{tc.Function}
	default:
		fc.Mode = genai.FunctionCallingConfigModeAuto
	}
	return &genai.ToolConfig{FunctionCallingConfig: fc}
}

// googleToolCallID synthesizes a call ID; Gemini function calls do not
// carry one but the session log format requires it.
func googleToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}
