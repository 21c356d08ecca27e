package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netmedic/netmedic/internal/observability"
	"github.com/netmedic/netmedic/internal/store"
	"github.com/netmedic/netmedic/pkg/api"
	"github.com/netmedic/netmedic/pkg/models"
)

// SystemPromptName is the prompt loaded into every new session's first
// message.
const SystemPromptName = "system"

// Pagination bounds for the session list.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// fallbackSystemPrompt covers a missing prompt source so a session never
// starts without instructions.
const fallbackSystemPrompt = "You are a network diagnostics assistant. " +
	"Use the available tools to observe the machine before answering, " +
	"explain findings plainly, and suggest concrete next steps."

// providerDownReply is the user-facing text for a turn no provider could
// serve.
const providerDownReply = "I couldn't reach a language model to answer. " +
	"Check your network connection or API keys, or start the local model, " +
	"and try again."

// PromptSource loads named prompt texts. *prompts.Loader implements it.
type PromptSource interface {
	Prompt(name string) (string, error)
}

// Assistant is the session-facing surface of the diagnostic core: chat
// turns, the session list and detail, feedback, direct tool execution,
// and analytics access. Outer shells (CLI, desktop webview bridge) call
// it and stay free of loop and store mechanics.
type Assistant struct {
	loop     *Loop
	registry ToolExecutor
	recorder SessionRecorder
	store    store.Store
	locks    *store.SessionLockManager
	prompts  PromptSource
	logger   *observability.Logger

	lockTimeout time.Duration
	promptName  string
}

// AssistantConfig wires the assistant. Loop, Registry, Recorder, and
// Store are required; the rest default.
type AssistantConfig struct {
	Loop     *Loop
	Registry ToolExecutor
	Recorder SessionRecorder
	Store    store.Store
	Locks    *store.SessionLockManager
	Prompts  PromptSource
	Logger   *observability.Logger

	// LockTimeout bounds how long a turn waits for a busy session.
	LockTimeout time.Duration

	// PromptName overrides SystemPromptName.
	PromptName string
}

// NewAssistant creates an Assistant from cfg.
func NewAssistant(cfg AssistantConfig) *Assistant {
	a := &Assistant{
		loop:        cfg.Loop,
		registry:    cfg.Registry,
		recorder:    cfg.Recorder,
		store:       cfg.Store,
		locks:       cfg.Locks,
		prompts:     cfg.Prompts,
		logger:      cfg.Logger,
		lockTimeout: cfg.LockTimeout,
		promptName:  cfg.PromptName,
	}
	if a.locks == nil {
		a.locks = store.NewSessionLockManager(0)
	}
	if a.logger == nil {
		a.logger = observability.NewLogger(observability.LogConfig{})
	}
	if a.lockTimeout <= 0 {
		a.lockTimeout = store.DefaultLockTimeout
	}
	if a.promptName == "" {
		a.promptName = SystemPromptName
	}
	return a
}

// Chat runs one user message through the tool loop inside the session's
// critical section and shapes the response envelope.
//
// A blank conversation id starts a new session; an unknown one creates a
// session under that id so client-generated conversation ids keep
// working. A turn that no provider could serve yields a plain error
// reply rather than an error: the session survives and the user can
// retry.
func (a *Assistant) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, errors.New("message is required")
	}
	sessionID := req.ConversationID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx = observability.AddSessionID(ctx, sessionID)

	release, err := a.locks.Acquire(ctx, sessionID, "chat", a.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	session, history, err := a.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result, err := a.loop.Run(ctx, session, history, text)
	if err != nil {
		if ctx.Err() != nil {
			// The caller cancelled mid-turn. Whatever completed is
			// already persisted; the session must not stay in progress.
			endCtx := context.WithoutCancel(ctx)
			if endErr := a.recorder.End(endCtx, sessionID, models.OutcomeAbandoned); endErr != nil {
				a.logger.Warn(endCtx, "abandon on cancel failed", "session_id", sessionID, "error", endErr)
			}
			return nil, ctx.Err()
		}
		a.logger.Error(ctx, "chat turn unserved", "session_id", sessionID, "error", err)
		return &api.ChatResponse{
			Response:       providerDownReply,
			ConversationID: sessionID,
			SessionID:      sessionID,
			Diagnostics: api.Diagnostics{
				Thoughts:  []string{},
				ToolsUsed: []api.ToolUse{},
			},
		}, nil
	}
	return chatEnvelope(sessionID, result), nil
}

// openSession loads the session and its message log, creating both the
// session and its system message when the id is new.
func (a *Assistant) openSession(ctx context.Context, sessionID string) (*models.Session, []models.Message, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		history, err := a.store.GetMessages(ctx, sessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("load history: %w", err)
		}
		if session.Outcome == models.OutcomeInProgress {
			if err := a.recorder.Begin(ctx, session); err != nil {
				a.logger.Warn(ctx, "session not persisted", "session_id", sessionID, "error", err)
			}
		}
		return session, history, nil

	case errors.Is(err, store.ErrNotFound):
		session = models.NewSession(sessionID)
		if err := a.recorder.Begin(ctx, session); err != nil {
			a.logger.Warn(ctx, "session not persisted", "session_id", sessionID, "error", err)
		}
		system := &models.Message{
			SessionID: sessionID,
			Role:      models.RoleSystem,
			Content:   a.systemPrompt(ctx),
		}
		if err := a.recorder.AddMessage(ctx, system); err != nil {
			a.logger.Warn(ctx, "system message not persisted", "session_id", sessionID, "error", err)
		}
		return session, []models.Message{*system}, nil

	default:
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
}

func (a *Assistant) systemPrompt(ctx context.Context) string {
	if a.prompts == nil {
		return fallbackSystemPrompt
	}
	text, err := a.prompts.Prompt(a.promptName)
	if err != nil || strings.TrimSpace(text) == "" {
		a.logger.Warn(ctx, "prompt unavailable, using fallback", "prompt", a.promptName, "error", err)
		return fallbackSystemPrompt
	}
	return text
}

func chatEnvelope(sessionID string, result *TurnResult) *api.ChatResponse {
	resp := &api.ChatResponse{
		Response:       result.Reply,
		ConversationID: sessionID,
		SessionID:      sessionID,
		Diagnostics: api.Diagnostics{
			ConfidenceScore: result.Confidence,
			Thoughts:        append([]string{}, result.Thoughts...),
			ToolsUsed:       make([]api.ToolUse, 0, len(result.ToolRuns)),
		},
	}
	for _, run := range result.ToolRuns {
		resp.ToolCalls = append(resp.ToolCalls, api.ToolCallResult{
			Name:       run.Name,
			Arguments:  run.Arguments,
			Result:     run.Result,
			Success:    run.Success,
			DurationMS: run.Duration.Milliseconds(),
		})
		resp.Diagnostics.ToolsUsed = append(resp.Diagnostics.ToolsUsed, api.ToolUse{
			Name:       run.Name,
			Success:    run.Success,
			DurationMS: run.Duration.Milliseconds(),
		})
	}
	return resp
}

// ListSessions returns one page of the session list, newest first.
func (a *Assistant) ListSessions(ctx context.Context, page, pageSize int) (*api.SessionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	total, err := a.store.CountSessions(ctx, store.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	sessions, err := a.store.ListSessions(ctx, store.ListOptions{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	result := &api.SessionPage{
		Items:    make([]api.SessionSummary, 0, len(sessions)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  page*pageSize < total,
	}
	for _, session := range sessions {
		item := api.SessionSummary{
			ID:           session.ID,
			StartedAt:    api.FormatTime(session.StartedAt),
			Outcome:      string(session.Outcome),
			Preview:      session.Preview,
			MessageCount: session.MessageCount,
		}
		if session.IssueCategory != models.CategoryUnknown {
			item.IssueCategory = string(session.IssueCategory)
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// GetSession returns the full session with its ordered trail.
func (a *Assistant) GetSession(ctx context.Context, sessionID string) (*api.SessionDetail, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := a.store.GetEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	toolEvents, err := a.store.GetToolEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load tool events: %w", err)
	}
	detail := &api.SessionDetail{
		Session:    *session,
		Events:     events,
		ToolEvents: toolEvents,
	}
	feedback, err := a.store.GetFeedback(ctx, sessionID)
	switch {
	case err == nil:
		detail.Feedback = feedback
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	return detail, nil
}

// EndSession closes a session with a terminal outcome. Ending an ended
// session changes nothing.
func (a *Assistant) EndSession(ctx context.Context, sessionID string, outcome models.Outcome) error {
	if !outcome.Terminal() {
		return fmt.Errorf("outcome %q is not terminal", outcome)
	}
	release, err := a.locks.Acquire(ctx, sessionID, "end", a.lockTimeout)
	if err != nil {
		return err
	}
	defer release()
	return a.recorder.End(ctx, sessionID, outcome)
}

// DeleteSession removes a session and everything recorded under it. An
// in-progress session is closed first so live tracking stays consistent.
func (a *Assistant) DeleteSession(ctx context.Context, sessionID string) error {
	release, err := a.locks.Acquire(ctx, sessionID, "delete", a.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Ended() {
		if err := a.recorder.End(ctx, sessionID, models.OutcomeAbandoned); err != nil {
			a.logger.Warn(ctx, "session not closed before delete", "session_id", sessionID, "error", err)
		}
	}
	return a.store.DeleteSession(ctx, sessionID)
}

// SubmitFeedback stores a 1..5 score for the session, replacing any
// prior feedback, and mirrors it onto the session row.
func (a *Assistant) SubmitFeedback(ctx context.Context, req api.FeedbackRequest) (*api.FeedbackResponse, error) {
	feedback := &models.Feedback{
		SessionID: req.SessionID,
		Score:     req.Score,
		Comment:   req.Comment,
		Source:    req.Source,
	}
	if !feedback.ValidScore() {
		return nil, fmt.Errorf("feedback score %d out of range 1..5", req.Score)
	}
	if req.SessionID == "" {
		return nil, errors.New("session_id is required")
	}

	release, err := a.locks.Acquire(ctx, req.SessionID, "feedback", a.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.store.SaveFeedback(ctx, feedback); err != nil {
		return nil, err
	}
	err = a.recorder.Update(ctx, req.SessionID, func(session *models.Session) {
		session.FeedbackScore = req.Score
		session.FeedbackComment = req.Comment
	})
	if err != nil {
		a.logger.Warn(ctx, "feedback not mirrored onto session", "session_id", req.SessionID, "error", err)
	}
	return &api.FeedbackResponse{
		FeedbackID: feedback.ID,
		SessionID:  feedback.SessionID,
		Score:      feedback.Score,
	}, nil
}

// Tools lists the registered tools in the external definition form.
func (a *Assistant) Tools() []api.ToolDefinition {
	defs := a.registry.Definitions()
	out := make([]api.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		external := api.ToolDefinition{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Description: def.Description,
			Category:    string(def.Category),
			OSILayer:    def.OSILayer,
			Parameters:  make([]api.ToolParameter, 0, len(def.Parameters)),
		}
		for _, p := range def.Parameters {
			external.Parameters = append(external.Parameters, api.ToolParameter{
				Name:        p.Name,
				Type:        string(p.Type),
				Description: p.Description,
				Required:    p.Required,
				Default:     p.Default,
			})
		}
		out = append(out, external)
	}
	return out
}

// ExecuteTool runs one tool directly, outside any session. The result is
// the parsed object when the tool produced JSON, otherwise the raw
// string.
func (a *Assistant) ExecuteTool(ctx context.Context, name string, args map[string]any) (*api.ToolExecution, error) {
	if _, ok := a.registry.Get(name); !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	call := models.ToolCall{ID: uuid.NewString(), Name: name, Arguments: raw}

	start := time.Now()
	res := a.registry.Execute(ctx, call)
	elapsed := time.Since(start)

	execution := &api.ToolExecution{
		ToolCallID: res.ToolCallID,
		Name:       name,
		Result:     res.Content,
		DurationMS: elapsed.Milliseconds(),
	}
	var parsed any
	if json.Unmarshal([]byte(res.Content), &parsed) == nil {
		execution.Result = parsed
	}
	if !res.Success {
		execution.Error = failureText(parsed, res.Content)
	}
	return execution, nil
}

// failureText pulls the most specific error text out of a failed result.
func failureText(parsed any, content string) string {
	if obj, ok := parsed.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return msg
		}
	}
	return content
}

// Analytics exposes the aggregate query surface for stats consumers.
func (a *Assistant) Analytics() store.Analytics {
	return a.store
}
