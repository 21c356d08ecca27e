// Package agent contains the diagnostic conversation engine: the provider
// router, the bounded tool loop, and the session-facing assistant service.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/netmedic/netmedic/internal/observability"
	"github.com/netmedic/netmedic/pkg/models"
)

const (
	// MaxToolIterations bounds how many times one user message may send
	// the model back for more tool calls. After the budget is spent the
	// loop makes one final call with tools disabled, so a single turn
	// performs at most MaxToolIterations+1 LLM calls.
	MaxToolIterations = 7

	// LoopTemperature is the sampling temperature for diagnostic turns.
	// Low but nonzero: deterministic enough to be reproducible, warm
	// enough to phrase findings naturally.
	LoopTemperature float32 = 0.3
)

// SessionRecorder is the write side of session analytics as the loop and
// the assistant service consume it. *analytics.Recorder implements it.
type SessionRecorder interface {
	Recorder

	// Begin registers a session and persists its initial row.
	Begin(ctx context.Context, session *models.Session) error

	// Update applies fn to the session and persists the result.
	Update(ctx context.Context, sessionID string, fn func(*models.Session)) error

	// AddMessage appends one message to the session log.
	AddMessage(ctx context.Context, msg *models.Message) error

	// RecordError notes a non-fatal turn failure on the session trail.
	RecordError(ctx context.Context, sessionID, message string)

	// End closes the session with the given outcome.
	End(ctx context.Context, sessionID string, outcome models.Outcome) error

	// ToolPath returns the ordered tool names the session has run so far.
	ToolPath(sessionID string) []string
}

// ChatRouter is the loop's view of provider selection. *Router implements it.
type ChatRouter interface {
	Chat(ctx context.Context, sessionID string, req *ChatRequest) (*ChatResponse, error)
	Active() (provider, model string)
}

// ToolExecutor is the loop's view of the tool registry. *tools.Registry
// implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, call models.ToolCall) *models.ToolResult
	Definitions() []models.ToolDefinition
	Get(name string) (models.ToolDefinition, bool)
}

// ToolRun is one executed tool call as surfaced to the chat caller.
type ToolRun struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result"`
	Success   bool           `json:"success"`
	Duration  time.Duration  `json:"-"`
}

// TurnResult is the outcome of running one user message through the loop.
type TurnResult struct {
	// Reply is the assistant's final text for this turn.
	Reply string

	// Confidence scores the turn from its tool outcomes, in [0,1].
	Confidence float64

	// Thoughts are the intermediate assistant texts produced alongside
	// tool calls, in order.
	Thoughts []string

	// ToolRuns are the executed calls in execution order.
	ToolRuns []ToolRun

	// LLMCalls counts provider round trips made for this turn.
	LLMCalls int
}

// Loop drives one user message through the model until the model answers
// in plain text or the iteration budget runs out.
//
// The first call forces a tool choice so every diagnostic turn grounds
// itself in at least one observation; later calls let the model decide.
// Tool results are appended to the message log as role=tool messages in
// call order, so the log alone reconstructs the conversation the model
// saw. When the budget is spent a final call with tools disabled makes
// the model summarize what it found.
type Loop struct {
	router   ChatRouter
	registry ToolExecutor
	recorder SessionRecorder
	logger   *observability.Logger
	tracer   *observability.Tracer

	maxIterations int
	temperature   float32
}

// LoopConfig wires the loop's collaborators. Router, Registry, and
// Recorder are required; the rest default.
type LoopConfig struct {
	Router   ChatRouter
	Registry ToolExecutor
	Recorder SessionRecorder
	Logger   *observability.Logger
	Tracer   *observability.Tracer

	// MaxIterations overrides MaxToolIterations when positive.
	MaxIterations int

	// Temperature overrides LoopTemperature when positive.
	Temperature float32
}

// NewLoop creates a Loop from cfg.
func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		router:        cfg.Router,
		registry:      cfg.Registry,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		tracer:        cfg.Tracer,
		maxIterations: cfg.MaxIterations,
		temperature:   cfg.Temperature,
	}
	if l.logger == nil {
		l.logger = observability.NewLogger(observability.LogConfig{})
	}
	if l.tracer == nil {
		l.tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	if l.maxIterations <= 0 {
		l.maxIterations = MaxToolIterations
	}
	if l.temperature <= 0 {
		l.temperature = LoopTemperature
	}
	return l
}

// Run processes one user message for the session. history is the stored
// message log up to but not including userText; Run persists the user
// message, every assistant and tool message it produces, and the session
// diagnostics (OSI layers, issue category) as tools execute.
//
// A provider failure aborts the turn with an error after recording it on
// the session trail; messages persisted up to that point are kept. Tool
// failures never abort: the error text goes back to the model as the
// tool result and the loop continues.
func (l *Loop) Run(ctx context.Context, session *models.Session, history []models.Message, userText string) (*TurnResult, error) {
	if session == nil || session.ID == "" {
		return nil, errors.New("session is required")
	}
	ctx = observability.AddSessionID(ctx, session.ID)
	ctx, span := l.tracer.TraceChatTurn(ctx, session.ID)
	defer span.End()

	userMsg := &models.Message{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   userText,
	}
	l.persistMessage(ctx, userMsg)

	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, *userMsg)

	defs := l.registry.Definitions()
	result := &TurnResult{}
	successes, total := 0, 0

	for i := 0; i < l.maxIterations; i++ {
		choice := ToolChoice{Mode: ToolChoiceAuto}
		if i == 0 {
			choice.Mode = ToolChoiceRequired
		}

		resp, err := l.chat(ctx, session.ID, messages, defs, choice, result)
		if err != nil {
			l.failTurn(ctx, span, session.ID, err)
			return nil, fmt.Errorf("llm call: %w", err)
		}

		assistant := resp.Message
		assistant.SessionID = session.ID
		l.persistMessage(ctx, &assistant)
		messages = append(messages, assistant)

		if !resp.HasToolCalls() {
			result.Reply = assistant.Content
			l.finishTurn(span, result, successes, total)
			return result, nil
		}

		if assistant.Content != "" {
			result.Thoughts = append(result.Thoughts, assistant.Content)
		}

		layers := make(map[int]struct{})
		for _, call := range assistant.ToolCalls {
			run, toolMsg := l.executeCall(ctx, session.ID, call)
			total++
			if run.Success {
				successes++
			}
			result.ToolRuns = append(result.ToolRuns, run)

			l.persistMessage(ctx, toolMsg)
			messages = append(messages, *toolMsg)

			if def, ok := l.registry.Get(call.Name); ok && def.OSILayer > 0 {
				layers[def.OSILayer] = struct{}{}
			}
		}
		l.applyDiagnostics(ctx, session.ID, layers)
	}

	// Budget spent: one last call with tools disabled so the model must
	// answer in text. Tool calls returned despite the directive are
	// dropped before the message is persisted.
	resp, err := l.chat(ctx, session.ID, messages, defs, ToolChoice{Mode: ToolChoiceNone}, result)
	if err != nil {
		l.failTurn(ctx, span, session.ID, err)
		return nil, fmt.Errorf("llm call: %w", err)
	}
	assistant := resp.Message
	assistant.SessionID = session.ID
	assistant.ToolCalls = nil
	l.persistMessage(ctx, &assistant)
	result.Reply = assistant.Content
	l.finishTurn(span, result, successes, total)
	return result, nil
}

// persistMessage appends msg to the session log. Persistence failures
// are logged and swallowed; the in-memory turn carries on so a storage
// problem never blocks the user.
func (l *Loop) persistMessage(ctx context.Context, msg *models.Message) {
	if err := l.recorder.AddMessage(ctx, msg); err != nil {
		l.logger.Warn(ctx, "message not persisted", "role", string(msg.Role), "error", err)
	}
}

func (l *Loop) chat(ctx context.Context, sessionID string, messages []models.Message, defs []models.ToolDefinition, choice ToolChoice, result *TurnResult) (*ChatResponse, error) {
	result.LLMCalls++
	return l.router.Chat(ctx, sessionID, &ChatRequest{
		Messages:    messages,
		Tools:       defs,
		Temperature: l.temperature,
		ToolChoice:  choice,
	})
}

// executeCall runs one tool call and shapes both the caller-facing run
// record and the role=tool message that answers the assistant's call.
func (l *Loop) executeCall(ctx context.Context, sessionID string, call models.ToolCall) (ToolRun, *models.Message) {
	ctx, span := l.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	start := time.Now()
	res := l.registry.Execute(ctx, call)
	elapsed := time.Since(start)
	l.tracer.SetAttributes(span, "tool.success", res.Success, "tool.duration_ms", elapsed.Milliseconds())

	run := ToolRun{
		Name:      call.Name,
		Arguments: call.ArgumentsMap(),
		Result:    res.Content,
		Success:   res.Success,
		Duration:  elapsed,
	}
	msg := &models.Message{
		SessionID:  sessionID,
		Role:       models.RoleTool,
		Content:    res.Content,
		ToolCallID: res.ToolCallID,
		ToolName:   res.ToolName,
	}
	return run, msg
}

// applyDiagnostics refreshes the session's OSI attribution and issue
// category after a batch of tool executions.
func (l *Loop) applyDiagnostics(ctx context.Context, sessionID string, layers map[int]struct{}) {
	category := Categorize(l.recorder.ToolPath(sessionID), l.registry.Get)
	err := l.recorder.Update(ctx, sessionID, func(session *models.Session) {
		for layer := range layers {
			session.TouchOSILayer(layer)
		}
		if category != models.CategoryUnknown {
			session.IssueCategory = category
		}
	})
	if err != nil {
		l.logger.Warn(ctx, "session diagnostics update failed", "error", err)
	}
}

func (l *Loop) failTurn(ctx context.Context, span trace.Span, sessionID string, err error) {
	l.recorder.RecordError(ctx, sessionID, err.Error())
	l.tracer.RecordError(span, err)
	l.logger.Error(ctx, "chat turn failed", "error", err)
}

func (l *Loop) finishTurn(span trace.Span, result *TurnResult, successes, total int) {
	result.Confidence = Confidence(successes, total)
	l.tracer.SetAttributes(span,
		"llm.calls", result.LLMCalls,
		"tools.executed", total,
		"tools.succeeded", successes,
		"confidence", result.Confidence,
	)
}
