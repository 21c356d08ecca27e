// Package analytics turns the raw activity of a diagnostic session into
// the persisted trail the reporting queries run over: session rows and
// their aggregates, the message log, llm/tool/fallback events, and the
// resolution path written when a session closes.
package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/internal/observability"
	"github.com/netmedic/netmedic/internal/store"
	"github.com/netmedic/netmedic/internal/tools"
	"github.com/netmedic/netmedic/pkg/models"
)

// previewLimit caps the session preview taken from the first user
// message.
const previewLimit = 80

// sessionState is the recorder's running view of one live session.
type sessionState struct {
	session *models.Session

	// lastTool and consecutive drive repeat detection: a tool event is
	// flagged repeated when it names the same tool as the one before it.
	lastTool    string
	consecutive int

	toolPath     []string
	lastActivity time.Time
}

// Recorder is the single writer of the analytics trail. It satisfies
// both the router's and the tool registry's recorder interfaces.
type Recorder struct {
	store  store.Store
	costs  *CostModel
	logger *observability.Logger

	mu   sync.Mutex
	live map[string]*sessionState
}

// Config wires a Recorder.
type Config struct {
	Store  store.Store
	Costs  *CostModel
	Logger *observability.Logger
}

// New builds a Recorder. Store is required; a nil cost model prices
// everything at zero and a nil logger gets the default.
func New(cfg Config) *Recorder {
	if cfg.Costs == nil {
		cfg.Costs = NewCostModel(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Recorder{
		store:  cfg.Store,
		costs:  cfg.Costs,
		logger: cfg.Logger,
		live:   make(map[string]*sessionState),
	}
}

// Begin registers an in-progress session as live and persists it.
// Resuming an existing session rebuilds the repeat-detection state from
// its stored tool events so consecutive counts survive restarts.
// Sessions already closed are persisted but not tracked.
func (r *Recorder) Begin(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session with id is required")
	}

	if session.Outcome == models.OutcomeInProgress {
		r.mu.Lock()
		state, alreadyLive := r.live[session.ID]
		if alreadyLive {
			state.session = session
			state.lastActivity = time.Now()
		}
		r.mu.Unlock()

		if !alreadyLive {
			// Load history before publishing the state so a concurrent
			// tool dispatch cannot interleave with the rebuild.
			fresh := &sessionState{session: session, lastActivity: time.Now()}
			if events, err := r.store.GetToolEvents(ctx, session.ID); err == nil && len(events) > 0 {
				for _, event := range events {
					fresh.toolPath = append(fresh.toolPath, event.ToolName)
				}
				last := events[len(events)-1]
				fresh.lastTool = last.ToolName
				fresh.consecutive = last.ConsecutiveCount
			}

			r.mu.Lock()
			if racing, ok := r.live[session.ID]; ok {
				racing.session = session
			} else {
				r.live[session.ID] = fresh
				observability.SessionsActive.Inc()
			}
			r.mu.Unlock()
		}
	}

	if err := r.store.UpsertSession(ctx, session); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("save_session").Inc()
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Update mutates the session under the recorder's lock and persists the
// result. Sessions not live (already closed, or from a previous process)
// are loaded, mutated, and written back without being tracked.
func (r *Recorder) Update(ctx context.Context, sessionID string, fn func(*models.Session)) error {
	r.mu.Lock()
	if state, ok := r.live[sessionID]; ok {
		fn(state.session)
		state.lastActivity = time.Now()
		snapshot := *state.session
		r.mu.Unlock()
		return r.persist(ctx, &snapshot)
	}
	r.mu.Unlock()

	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	fn(session)
	return r.persist(ctx, session)
}

func (r *Recorder) persist(ctx context.Context, session *models.Session) error {
	if err := r.store.UpsertSession(ctx, session); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("save_session").Inc()
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// AddMessage appends one message to the session log, bumps the session's
// message counters, and emits the matching timeline event. The first
// user message also becomes the session preview.
func (r *Recorder) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("message with session_id is required")
	}

	if err := r.store.AppendMessage(ctx, msg); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("save_message").Inc()
		return fmt.Errorf("persist message: %w", err)
	}

	var eventType models.EventType
	switch msg.Role {
	case models.RoleUser:
		eventType = models.EventUserMessage
	case models.RoleAssistant:
		eventType = models.EventAssistantMessage
	}
	if eventType != "" {
		r.appendEvent(ctx, &models.Event{
			SessionID: msg.SessionID,
			Type:      eventType,
			Metadata:  map[string]any{"length": len(msg.Content)},
		})
	}

	return r.Update(ctx, msg.SessionID, func(session *models.Session) {
		session.MessageCount++
		if msg.Role == models.RoleUser {
			session.UserMessageCount++
			if session.Preview == "" {
				session.Preview = preview(msg.Content)
			}
		}
	})
}

// RecordLLMCall implements the router's recorder. It accrues token and
// latency aggregates, prices the call, and stamps the session with the
// provider that actually served it.
func (r *Recorder) RecordLLMCall(ctx context.Context, call agent.LLMCall) {
	if call.SessionID == "" {
		return
	}

	metadata := map[string]any{
		"provider": call.Provider,
		"model":    call.Model,
	}
	if call.Err != nil {
		metadata["error"] = call.Err.Error()
	}
	r.appendEvent(ctx, &models.Event{
		SessionID:        call.SessionID,
		Type:             models.EventLLMCall,
		DurationMS:       call.Duration.Milliseconds(),
		PromptTokens:     call.PromptTokens,
		CompletionTokens: call.CompletionTokens,
		Metadata:         metadata,
	})

	cost := r.costs.Cost(call.Provider, call.Model, call.PromptTokens, call.CompletionTokens)
	err := r.Update(ctx, call.SessionID, func(session *models.Session) {
		session.Provider = call.Provider
		session.Model = call.Model
		session.PromptTokens += call.PromptTokens
		session.CompletionTokens += call.CompletionTokens
		session.LLMTimeMS += call.Duration.Milliseconds()
		session.EstimatedCostUSD += cost
	})
	if err != nil {
		r.logger.Warn(ctx, "llm call not recorded", "session_id", call.SessionID, "error", err)
	}
}

// RecordFallback implements the router's recorder.
func (r *Recorder) RecordFallback(ctx context.Context, fb agent.Fallback) {
	if fb.SessionID == "" {
		return
	}
	r.appendEvent(ctx, &models.Event{
		SessionID: fb.SessionID,
		Type:      models.EventFallback,
		Metadata: map[string]any{
			"from":   fb.From,
			"to":     fb.To,
			"reason": fb.Reason,
		},
	})
	err := r.Update(ctx, fb.SessionID, func(session *models.Session) {
		session.HadFallback = true
	})
	if err != nil {
		r.logger.Warn(ctx, "fallback not recorded", "session_id", fb.SessionID, "error", err)
	}
}

// RecordToolCall implements the tool registry's recorder. Repeat
// detection lives here: the recorder owns the per-session last-tool
// state, so is_repeated and consecutive_count are derived in one place.
func (r *Recorder) RecordToolCall(ctx context.Context, obs tools.Observation) {
	if obs.SessionID == "" {
		// Tool ran outside any session (external API execution); the
		// registry already counted it in the metrics.
		return
	}

	var (
		repeated    bool
		consecutive int
	)
	r.mu.Lock()
	if state, live := r.live[obs.SessionID]; live {
		repeated = state.lastTool == obs.Tool && obs.Tool != ""
		if repeated {
			state.consecutive++
		} else {
			state.consecutive = 1
		}
		state.lastTool = obs.Tool
		state.toolPath = append(state.toolPath, obs.Tool)
		state.lastActivity = time.Now()
		consecutive = state.consecutive
		r.mu.Unlock()
	} else {
		r.mu.Unlock()
		// Untracked session (already ended, or owned by another
		// process): derive the repeat state from the stored trail
		// without registering it.
		consecutive = 1
		if events, err := r.store.GetToolEvents(ctx, obs.SessionID); err == nil && len(events) > 0 {
			last := events[len(events)-1]
			if last.ToolName == obs.Tool && obs.Tool != "" {
				repeated = true
				consecutive = last.ConsecutiveCount + 1
			}
		}
	}

	event := &models.ToolEvent{
		SessionID:        obs.SessionID,
		ToolName:         obs.Tool,
		DurationMS:       obs.Duration.Milliseconds(),
		Success:          obs.Success,
		Error:            obs.Error,
		IsRepeated:       repeated,
		ConsecutiveCount: consecutive,
		Arguments:        obs.Arguments,
		ResultSummary:    obs.Summary,
	}
	if err := r.store.AppendToolEvent(ctx, event); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("save_tool_event").Inc()
		r.logger.Warn(ctx, "tool event not recorded", "session_id", obs.SessionID, "tool", obs.Tool, "error", err)
	}

	r.appendEvent(ctx, &models.Event{
		SessionID:  obs.SessionID,
		Type:       models.EventToolCall,
		DurationMS: obs.Duration.Milliseconds(),
		Metadata: map[string]any{
			"tool":    obs.Tool,
			"success": obs.Success,
		},
	})

	err := r.Update(ctx, obs.SessionID, func(session *models.Session) {
		session.ToolCallCount++
		session.ToolTimeMS += obs.Duration.Milliseconds()
	})
	if err != nil {
		r.logger.Warn(ctx, "tool aggregates not recorded", "session_id", obs.SessionID, "error", err)
	}
}

// RecordError emits an error event for a failed turn.
func (r *Recorder) RecordError(ctx context.Context, sessionID, message string) {
	if sessionID == "" {
		return
	}
	r.appendEvent(ctx, &models.Event{
		SessionID: sessionID,
		Type:      models.EventError,
		Metadata:  map[string]any{"error": message},
	})
}

// End closes the session with a terminal outcome, writes its resolution
// path if any tool ran, and drops the live state.
func (r *Recorder) End(ctx context.Context, sessionID string, outcome models.Outcome) error {
	r.mu.Lock()
	state, live := r.live[sessionID]
	var path []string
	if live {
		path = append([]string(nil), state.toolPath...)
	}
	r.mu.Unlock()

	// Not live means a previous process ran the tools; recover the path
	// from the stored events.
	if !live {
		if events, err := r.store.GetToolEvents(ctx, sessionID); err == nil {
			for _, event := range events {
				path = append(path, event.ToolName)
			}
		}
	}

	var wasEnded bool
	err := r.Update(ctx, sessionID, func(session *models.Session) {
		wasEnded = session.Ended()
		session.End(outcome, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	// Ending twice is a no-op; the path was recorded the first time.
	if len(path) > 0 && !wasEnded {
		record := &models.ResolutionPath{
			SessionID: sessionID,
			Path:      path,
			Success:   outcome == models.OutcomeResolved,
		}
		if err := r.store.AddResolutionPath(ctx, record); err != nil {
			observability.StoreErrorsTotal.WithLabelValues("save_resolution_path").Inc()
			r.logger.Warn(ctx, "resolution path not recorded", "session_id", sessionID, "error", err)
		}
	}

	r.mu.Lock()
	if _, still := r.live[sessionID]; still {
		delete(r.live, sessionID)
		observability.SessionsActive.Dec()
	}
	r.mu.Unlock()
	return nil
}

// ToolPath returns the ordered tool names the live session has run.
func (r *Recorder) ToolPath(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.live[sessionID]
	if !ok {
		return nil
	}
	return append([]string(nil), state.toolPath...)
}

// SweepStale abandons in-progress sessions idle for longer than idleFor.
// Live sessions use the recorder's activity clock; sessions left over
// from a previous process fall back to their last stored event.
func (r *Recorder) SweepStale(ctx context.Context, idleFor time.Duration) (int, error) {
	sessions, err := r.store.ListSessions(ctx, store.ListOptions{Outcome: models.OutcomeInProgress})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	swept := 0
	for _, session := range sessions {
		last := session.StartedAt

		r.mu.Lock()
		state, live := r.live[session.ID]
		if live && state.lastActivity.After(last) {
			last = state.lastActivity
		}
		r.mu.Unlock()

		if !live {
			if events, err := r.store.GetEvents(ctx, session.ID); err == nil && len(events) > 0 {
				if tail := events[len(events)-1].CreatedAt; tail.After(last) {
					last = tail
				}
			}
		}

		if now.Sub(last) <= idleFor {
			continue
		}
		if err := r.End(ctx, session.ID, models.OutcomeAbandoned); err != nil {
			r.logger.Warn(ctx, "stale session not abandoned", "session_id", session.ID, "error", err)
			continue
		}
		r.logger.Info(ctx, "abandoned stale session", "session_id", session.ID, "idle", now.Sub(last).Round(time.Second).String())
		swept++
	}
	return swept, nil
}

func (r *Recorder) appendEvent(ctx context.Context, event *models.Event) {
	if err := r.store.AppendEvent(ctx, event); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("save_event").Inc()
		r.logger.Warn(ctx, "event not recorded", "session_id", event.SessionID, "type", string(event.Type), "error", err)
	}
	r.mu.Lock()
	if state, ok := r.live[event.SessionID]; ok {
		state.lastActivity = time.Now()
	}
	r.mu.Unlock()
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit-3]) + "..."
}
