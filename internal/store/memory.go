package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netmedic/netmedic/pkg/models"
)

// MemoryStore keeps everything in process memory. It mirrors the SQLite
// backend's behavior and is what tests and --no-persist runs use.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session
	messages   map[string][]models.Message
	events     map[string][]models.Event
	toolEvents map[string][]models.ToolEvent
	feedback   map[string]*models.Feedback
	paths      []models.ResolutionPath
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*models.Session),
		messages:   make(map[string][]models.Message),
		events:     make(map[string][]models.Event),
		toolEvents: make(map[string][]models.ToolEvent),
		feedback:   make(map[string]*models.Feedback),
	}
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) UpsertSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session with id is required")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	var sessions []*models.Session
	for _, session := range m.sessions {
		if opts.Outcome != "" && session.Outcome != opts.Outcome {
			continue
		}
		sessions = append(sessions, cloneSession(session))
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.After(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	if opts.Limit > 0 {
		if opts.Offset >= len(sessions) {
			return nil, nil
		}
		sessions = sessions[opts.Offset:]
		if len(sessions) > opts.Limit {
			sessions = sessions[:opts.Limit]
		}
	}
	return sessions, nil
}

func (m *MemoryStore) CountSessions(ctx context.Context, opts ListOptions) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, session := range m.sessions {
		if opts.Outcome != "" && session.Outcome != opts.Outcome {
			continue
		}
		total++
	}
	return total, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.events, id)
	delete(m.toolEvents, id)
	delete(m.feedback, id)
	kept := m.paths[:0]
	for _, path := range m.paths {
		if path.SessionID != id {
			kept = append(kept, path)
		}
	}
	m.paths = kept
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return errors.New("message with session_id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], cloneMessage(*msg))
	return nil
}

func (m *MemoryStore) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[sessionID]
	messages := make([]models.Message, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, cloneMessage(msg))
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *models.Event) error {
	if event == nil || event.SessionID == "" {
		return errors.New("event with session_id is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[event.SessionID]; !ok {
		return ErrNotFound
	}
	m.events[event.SessionID] = append(m.events[event.SessionID], cloneEvent(*event))
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.events[sessionID]
	events := make([]models.Event, 0, len(stored))
	for _, event := range stored {
		events = append(events, cloneEvent(event))
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events, nil
}

func (m *MemoryStore) AppendToolEvent(ctx context.Context, event *models.ToolEvent) error {
	if event == nil || event.SessionID == "" {
		return errors.New("tool event with session_id is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.ResultSummary = models.TruncateSummary(event.ResultSummary)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[event.SessionID]; !ok {
		return ErrNotFound
	}
	m.toolEvents[event.SessionID] = append(m.toolEvents[event.SessionID], cloneToolEvent(*event))
	return nil
}

func (m *MemoryStore) GetToolEvents(ctx context.Context, sessionID string) ([]models.ToolEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.toolEvents[sessionID]
	events := make([]models.ToolEvent, 0, len(stored))
	for _, event := range stored {
		events = append(events, cloneToolEvent(event))
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events, nil
}

func (m *MemoryStore) SaveFeedback(ctx context.Context, fb *models.Feedback) error {
	if fb == nil || fb.SessionID == "" {
		return errors.New("feedback with session_id is required")
	}
	if !fb.ValidScore() {
		return fmt.Errorf("feedback score %d out of range 1..5", fb.Score)
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[fb.SessionID]; !ok {
		return ErrNotFound
	}
	clone := *fb
	m.feedback[fb.SessionID] = &clone
	return nil
}

func (m *MemoryStore) GetFeedback(ctx context.Context, sessionID string) (*models.Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fb, ok := m.feedback[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *fb
	return &clone, nil
}

func (m *MemoryStore) AddResolutionPath(ctx context.Context, path *models.ResolutionPath) error {
	if path == nil || path.SessionID == "" {
		return errors.New("resolution path with session_id is required")
	}
	if len(path.Path) == 0 {
		return errors.New("resolution path must name at least one tool")
	}
	if path.ID == "" {
		path.ID = uuid.NewString()
	}
	if path.CreatedAt.IsZero() {
		path.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[path.SessionID]; !ok {
		return ErrNotFound
	}
	clone := *path
	clone.Path = append([]string(nil), path.Path...)
	m.paths = append(m.paths, clone)
	return nil
}

func (m *MemoryStore) SessionSummary(ctx context.Context, w Window) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := &Summary{
		ByOutcome:  make(map[models.Outcome]int),
		ByProvider: make(map[string]int),
	}
	var (
		promptSum     int64
		completionSum int64
		messageSum    int64
		resolvedMS    int64
		resolvedCount int
	)
	for _, session := range m.sessions {
		if !inWindow(session.StartedAt, w) {
			continue
		}
		summary.TotalSessions++
		summary.ByOutcome[session.Outcome]++
		if session.Provider != "" {
			summary.ByProvider[session.Provider]++
		}
		if session.HadFallback {
			summary.FallbackCount++
		}
		promptSum += int64(session.PromptTokens)
		completionSum += int64(session.CompletionTokens)
		messageSum += int64(session.MessageCount)
		summary.TotalCostUSD += session.EstimatedCostUSD
		if session.Outcome == models.OutcomeResolved && session.EndedAt != nil {
			resolvedMS += session.EndedAt.Sub(session.StartedAt).Milliseconds()
			resolvedCount++
		}
	}
	if summary.TotalSessions > 0 {
		n := float64(summary.TotalSessions)
		summary.AvgPromptTokens = float64(promptSum) / n
		summary.AvgCompletionTokens = float64(completionSum) / n
		summary.AvgMessages = float64(messageSum) / n
	}
	if resolvedCount > 0 {
		summary.AvgResolutionMS = float64(resolvedMS) / float64(resolvedCount)
	}
	return summary, nil
}

func (m *MemoryStore) ToolStats(ctx context.Context) ([]ToolStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byTool := make(map[string]*ToolStat)
	for _, events := range m.toolEvents {
		for _, event := range events {
			stat, ok := byTool[event.ToolName]
			if !ok {
				stat = &ToolStat{Tool: event.ToolName}
				byTool[event.ToolName] = stat
			}
			stat.Total++
			if event.Success {
				stat.Successes++
			} else {
				stat.Failures++
			}
			stat.TotalDurationMS += event.DurationMS
			if event.IsRepeated {
				stat.LoopCount++
			}
		}
	}

	stats := make([]ToolStat, 0, len(byTool))
	for _, stat := range byTool {
		if stat.Total > 0 {
			stat.SuccessRate = float64(stat.Successes) / float64(stat.Total)
			stat.AvgDurationMS = float64(stat.TotalDurationMS) / float64(stat.Total)
		}
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Total != stats[j].Total {
			return stats[i].Total > stats[j].Total
		}
		return stats[i].Tool < stats[j].Tool
	})
	return stats, nil
}

func (m *MemoryStore) QualityMetrics(ctx context.Context) (*Quality, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	quality := &Quality{}
	var (
		resolvedMessages int64
		resolvedCount    int
	)
	for _, session := range m.sessions {
		quality.TotalSessions++
		switch session.Outcome {
		case models.OutcomeAbandoned:
			quality.AbandonedSessions++
		case models.OutcomeResolved:
			resolvedMessages += int64(session.MessageCount)
			resolvedCount++
		}
	}
	for _, events := range m.toolEvents {
		looped := false
		for _, event := range events {
			if event.IsRepeated {
				quality.LoopOccurrences++
				looped = true
			}
		}
		if looped {
			quality.SessionsWithLoops++
		}
	}
	if resolvedCount > 0 {
		quality.AvgMessagesToResolution = float64(resolvedMessages) / float64(resolvedCount)
	}
	if quality.TotalSessions > 0 {
		quality.DropOffRate = float64(quality.AbandonedSessions) / float64(quality.TotalSessions)
	}
	return quality, nil
}

func (m *MemoryStore) CommonResolutionPaths(ctx context.Context, limit int) ([]PathCount, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, path := range m.paths {
		if !path.Success {
			continue
		}
		key, err := json.Marshal(path.Path)
		if err != nil {
			return nil, err
		}
		counts[string(key)]++
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}

	paths := make([]PathCount, 0, len(keys))
	for _, key := range keys {
		var pc PathCount
		if err := json.Unmarshal([]byte(key), &pc.Path); err != nil {
			return nil, err
		}
		pc.Count = counts[key]
		paths = append(paths, pc)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return paths, nil
}

func (m *MemoryStore) CostByPeriod(ctx context.Context, w Window, g Granularity) ([]CostBucket, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("unknown granularity %q", g)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byPeriod := make(map[string]*CostBucket)
	for _, session := range m.sessions {
		if session.Provider == "" || session.Provider == localProvider {
			continue
		}
		if !inWindow(session.StartedAt, w) {
			continue
		}
		period := periodLabel(session.StartedAt, g)
		bucket, ok := byPeriod[period]
		if !ok {
			bucket = &CostBucket{Period: period}
			byPeriod[period] = bucket
		}
		bucket.Sessions++
		bucket.CostUSD += session.EstimatedCostUSD
		bucket.PromptTokens += int64(session.PromptTokens)
		bucket.CompletionTokens += int64(session.CompletionTokens)
	}

	buckets := make([]CostBucket, 0, len(byPeriod))
	for _, bucket := range byPeriod {
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Period < buckets[j].Period })
	if len(buckets) == 0 {
		return nil, nil
	}
	return buckets, nil
}

func inWindow(t time.Time, w Window) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// periodLabel matches SQLite's strftime output for the same instant so
// both backends bucket identically. Week numbering is Monday-based with
// days before the first Monday in week zero.
func periodLabel(t time.Time, g Granularity) string {
	t = t.UTC()
	switch g {
	case GranularityWeek:
		offset := int(t.Weekday()) - 1
		if offset < 0 {
			offset = 6
		}
		week := (t.YearDay() - 1 + 7 - offset) / 7
		return fmt.Sprintf("%04d-W%02d", t.Year(), week)
	case GranularityMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		clone.EndedAt = &t
	}
	return &clone
}

func cloneMessage(msg models.Message) models.Message {
	if len(msg.ToolCalls) > 0 {
		calls := make([]models.ToolCall, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			calls[i] = call
			calls[i].Arguments = append(json.RawMessage(nil), call.Arguments...)
		}
		msg.ToolCalls = calls
	}
	return msg
}

func cloneEvent(event models.Event) models.Event {
	if event.Metadata != nil {
		metadata := make(map[string]any, len(event.Metadata))
		for k, v := range event.Metadata {
			metadata[k] = v
		}
		event.Metadata = metadata
	}
	return event
}

func cloneToolEvent(event models.ToolEvent) models.ToolEvent {
	if event.Arguments != nil {
		arguments := make(map[string]any, len(event.Arguments))
		for k, v := range event.Arguments {
			arguments[k] = v
		}
		event.Arguments = arguments
	}
	return event
}
