package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/netmedic/netmedic/pkg/models"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

// localProvider is the sidecar's provider name. Cost aggregation skips
// sessions served by it; local inference is free.
const localProvider = "ollama"

// SQLiteStore is the embedded single-file Store every install uses.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// the schema. ":memory:" gives a throwaway database.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// PRAGMAs are per-connection; a single pooled connection keeps them
	// in force and serializes writers, which SQLite wants anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteFromDB wraps an existing database handle. The caller owns the
// handle's lifetime configuration; the schema is still applied.
func NewSQLiteFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	// Timestamps are integer milliseconds since the epoch throughout.
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			outcome TEXT NOT NULL DEFAULT 'in_progress',
			issue_category TEXT NOT NULL DEFAULT 'unknown',
			osi_layer_resolved INTEGER NOT NULL DEFAULT 0,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			had_fallback INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			user_message_count INTEGER NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			estimated_cost_usd REAL NOT NULL DEFAULT 0,
			llm_time_ms INTEGER NOT NULL DEFAULT 0,
			tool_time_ms INTEGER NOT NULL DEFAULT 0,
			feedback_score INTEGER NOT NULL DEFAULT 0,
			feedback_comment TEXT NOT NULL DEFAULT '',
			preview TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			tool_name TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			is_repeated INTEGER NOT NULL DEFAULT 0,
			consecutive_count INTEGER NOT NULL DEFAULT 1,
			arguments TEXT NOT NULL DEFAULT '{}',
			result_summary TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resolution_paths (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE REFERENCES sessions(id) ON DELETE CASCADE,
			score INTEGER NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON sessions(outcome)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_tool_events_session ON tool_events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_tool_events_tool ON tool_events(tool_name)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSession writes the session, replacing any prior row with its id.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session with id is required")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, started_at, ended_at, outcome, issue_category, osi_layer_resolved,
			provider, model, had_fallback, prompt_tokens, completion_tokens,
			message_count, user_message_count, tool_call_count, estimated_cost_usd,
			llm_time_ms, tool_time_ms, feedback_score, feedback_comment, preview
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			outcome = excluded.outcome,
			issue_category = excluded.issue_category,
			osi_layer_resolved = excluded.osi_layer_resolved,
			provider = excluded.provider,
			model = excluded.model,
			had_fallback = excluded.had_fallback,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			message_count = excluded.message_count,
			user_message_count = excluded.user_message_count,
			tool_call_count = excluded.tool_call_count,
			estimated_cost_usd = excluded.estimated_cost_usd,
			llm_time_ms = excluded.llm_time_ms,
			tool_time_ms = excluded.tool_time_ms,
			feedback_score = excluded.feedback_score,
			feedback_comment = excluded.feedback_comment,
			preview = excluded.preview
	`,
		session.ID, session.StartedAt.UnixMilli(), nullMillis(session.EndedAt),
		string(session.Outcome), string(session.IssueCategory), session.OSILayerResolved,
		session.Provider, session.Model, boolInt(session.HadFallback),
		session.PromptTokens, session.CompletionTokens,
		session.MessageCount, session.UserMessageCount, session.ToolCallCount,
		session.EstimatedCostUSD, session.LLMTimeMS, session.ToolTimeMS,
		session.FeedbackScore, session.FeedbackComment, session.Preview,
	)
	return err
}

const sessionColumns = `id, started_at, ended_at, outcome, issue_category, osi_layer_resolved,
	provider, model, had_fallback, prompt_tokens, completion_tokens,
	message_count, user_message_count, tool_call_count, estimated_cost_usd,
	llm_time_ms, tool_time_ms, feedback_score, feedback_comment, preview`

// GetSession fetches one session or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// ListSessions returns sessions newest-first, optionally filtered by
// outcome.
func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if opts.Outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, string(opts.Outcome))
	}
	query += ` ORDER BY started_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountSessions reports how many sessions match opts, ignoring paging.
func (s *SQLiteStore) CountSessions(ctx context.Context, opts ListOptions) (int, error) {
	query := `SELECT COUNT(*) FROM sessions`
	var args []any
	if opts.Outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, string(opts.Outcome))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// DeleteSession removes the session; the schema cascades to messages,
// events, tool events, feedback, and paths.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores the next message in the session's log. The
// per-session sequence number is assigned here; messages are never
// updated afterward.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return errors.New("message with session_id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, tool_calls, tool_call_id, tool_name, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.SessionID, string(msg.Role), msg.Content,
		toolCalls, msg.ToolCallID, msg.ToolName, msg.CreatedAt.UnixMilli())
	return err
}

// GetMessages returns the session's full log in insertion order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, tool_name, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			msg       models.Message
			role      string
			toolCalls sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content,
			&toolCalls, &msg.ToolCallID, &msg.ToolName, &createdAt); err != nil {
			return nil, err
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for message %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendEvent stores one analytics event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *models.Event) error {
	if event == nil || event.SessionID == "" {
		return errors.New("event with session_id is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, type, duration_ms, prompt_tokens, completion_tokens, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.SessionID, string(event.Type), event.DurationMS,
		event.PromptTokens, event.CompletionTokens, string(metadata), event.CreatedAt.UnixMilli())
	return err
}

// GetEvents returns a session's events oldest-first.
func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, type, duration_ms, prompt_tokens, completion_tokens, metadata, created_at
		FROM events
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			event     models.Event
			eventType string
			metadata  string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.SessionID, &eventType, &event.DurationMS,
			&event.PromptTokens, &event.CompletionTokens, &metadata, &createdAt); err != nil {
			return nil, err
		}
		event.Type = models.EventType(eventType)
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		if metadata != "" && metadata != "{}" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for event %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// AppendToolEvent stores one tool dispatch record.
func (s *SQLiteStore) AppendToolEvent(ctx context.Context, event *models.ToolEvent) error {
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
	arguments, err := json.Marshal(event.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_events (id, session_id, tool_name, duration_ms, success, error,
			is_repeated, consecutive_count, arguments, result_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.SessionID, event.ToolName, event.DurationMS, boolInt(event.Success),
		event.Error, boolInt(event.IsRepeated), event.ConsecutiveCount,
		string(arguments), event.ResultSummary, event.CreatedAt.UnixMilli())
	return err
}

// GetToolEvents returns a session's tool events oldest-first.
func (s *SQLiteStore) GetToolEvents(ctx context.Context, sessionID string) ([]models.ToolEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, tool_name, duration_ms, success, error,
			is_repeated, consecutive_count, arguments, result_summary, created_at
		FROM tool_events
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ToolEvent
	for rows.Next() {
		var (
			event      models.ToolEvent
			success    int
			isRepeated int
			arguments  string
			createdAt  int64
		)
		if err := rows.Scan(&event.ID, &event.SessionID, &event.ToolName, &event.DurationMS,
			&success, &event.Error, &isRepeated, &event.ConsecutiveCount,
			&arguments, &event.ResultSummary, &createdAt); err != nil {
			return nil, err
		}
		event.Success = success != 0
		event.IsRepeated = isRepeated != 0
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		if arguments != "" && arguments != "{}" && arguments != "null" {
			if err := json.Unmarshal([]byte(arguments), &event.Arguments); err != nil {
				return nil, fmt.Errorf("decode arguments for tool event %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SaveFeedback writes the session's feedback, replacing any prior row.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *models.Feedback) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, session_id, score, comment, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			id = excluded.id,
			score = excluded.score,
			comment = excluded.comment,
			source = excluded.source,
			created_at = excluded.created_at
	`, fb.ID, fb.SessionID, fb.Score, fb.Comment, fb.Source, fb.CreatedAt.UnixMilli())
	return err
}

// GetFeedback returns the session's feedback or ErrNotFound.
func (s *SQLiteStore) GetFeedback(ctx context.Context, sessionID string) (*models.Feedback, error) {
	var (
		fb        models.Feedback
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, score, comment, source, created_at
		FROM feedback WHERE session_id = ?
	`, sessionID).Scan(&fb.ID, &fb.SessionID, &fb.Score, &fb.Comment, &fb.Source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fb.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &fb, nil
}

// AddResolutionPath stores the ordered tool sequence a session took.
func (s *SQLiteStore) AddResolutionPath(ctx context.Context, path *models.ResolutionPath) error {
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
	encoded, err := json.Marshal(path.Path)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resolution_paths (id, session_id, path, success, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, path.ID, path.SessionID, string(encoded), boolInt(path.Success), path.CreatedAt.UnixMilli())
	return err
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session     models.Session
		startedAt   int64
		endedAt     sql.NullInt64
		outcome     string
		category    string
		hadFallback int
	)
	err := row.Scan(&session.ID, &startedAt, &endedAt, &outcome, &category,
		&session.OSILayerResolved, &session.Provider, &session.Model, &hadFallback,
		&session.PromptTokens, &session.CompletionTokens,
		&session.MessageCount, &session.UserMessageCount, &session.ToolCallCount,
		&session.EstimatedCostUSD, &session.LLMTimeMS, &session.ToolTimeMS,
		&session.FeedbackScore, &session.FeedbackComment, &session.Preview)
	if err != nil {
		return nil, err
	}
	session.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		session.EndedAt = &t
	}
	session.Outcome = models.Outcome(outcome)
	session.IssueCategory = models.IssueCategory(category)
	session.HadFallback = hadFallback != 0
	return &session, nil
}
