// Package store persists sessions, their conversation logs, and the
// analytics trail (events, tool events, feedback, resolution paths) and
// answers the aggregate queries built on top of them. Two backends exist:
// the embedded SQLite file every desktop install uses and an in-memory
// mirror for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/netmedic/netmedic/pkg/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for sessions and their trail.
//
// Messages are immutable once appended and totally ordered by insertion.
// Sessions are upserted (replace by id). Deleting a session cascades to
// its messages, events, tool events, feedback, and resolution paths.
type Store interface {
	UpsertSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)
	CountSessions(ctx context.Context, opts ListOptions) (int, error)
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	AppendEvent(ctx context.Context, event *models.Event) error
	GetEvents(ctx context.Context, sessionID string) ([]models.Event, error)

	AppendToolEvent(ctx context.Context, event *models.ToolEvent) error
	GetToolEvents(ctx context.Context, sessionID string) ([]models.ToolEvent, error)

	SaveFeedback(ctx context.Context, fb *models.Feedback) error
	GetFeedback(ctx context.Context, sessionID string) (*models.Feedback, error)

	AddResolutionPath(ctx context.Context, path *models.ResolutionPath) error

	Analytics

	Close() error
}

// ListOptions filters and pages session listings. Results are ordered by
// start time, newest first.
type ListOptions struct {
	Outcome models.Outcome // empty matches all
	Limit   int
	Offset  int
}

// Window bounds an aggregate query in time. Zero values are unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Granularity selects the bucket width of time-series aggregates.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Valid reports whether the granularity is one of the accepted values.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// Analytics answers the aggregate queries over the persisted trail.
type Analytics interface {
	SessionSummary(ctx context.Context, window Window) (*Summary, error)
	ToolStats(ctx context.Context) ([]ToolStat, error)
	QualityMetrics(ctx context.Context) (*Quality, error)
	CommonResolutionPaths(ctx context.Context, limit int) ([]PathCount, error)
	CostByPeriod(ctx context.Context, window Window, granularity Granularity) ([]CostBucket, error)
}

// Summary is the windowed roll-up of session outcomes and spend.
type Summary struct {
	TotalSessions int                    `json:"total_sessions"`
	ByOutcome     map[models.Outcome]int `json:"by_outcome"`
	ByProvider    map[string]int         `json:"by_provider"`
	FallbackCount int                    `json:"fallback_count"`

	AvgPromptTokens     float64 `json:"avg_prompt_tokens"`
	AvgCompletionTokens float64 `json:"avg_completion_tokens"`
	AvgMessages         float64 `json:"avg_messages"`

	// AvgResolutionMS averages time-to-resolution over resolved sessions
	// only; unresolved and abandoned sessions do not dilute it.
	AvgResolutionMS float64 `json:"avg_resolution_ms"`

	TotalCostUSD float64 `json:"total_cost_usd"`
}

// ToolStat is the per-tool execution roll-up. LoopCount counts events
// flagged as immediate repeats of the previous tool.
type ToolStat struct {
	Tool            string  `json:"tool"`
	Total           int     `json:"total"`
	Successes       int     `json:"successes"`
	Failures        int     `json:"failures"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	TotalDurationMS int64   `json:"total_duration_ms"`
	LoopCount       int     `json:"loop_count"`
}

// Quality captures how well sessions converge.
type Quality struct {
	TotalSessions           int     `json:"total_sessions"`
	AvgMessagesToResolution float64 `json:"avg_messages_to_resolution"`
	SessionsWithLoops       int     `json:"sessions_with_loops"`
	LoopOccurrences         int     `json:"loop_occurrences"`
	AbandonedSessions       int     `json:"abandoned_sessions"`
	DropOffRate             float64 `json:"drop_off_rate"`
}

// PathCount is one resolution path and how often it succeeded.
type PathCount struct {
	Path  []string `json:"path"`
	Count int      `json:"count"`
}

// CostBucket is one time bucket of cloud spend and token volume.
type CostBucket struct {
	Period           string  `json:"period"`
	Sessions         int     `json:"sessions"`
	CostUSD          float64 `json:"cost_usd"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
}
