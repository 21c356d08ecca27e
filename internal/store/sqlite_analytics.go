package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/netmedic/netmedic/pkg/models"
)

// windowConds renders the optional time window as WHERE fragments over
// sessions.started_at. The window is half-open: [Start, End).
func windowConds(w Window) (conds []string, args []any) {
	if !w.Start.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, w.Start.UnixMilli())
	}
	if !w.End.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, w.End.UnixMilli())
	}
	return conds, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// SessionSummary aggregates sessions inside the window.
func (s *SQLiteStore) SessionSummary(ctx context.Context, w Window) (*Summary, error) {
	conds, args := windowConds(w)
	where := whereClause(conds)

	summary := &Summary{
		ByOutcome:  make(map[models.Outcome]int),
		ByProvider: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(prompt_tokens), 0),
			COALESCE(AVG(completion_tokens), 0),
			COALESCE(AVG(message_count), 0),
			COALESCE(SUM(estimated_cost_usd), 0),
			COALESCE(SUM(had_fallback), 0)
		FROM sessions`+where, args...).Scan(
		&summary.TotalSessions,
		&summary.AvgPromptTokens,
		&summary.AvgCompletionTokens,
		&summary.AvgMessages,
		&summary.TotalCostUSD,
		&summary.FallbackCount,
	)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM sessions`+where+` GROUP BY outcome`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		summary.ByOutcome[models.Outcome(outcome)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	providerConds := append([]string{"provider != ''"}, conds...)
	providerRows, err := s.db.QueryContext(ctx,
		`SELECT provider, COUNT(*) FROM sessions`+whereClause(providerConds)+` GROUP BY provider`, args...)
	if err != nil {
		return nil, err
	}
	defer providerRows.Close()
	for providerRows.Next() {
		var (
			provider string
			count    int
		)
		if err := providerRows.Scan(&provider, &count); err != nil {
			return nil, err
		}
		summary.ByProvider[provider] = count
	}
	if err := providerRows.Err(); err != nil {
		return nil, err
	}

	// Time to resolution only means something for sessions that actually
	// resolved and were closed out.
	resolvedConds := append([]string{"outcome = ?", "ended_at IS NOT NULL"}, conds...)
	resolvedArgs := append([]any{string(models.OutcomeResolved)}, args...)
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(ended_at - started_at), 0) FROM sessions`+whereClause(resolvedConds),
		resolvedArgs...).Scan(&summary.AvgResolutionMS)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// ToolStats aggregates every tool dispatch ever recorded, busiest tool
// first.
func (s *SQLiteStore) ToolStats(ctx context.Context) ([]ToolStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name,
			COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(duration_ms), 0),
			COALESCE(SUM(is_repeated), 0)
		FROM tool_events
		GROUP BY tool_name
		ORDER BY COUNT(*) DESC, tool_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ToolStat
	for rows.Next() {
		var stat ToolStat
		if err := rows.Scan(&stat.Tool, &stat.Total, &stat.Successes,
			&stat.TotalDurationMS, &stat.LoopCount); err != nil {
			return nil, err
		}
		stat.Failures = stat.Total - stat.Successes
		if stat.Total > 0 {
			stat.SuccessRate = float64(stat.Successes) / float64(stat.Total)
			stat.AvgDurationMS = float64(stat.TotalDurationMS) / float64(stat.Total)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// QualityMetrics reports conversation-quality signals across all
// sessions.
func (s *SQLiteStore) QualityMetrics(ctx context.Context) (*Quality, error) {
	quality := &Quality{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM sessions
	`, string(models.OutcomeAbandoned)).Scan(&quality.TotalSessions, &quality.AbandonedSessions)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(message_count), 0) FROM sessions WHERE outcome = ?
	`, string(models.OutcomeResolved)).Scan(&quality.AvgMessagesToResolution)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_id), COUNT(*)
		FROM tool_events
		WHERE is_repeated = 1
	`).Scan(&quality.SessionsWithLoops, &quality.LoopOccurrences)
	if err != nil {
		return nil, err
	}

	if quality.TotalSessions > 0 {
		quality.DropOffRate = float64(quality.AbandonedSessions) / float64(quality.TotalSessions)
	}
	return quality, nil
}

// CommonResolutionPaths returns the most frequent successful tool
// sequences.
func (s *SQLiteStore) CommonResolutionPaths(ctx context.Context, limit int) ([]PathCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, COUNT(*)
		FROM resolution_paths
		WHERE success = 1
		GROUP BY path
		ORDER BY COUNT(*) DESC, path ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []PathCount
	for rows.Next() {
		var (
			encoded string
			pc      PathCount
		)
		if err := rows.Scan(&encoded, &pc.Count); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(encoded), &pc.Path); err != nil {
			return nil, fmt.Errorf("decode path %q: %w", encoded, err)
		}
		paths = append(paths, pc)
	}
	return paths, rows.Err()
}

// CostByPeriod buckets cloud-provider spend by day, week, or month of
// session start.
func (s *SQLiteStore) CostByPeriod(ctx context.Context, w Window, g Granularity) ([]CostBucket, error) {
	var format string
	switch g {
	case GranularityDay:
		format = "%Y-%m-%d"
	case GranularityWeek:
		format = "%Y-W%W"
	case GranularityMonth:
		format = "%Y-%m"
	default:
		return nil, fmt.Errorf("unknown granularity %q", g)
	}

	conds, args := windowConds(w)
	conds = append([]string{"provider != ''", "provider != ?"}, conds...)
	args = append([]any{localProvider}, args...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime(?, started_at / 1000, 'unixepoch') AS period,
			COUNT(*),
			COALESCE(SUM(estimated_cost_usd), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0)
		FROM sessions`+whereClause(conds)+`
		GROUP BY period
		ORDER BY period ASC
	`, append([]any{format}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []CostBucket
	for rows.Next() {
		var bucket CostBucket
		if err := rows.Scan(&bucket.Period, &bucket.Sessions, &bucket.CostUSD,
			&bucket.PromptTokens, &bucket.CompletionTokens); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}
