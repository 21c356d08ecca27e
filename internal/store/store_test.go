package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/netmedic/netmedic/pkg/models"
)

var testBase = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

// runBothBackends runs fn against a fresh SQLite database and a fresh
// in-memory store so the two backends cannot drift apart.
func runBothBackends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(":memory:")
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
}

func seedSession(t *testing.T, s Store, id string, started time.Time, mutate func(*models.Session)) *models.Session {
	t.Helper()
	session := models.NewSession(id)
	session.StartedAt = started
	if mutate != nil {
		mutate(session)
	}
	if err := s.UpsertSession(context.Background(), session); err != nil {
		t.Fatalf("UpsertSession(%s): %v", id, err)
	}
	return session
}

func TestSessionRoundTrip(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ended := testBase.Add(90 * time.Second)
		seedSession(t, s, "sess-1", testBase, func(sess *models.Session) {
			sess.EndedAt = &ended
			sess.Outcome = models.OutcomeResolved
			sess.IssueCategory = models.CategoryDNS
			sess.OSILayerResolved = 7
			sess.Provider = "openai"
			sess.Model = "gpt-4o-mini"
			sess.HadFallback = true
			sess.PromptTokens = 1234
			sess.CompletionTokens = 567
			sess.MessageCount = 9
			sess.UserMessageCount = 3
			sess.ToolCallCount = 4
			sess.EstimatedCostUSD = 0.5
			sess.LLMTimeMS = 4200
			sess.ToolTimeMS = 900
			sess.FeedbackScore = 5
			sess.FeedbackComment = "fixed it"
			sess.Preview = "my wifi is down"
		})

		got, err := s.GetSession(ctx, "sess-1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if !got.StartedAt.Equal(testBase) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, testBase)
		}
		if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
			t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
		}
		if got.Outcome != models.OutcomeResolved {
			t.Errorf("Outcome = %q, want resolved", got.Outcome)
		}
		if got.IssueCategory != models.CategoryDNS {
			t.Errorf("IssueCategory = %q, want dns", got.IssueCategory)
		}
		if got.OSILayerResolved != 7 || got.Provider != "openai" || got.Model != "gpt-4o-mini" {
			t.Errorf("identity fields = %d/%s/%s", got.OSILayerResolved, got.Provider, got.Model)
		}
		if !got.HadFallback || got.PromptTokens != 1234 || got.CompletionTokens != 567 {
			t.Errorf("token fields wrong: %+v", got)
		}
		if got.MessageCount != 9 || got.UserMessageCount != 3 || got.ToolCallCount != 4 {
			t.Errorf("count fields wrong: %+v", got)
		}
		if got.EstimatedCostUSD != 0.5 || got.LLMTimeMS != 4200 || got.ToolTimeMS != 900 {
			t.Errorf("cost/time fields wrong: %+v", got)
		}
		if got.FeedbackScore != 5 || got.FeedbackComment != "fixed it" || got.Preview != "my wifi is down" {
			t.Errorf("feedback/preview fields wrong: %+v", got)
		}

		// Second upsert with the same id replaces the row.
		got.Outcome = models.OutcomeUnresolved
		got.MessageCount = 12
		if err := s.UpsertSession(ctx, got); err != nil {
			t.Fatalf("second UpsertSession: %v", err)
		}
		again, err := s.GetSession(ctx, "sess-1")
		if err != nil {
			t.Fatalf("GetSession after update: %v", err)
		}
		if again.Outcome != models.OutcomeUnresolved || again.MessageCount != 12 {
			t.Errorf("update not applied: outcome=%q messages=%d", again.Outcome, again.MessageCount)
		}
	})
}

func TestGetSessionMissing(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		if _, err := s.GetSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSession(missing) = %v, want ErrNotFound", err)
		}
	})
}

func TestListSessions(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "old", testBase, nil)
		seedSession(t, s, "mid", testBase.Add(time.Hour), func(sess *models.Session) {
			sess.Outcome = models.OutcomeResolved
		})
		seedSession(t, s, "new", testBase.Add(2*time.Hour), nil)

		all, err := s.ListSessions(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("ListSessions: %v", err)
		}
		gotIDs := make([]string, len(all))
		for i, sess := range all {
			gotIDs[i] = sess.ID
		}
		wantIDs := []string{"new", "mid", "old"}
		if len(gotIDs) != 3 || gotIDs[0] != wantIDs[0] || gotIDs[1] != wantIDs[1] || gotIDs[2] != wantIDs[2] {
			t.Errorf("ListSessions order = %v, want %v", gotIDs, wantIDs)
		}

		resolved, err := s.ListSessions(ctx, ListOptions{Outcome: models.OutcomeResolved})
		if err != nil {
			t.Fatalf("ListSessions(resolved): %v", err)
		}
		if len(resolved) != 1 || resolved[0].ID != "mid" {
			t.Errorf("resolved filter = %v, want [mid]", resolved)
		}

		page, err := s.ListSessions(ctx, ListOptions{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListSessions(page): %v", err)
		}
		if len(page) != 1 || page[0].ID != "mid" {
			t.Errorf("page = %v, want [mid]", page)
		}

		total, err := s.CountSessions(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("CountSessions: %v", err)
		}
		if total != 3 {
			t.Errorf("CountSessions = %d, want 3", total)
		}
		resolvedTotal, err := s.CountSessions(ctx, ListOptions{Outcome: models.OutcomeResolved, Limit: 1})
		if err != nil {
			t.Fatalf("CountSessions(resolved): %v", err)
		}
		if resolvedTotal != 1 {
			t.Errorf("CountSessions(resolved) = %d, want 1", resolvedTotal)
		}
	})
}

func TestDeleteSessionCascades(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "doomed", testBase, nil)

		if err := s.AppendMessage(ctx, &models.Message{SessionID: "doomed", Role: models.RoleUser, Content: "hi"}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if err := s.AppendEvent(ctx, &models.Event{SessionID: "doomed", Type: models.EventUserMessage}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if err := s.AppendToolEvent(ctx, &models.ToolEvent{SessionID: "doomed", ToolName: "ping_gateway", Success: true}); err != nil {
			t.Fatalf("AppendToolEvent: %v", err)
		}
		if err := s.SaveFeedback(ctx, &models.Feedback{SessionID: "doomed", Score: 4}); err != nil {
			t.Fatalf("SaveFeedback: %v", err)
		}
		if err := s.AddResolutionPath(ctx, &models.ResolutionPath{SessionID: "doomed", Path: []string{"ping_gateway"}, Success: true}); err != nil {
			t.Fatalf("AddResolutionPath: %v", err)
		}

		if err := s.DeleteSession(ctx, "doomed"); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}

		if _, err := s.GetSession(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("session still present after delete: %v", err)
		}
		if msgs, _ := s.GetMessages(ctx, "doomed"); len(msgs) != 0 {
			t.Errorf("messages survived delete: %v", msgs)
		}
		if events, _ := s.GetEvents(ctx, "doomed"); len(events) != 0 {
			t.Errorf("events survived delete: %v", events)
		}
		if events, _ := s.GetToolEvents(ctx, "doomed"); len(events) != 0 {
			t.Errorf("tool events survived delete: %v", events)
		}
		if _, err := s.GetFeedback(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("feedback survived delete: %v", err)
		}
		paths, err := s.CommonResolutionPaths(ctx, 10)
		if err != nil {
			t.Fatalf("CommonResolutionPaths: %v", err)
		}
		if len(paths) != 0 {
			t.Errorf("paths survived delete: %v", paths)
		}

		if err := s.DeleteSession(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete = %v, want ErrNotFound", err)
		}
	})
}

func TestMessagesKeepAppendOrder(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "chat", testBase, nil)

		// Identical timestamps on purpose: ordering must come from the
		// append sequence, not the clock.
		stamp := testBase.Add(time.Minute)
		contents := []string{"first", "second", "third", "fourth"}
		for _, content := range contents {
			msg := &models.Message{
				SessionID: "chat",
				Role:      models.RoleUser,
				Content:   content,
				CreatedAt: stamp,
			}
			if err := s.AppendMessage(ctx, msg); err != nil {
				t.Fatalf("AppendMessage(%s): %v", content, err)
			}
		}

		got, err := s.GetMessages(ctx, "chat")
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		if len(got) != len(contents) {
			t.Fatalf("got %d messages, want %d", len(got), len(contents))
		}
		for i, msg := range got {
			if msg.Content != contents[i] {
				t.Errorf("message[%d] = %q, want %q", i, msg.Content, contents[i])
			}
		}
	})
}

func TestMessageToolCallsRoundTrip(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "chat", testBase, nil)

		assistant := &models.Message{
			SessionID: "chat",
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "check_dns", Arguments: []byte(`{"domain":"example.com"}`)},
				{ID: "call-2", Name: "ping_gateway", Arguments: []byte(`{}`)},
			},
		}
		if err := s.AppendMessage(ctx, assistant); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		toolMsg := &models.Message{
			SessionID:  "chat",
			Role:       models.RoleTool,
			Content:    "resolved 2 addresses",
			ToolCallID: "call-1",
			ToolName:   "check_dns",
		}
		if err := s.AppendMessage(ctx, toolMsg); err != nil {
			t.Fatalf("AppendMessage(tool): %v", err)
		}

		got, err := s.GetMessages(ctx, "chat")
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d messages, want 2", len(got))
		}
		if len(got[0].ToolCalls) != 2 {
			t.Fatalf("got %d tool calls, want 2", len(got[0].ToolCalls))
		}
		if got[0].ToolCalls[0].ID != "call-1" || got[0].ToolCalls[0].Name != "check_dns" {
			t.Errorf("tool call[0] = %+v", got[0].ToolCalls[0])
		}
		args, err := got[0].ToolCalls[0].ArgumentsMap()
		if err != nil {
			t.Fatalf("ArgumentsMap: %v", err)
		}
		if args["domain"] != "example.com" {
			t.Errorf("arguments = %v", args)
		}
		if got[1].ToolCallID != "call-1" || got[1].ToolName != "check_dns" {
			t.Errorf("tool message linkage = %+v", got[1])
		}
	})
}

func TestEventsRoundTrip(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "sess", testBase, nil)

		events := []*models.Event{
			{SessionID: "sess", Type: models.EventLLMCall, DurationMS: 850, PromptTokens: 400, CompletionTokens: 60, Metadata: map[string]any{"provider": "openai"}, CreatedAt: testBase.Add(time.Second)},
			{SessionID: "sess", Type: models.EventToolCall, DurationMS: 120, Metadata: map[string]any{"tool": "check_dns"}, CreatedAt: testBase.Add(2 * time.Second)},
			{SessionID: "sess", Type: models.EventFallback, CreatedAt: testBase.Add(3 * time.Second)},
		}
		for _, event := range events {
			if err := s.AppendEvent(ctx, event); err != nil {
				t.Fatalf("AppendEvent(%s): %v", event.Type, err)
			}
		}

		got, err := s.GetEvents(ctx, "sess")
		if err != nil {
			t.Fatalf("GetEvents: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d events, want 3", len(got))
		}
		if got[0].Type != models.EventLLMCall || got[0].PromptTokens != 400 {
			t.Errorf("event[0] = %+v", got[0])
		}
		if got[0].Metadata["provider"] != "openai" {
			t.Errorf("metadata = %v", got[0].Metadata)
		}
		if got[2].Type != models.EventFallback {
			t.Errorf("event[2] = %+v", got[2])
		}
	})
}

func TestToolEventSummaryTruncated(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "sess", testBase, nil)

		event := &models.ToolEvent{
			SessionID:        "sess",
			ToolName:         "list_processes",
			Success:          true,
			ConsecutiveCount: 1,
			Arguments:        map[string]any{"limit": 10},
			ResultSummary:    strings.Repeat("x", 300),
		}
		if err := s.AppendToolEvent(ctx, event); err != nil {
			t.Fatalf("AppendToolEvent: %v", err)
		}

		got, err := s.GetToolEvents(ctx, "sess")
		if err != nil {
			t.Fatalf("GetToolEvents: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d events, want 1", len(got))
		}
		if len(got[0].ResultSummary) != models.ResultSummaryLimit {
			t.Errorf("summary length = %d, want %d", len(got[0].ResultSummary), models.ResultSummaryLimit)
		}
		if got[0].Arguments["limit"] != float64(10) && got[0].Arguments["limit"] != 10 {
			t.Errorf("arguments = %v", got[0].Arguments)
		}
	})
}

func TestFeedbackReplaces(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "sess", testBase, nil)

		if err := s.SaveFeedback(ctx, &models.Feedback{SessionID: "sess", Score: 2, Comment: "meh"}); err != nil {
			t.Fatalf("SaveFeedback(first): %v", err)
		}
		if err := s.SaveFeedback(ctx, &models.Feedback{SessionID: "sess", Score: 5, Comment: "great", Source: "cli"}); err != nil {
			t.Fatalf("SaveFeedback(second): %v", err)
		}

		got, err := s.GetFeedback(ctx, "sess")
		if err != nil {
			t.Fatalf("GetFeedback: %v", err)
		}
		if got.Score != 5 || got.Comment != "great" || got.Source != "cli" {
			t.Errorf("feedback = %+v, want replaced values", got)
		}

		if err := s.SaveFeedback(ctx, &models.Feedback{SessionID: "sess", Score: 0}); err == nil {
			t.Error("SaveFeedback(score 0) succeeded, want error")
		}
		if err := s.SaveFeedback(ctx, &models.Feedback{SessionID: "sess", Score: 6}); err == nil {
			t.Error("SaveFeedback(score 6) succeeded, want error")
		}
	})
}

func TestSessionSummary(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ended := testBase.Add(90 * time.Second)
		seedSession(t, s, "a", testBase, func(sess *models.Session) {
			sess.Outcome = models.OutcomeResolved
			sess.EndedAt = &ended
			sess.Provider = "openai"
			sess.PromptTokens = 1000
			sess.CompletionTokens = 200
			sess.MessageCount = 8
			sess.EstimatedCostUSD = 0.5
		})
		seedSession(t, s, "b", testBase.Add(time.Hour), func(sess *models.Session) {
			sess.Provider = "ollama"
			sess.PromptTokens = 500
			sess.CompletionTokens = 100
			sess.MessageCount = 4
		})
		seedSession(t, s, "c", testBase.Add(2*time.Hour), func(sess *models.Session) {
			sess.Outcome = models.OutcomeAbandoned
			sess.HadFallback = true
		})
		// Outside the window; must not count.
		seedSession(t, s, "d", testBase.Add(-48*time.Hour), func(sess *models.Session) {
			sess.Outcome = models.OutcomeResolved
			sess.Provider = "anthropic"
			sess.EstimatedCostUSD = 99
		})

		summary, err := s.SessionSummary(ctx, Window{
			Start: testBase.Add(-time.Hour),
			End:   testBase.Add(3 * time.Hour),
		})
		if err != nil {
			t.Fatalf("SessionSummary: %v", err)
		}
		if summary.TotalSessions != 3 {
			t.Errorf("TotalSessions = %d, want 3", summary.TotalSessions)
		}
		if summary.ByOutcome[models.OutcomeResolved] != 1 ||
			summary.ByOutcome[models.OutcomeInProgress] != 1 ||
			summary.ByOutcome[models.OutcomeAbandoned] != 1 {
			t.Errorf("ByOutcome = %v", summary.ByOutcome)
		}
		if summary.ByProvider["openai"] != 1 || summary.ByProvider["ollama"] != 1 || len(summary.ByProvider) != 2 {
			t.Errorf("ByProvider = %v", summary.ByProvider)
		}
		if summary.FallbackCount != 1 {
			t.Errorf("FallbackCount = %d, want 1", summary.FallbackCount)
		}
		if summary.AvgPromptTokens != 500 || summary.AvgCompletionTokens != 100 || summary.AvgMessages != 4 {
			t.Errorf("averages = %v/%v/%v, want 500/100/4",
				summary.AvgPromptTokens, summary.AvgCompletionTokens, summary.AvgMessages)
		}
		if summary.TotalCostUSD != 0.5 {
			t.Errorf("TotalCostUSD = %v, want 0.5", summary.TotalCostUSD)
		}
		if summary.AvgResolutionMS != 90000 {
			t.Errorf("AvgResolutionMS = %v, want 90000", summary.AvgResolutionMS)
		}
	})
}

func TestToolStats(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "a", testBase, nil)
		seedSession(t, s, "b", testBase.Add(time.Hour), nil)

		fixtures := []*models.ToolEvent{
			{SessionID: "a", ToolName: "ping_gateway", Success: true, DurationMS: 10, ConsecutiveCount: 1},
			{SessionID: "a", ToolName: "ping_gateway", Success: true, DurationMS: 20, IsRepeated: true, ConsecutiveCount: 2},
			{SessionID: "a", ToolName: "check_dns", Success: false, DurationMS: 5, Error: "lookup failed", ConsecutiveCount: 1},
			{SessionID: "b", ToolName: "ping_gateway", Success: true, DurationMS: 30, ConsecutiveCount: 1},
		}
		for _, event := range fixtures {
			if err := s.AppendToolEvent(ctx, event); err != nil {
				t.Fatalf("AppendToolEvent: %v", err)
			}
		}

		stats, err := s.ToolStats(ctx)
		if err != nil {
			t.Fatalf("ToolStats: %v", err)
		}
		if len(stats) != 2 {
			t.Fatalf("got %d tools, want 2", len(stats))
		}
		ping := stats[0]
		if ping.Tool != "ping_gateway" {
			t.Fatalf("stats[0] = %q, want ping_gateway first", ping.Tool)
		}
		if ping.Total != 3 || ping.Successes != 3 || ping.Failures != 0 {
			t.Errorf("ping counts = %d/%d/%d", ping.Total, ping.Successes, ping.Failures)
		}
		if ping.SuccessRate != 1 || ping.AvgDurationMS != 20 || ping.TotalDurationMS != 60 {
			t.Errorf("ping timing = %v/%v/%v", ping.SuccessRate, ping.AvgDurationMS, ping.TotalDurationMS)
		}
		if ping.LoopCount != 1 {
			t.Errorf("ping LoopCount = %d, want 1", ping.LoopCount)
		}
		dns := stats[1]
		if dns.Tool != "check_dns" || dns.Failures != 1 || dns.SuccessRate != 0 {
			t.Errorf("dns stats = %+v", dns)
		}
	})
}

func TestQualityMetrics(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "r1", testBase, func(sess *models.Session) {
			sess.Outcome = models.OutcomeResolved
			sess.MessageCount = 8
		})
		seedSession(t, s, "r2", testBase.Add(time.Hour), func(sess *models.Session) {
			sess.Outcome = models.OutcomeResolved
			sess.MessageCount = 4
		})
		seedSession(t, s, "gone", testBase.Add(2*time.Hour), func(sess *models.Session) {
			sess.Outcome = models.OutcomeAbandoned
		})
		seedSession(t, s, "live", testBase.Add(3*time.Hour), nil)

		loops := []*models.ToolEvent{
			{SessionID: "r1", ToolName: "ping_host", Success: true, IsRepeated: true, ConsecutiveCount: 2},
			{SessionID: "r1", ToolName: "ping_host", Success: true, IsRepeated: true, ConsecutiveCount: 3},
			{SessionID: "gone", ToolName: "check_dns", Success: false, IsRepeated: true, ConsecutiveCount: 2},
			{SessionID: "live", ToolName: "check_wifi", Success: true, ConsecutiveCount: 1},
		}
		for _, event := range loops {
			if err := s.AppendToolEvent(ctx, event); err != nil {
				t.Fatalf("AppendToolEvent: %v", err)
			}
		}

		quality, err := s.QualityMetrics(ctx)
		if err != nil {
			t.Fatalf("QualityMetrics: %v", err)
		}
		if quality.TotalSessions != 4 {
			t.Errorf("TotalSessions = %d, want 4", quality.TotalSessions)
		}
		if quality.AvgMessagesToResolution != 6 {
			t.Errorf("AvgMessagesToResolution = %v, want 6", quality.AvgMessagesToResolution)
		}
		if quality.SessionsWithLoops != 2 || quality.LoopOccurrences != 3 {
			t.Errorf("loops = %d sessions / %d occurrences, want 2/3",
				quality.SessionsWithLoops, quality.LoopOccurrences)
		}
		if quality.AbandonedSessions != 1 || quality.DropOffRate != 0.25 {
			t.Errorf("abandonment = %d at rate %v, want 1 at 0.25",
				quality.AbandonedSessions, quality.DropOffRate)
		}
	})
}

func TestCommonResolutionPaths(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSession(t, s, "a", testBase, nil)
		seedSession(t, s, "b", testBase.Add(time.Hour), nil)
		seedSession(t, s, "c", testBase.Add(2*time.Hour), nil)
		seedSession(t, s, "d", testBase.Add(3*time.Hour), nil)

		fixtures := []*models.ResolutionPath{
			{SessionID: "a", Path: []string{"ping_gateway", "check_dns"}, Success: true},
			{SessionID: "b", Path: []string{"ping_gateway", "check_dns"}, Success: true},
			{SessionID: "c", Path: []string{"check_wifi"}, Success: true},
			{SessionID: "d", Path: []string{"ping_host"}, Success: false},
		}
		for _, path := range fixtures {
			if err := s.AddResolutionPath(ctx, path); err != nil {
				t.Fatalf("AddResolutionPath: %v", err)
			}
		}

		paths, err := s.CommonResolutionPaths(ctx, 10)
		if err != nil {
			t.Fatalf("CommonResolutionPaths: %v", err)
		}
		if len(paths) != 2 {
			t.Fatalf("got %d paths, want 2 (failed path excluded)", len(paths))
		}
		if paths[0].Count != 2 || len(paths[0].Path) != 2 || paths[0].Path[0] != "ping_gateway" {
			t.Errorf("paths[0] = %+v", paths[0])
		}
		if paths[1].Count != 1 || len(paths[1].Path) != 1 || paths[1].Path[0] != "check_wifi" {
			t.Errorf("paths[1] = %+v", paths[1])
		}

		top, err := s.CommonResolutionPaths(ctx, 1)
		if err != nil {
			t.Fatalf("CommonResolutionPaths(1): %v", err)
		}
		if len(top) != 1 || top[0].Count != 2 {
			t.Errorf("limit 1 = %+v", top)
		}
	})
}

func TestCostByPeriod(t *testing.T) {
	runBothBackends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		day1 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		day2 := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)

		seedSession(t, s, "cloud-1", day1, func(sess *models.Session) {
			sess.Provider = "openai"
			sess.EstimatedCostUSD = 0.5
			sess.PromptTokens = 1000
			sess.CompletionTokens = 200
		})
		seedSession(t, s, "cloud-2", day1.Add(time.Hour), func(sess *models.Session) {
			sess.Provider = "openai"
			sess.EstimatedCostUSD = 0.5
			sess.PromptTokens = 1000
			sess.CompletionTokens = 200
		})
		seedSession(t, s, "cloud-3", day2, func(sess *models.Session) {
			sess.Provider = "anthropic"
			sess.EstimatedCostUSD = 0.25
			sess.PromptTokens = 500
			sess.CompletionTokens = 100
		})
		// Local and provider-less sessions never cost anything.
		seedSession(t, s, "local", day1, func(sess *models.Session) {
			sess.Provider = "ollama"
			sess.PromptTokens = 9999
		})
		seedSession(t, s, "blank", day1, nil)

		buckets, err := s.CostByPeriod(ctx, Window{}, GranularityDay)
		if err != nil {
			t.Fatalf("CostByPeriod: %v", err)
		}
		if len(buckets) != 2 {
			t.Fatalf("got %d buckets, want 2: %+v", len(buckets), buckets)
		}
		if buckets[0].Period != "2026-08-01" || buckets[0].Sessions != 2 || buckets[0].CostUSD != 1.0 {
			t.Errorf("buckets[0] = %+v", buckets[0])
		}
		if buckets[0].PromptTokens != 2000 || buckets[0].CompletionTokens != 400 {
			t.Errorf("buckets[0] tokens = %d/%d", buckets[0].PromptTokens, buckets[0].CompletionTokens)
		}
		if buckets[1].Period != "2026-08-02" || buckets[1].Sessions != 1 || buckets[1].CostUSD != 0.25 {
			t.Errorf("buckets[1] = %+v", buckets[1])
		}

		monthly, err := s.CostByPeriod(ctx, Window{}, GranularityMonth)
		if err != nil {
			t.Fatalf("CostByPeriod(month): %v", err)
		}
		if len(monthly) != 1 || monthly[0].Period != "2026-08" || monthly[0].Sessions != 3 {
			t.Errorf("monthly = %+v", monthly)
		}

		if _, err := s.CostByPeriod(ctx, Window{}, Granularity("hour")); err == nil {
			t.Error("CostByPeriod(hour) succeeded, want error")
		}
	})
}
