package analytics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/internal/store"
	"github.com/netmedic/netmedic/internal/tools"
	"github.com/netmedic/netmedic/pkg/models"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	return New(Config{Store: st}), st
}

func beginSession(t *testing.T, r *Recorder, id string) *models.Session {
	t.Helper()
	session := models.NewSession(id)
	if err := r.Begin(context.Background(), session); err != nil {
		t.Fatalf("Begin(%s): %v", id, err)
	}
	return session
}

func TestBeginPersistsSession(t *testing.T) {
	r, st := newTestRecorder(t)
	beginSession(t, r, "sess")

	got, err := st.GetSession(context.Background(), "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Outcome != models.OutcomeInProgress {
		t.Errorf("Outcome = %q, want in_progress", got.Outcome)
	}

	// A second Begin for the same session must not reset anything.
	if err := r.Begin(context.Background(), got); err != nil {
		t.Fatalf("second Begin: %v", err)
	}
}

func TestAddMessageCountsAndPreview(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	beginSession(t, r, "sess")

	long := strings.Repeat("w", 100)
	if err := r.AddMessage(ctx, &models.Message{SessionID: "sess", Role: models.RoleUser, Content: long}); err != nil {
		t.Fatalf("AddMessage(user): %v", err)
	}
	if err := r.AddMessage(ctx, &models.Message{SessionID: "sess", Role: models.RoleAssistant, Content: "let me check"}); err != nil {
		t.Fatalf("AddMessage(assistant): %v", err)
	}
	if err := r.AddMessage(ctx, &models.Message{SessionID: "sess", Role: models.RoleTool, Content: "ok", ToolCallID: "c1", ToolName: "ping_gateway"}); err != nil {
		t.Fatalf("AddMessage(tool): %v", err)
	}

	session, err := st.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.MessageCount != 3 || session.UserMessageCount != 1 {
		t.Errorf("counts = %d total / %d user, want 3/1", session.MessageCount, session.UserMessageCount)
	}
	if len(session.Preview) != previewLimit || !strings.HasSuffix(session.Preview, "...") {
		t.Errorf("Preview = %q (len %d), want %d runes ending in ...", session.Preview, len(session.Preview), previewLimit)
	}

	events, err := st.GetEvents(ctx, "sess")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	var userEvents, assistantEvents int
	for _, event := range events {
		switch event.Type {
		case models.EventUserMessage:
			userEvents++
		case models.EventAssistantMessage:
			assistantEvents++
		}
	}
	if userEvents != 1 || assistantEvents != 1 {
		t.Errorf("message events = %d user / %d assistant, want 1/1", userEvents, assistantEvents)
	}

	messages, err := st.GetMessages(ctx, "sess")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != 3 {
		t.Errorf("stored messages = %d, want 3", len(messages))
	}
}

func TestRecordLLMCallAggregates(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	beginSession(t, r, "sess")

	r.RecordLLMCall(ctx, agent.LLMCall{
		SessionID:        "sess",
		Provider:         "openai",
		Model:            "gpt-4o",
		Duration:         1200 * time.Millisecond,
		PromptTokens:     1000,
		CompletionTokens: 500,
	})

	session, err := st.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Provider != "openai" || session.Model != "gpt-4o" {
		t.Errorf("stamped provider/model = %s/%s", session.Provider, session.Model)
	}
	if session.PromptTokens != 1000 || session.CompletionTokens != 500 || session.LLMTimeMS != 1200 {
		t.Errorf("aggregates = %d/%d tokens, %dms", session.PromptTokens, session.CompletionTokens, session.LLMTimeMS)
	}
	wantCost := float64(1000)/1e6*2.50 + float64(500)/1e6*10.00
	if session.EstimatedCostUSD != wantCost {
		t.Errorf("EstimatedCostUSD = %v, want %v", session.EstimatedCostUSD, wantCost)
	}

	events, err := st.GetEvents(ctx, "sess")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventLLMCall {
		t.Fatalf("events = %+v, want one llm-call", events)
	}
	if events[0].PromptTokens != 1000 || events[0].DurationMS != 1200 {
		t.Errorf("llm-call event = %+v", events[0])
	}
	if events[0].Metadata["provider"] != "openai" {
		t.Errorf("metadata = %v", events[0].Metadata)
	}
}

func TestRecordFallbackSetsFlag(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	beginSession(t, r, "sess")

	r.RecordFallback(ctx, agent.Fallback{
		SessionID: "sess",
		From:      "openai",
		To:        "ollama",
		Reason:    agent.FallbackReasonOffline,
	})

	session, err := st.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !session.HadFallback {
		t.Error("HadFallback not set")
	}

	events, err := st.GetEvents(ctx, "sess")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.EventFallback {
		t.Fatalf("events = %+v, want one fallback", events)
	}
	if events[0].Metadata["reason"] != agent.FallbackReasonOffline {
		t.Errorf("metadata = %v", events[0].Metadata)
	}
}

func TestRecordToolCallRepeatDetection(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	beginSession(t, r, "sess")

	calls := []string{"ping_gateway", "ping_gateway", "check_dns"}
	for _, tool := range calls {
		r.RecordToolCall(ctx, tools.Observation{
			SessionID: "sess",
			Tool:      tool,
			Duration:  100 * time.Millisecond,
			Success:   true,
			Summary:   "ok",
		})
	}

	events, err := st.GetToolEvents(ctx, "sess")
	if err != nil {
		t.Fatalf("GetToolEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d tool events, want 3", len(events))
	}
	wantRepeated := []bool{false, true, false}
	wantConsecutive := []int{1, 2, 1}
	for i, event := range events {
		if event.IsRepeated != wantRepeated[i] || event.ConsecutiveCount != wantConsecutive[i] {
			t.Errorf("event[%d] repeated=%v count=%d, want %v/%d",
				i, event.IsRepeated, event.ConsecutiveCount, wantRepeated[i], wantConsecutive[i])
		}
	}

	session, err := st.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.ToolCallCount != 3 || session.ToolTimeMS != 300 {
		t.Errorf("tool aggregates = %d calls / %dms, want 3/300", session.ToolCallCount, session.ToolTimeMS)
	}

	path := r.ToolPath("sess")
	if len(path) != 3 || path[0] != "ping_gateway" || path[2] != "check_dns" {
		t.Errorf("ToolPath = %v", path)
	}
}

func TestRepeatStateSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	first := New(Config{Store: st})
	session := models.NewSession("sess")
	if err := first.Begin(ctx, session); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	first.RecordToolCall(ctx, tools.Observation{SessionID: "sess", Tool: "ping_host", Success: true})
	first.RecordToolCall(ctx, tools.Observation{SessionID: "sess", Tool: "ping_host", Success: true})

	// New recorder over the same store, as after a process restart.
	second := New(Config{Store: st})
	resumed, err := st.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if err := second.Begin(ctx, resumed); err != nil {
		t.Fatalf("Begin(resumed): %v", err)
	}
	second.RecordToolCall(ctx, tools.Observation{SessionID: "sess", Tool: "ping_host", Success: true})

	events, err := st.GetToolEvents(ctx, "sess")
	if err != nil {
		t.Fatalf("GetToolEvents: %v", err)
	}
	last := events[len(events)-1]
	if !last.IsRepeated || last.ConsecutiveCount != 3 {
		t.Errorf("after restart repeated=%v count=%d, want true/3", last.IsRepeated, last.ConsecutiveCount)
	}
}

func TestEndWritesResolutionPath(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	beginSession(t, r, "sess")

	r.RecordToolCall(ctx, tools.Observation{SessionID: "sess", Tool: "check_wifi", Success: true})
	r.RecordToolCall(ctx, tools.Observation{SessionID: "sess", Tool: "flush_dns", Success: true})

	if err := r.End(ctx, "sess", models.OutcomeResolved); err != nil {
		t.Fatalf("End: %v", err)
	}

	session, err := st.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Outcome != models.OutcomeResolved || session.EndedAt == nil {
		t.Errorf("session not closed: %+v", session)
	}

	paths, err := st.CommonResolutionPaths(ctx, 10)
	if err != nil {
		t.Fatalf("CommonResolutionPaths: %v", err)
	}
	if len(paths) != 1 || len(paths[0].Path) != 2 || paths[0].Path[0] != "check_wifi" || paths[0].Path[1] != "flush_dns" {
		t.Errorf("paths = %+v", paths)
	}

	if got := r.ToolPath("sess"); got != nil {
		t.Errorf("live state survived End: %v", got)
	}
}

func TestEndWithoutToolsWritesNoPath(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()
	beginSession(t, r, "sess")

	if err := r.End(ctx, "sess", models.OutcomeUnresolved); err != nil {
		t.Fatalf("End: %v", err)
	}
	paths, err := st.CommonResolutionPaths(ctx, 10)
	if err != nil {
		t.Fatalf("CommonResolutionPaths: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("paths = %+v, want none", paths)
	}
}

func TestSweepStaleAbandonsIdleSessions(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	// Live but idle for an hour.
	beginSession(t, r, "idle")
	r.mu.Lock()
	r.live["idle"].lastActivity = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	// Left over from a crashed process: in the store, never live here.
	stale := models.NewSession("crashed")
	stale.StartedAt = time.Now().Add(-2 * time.Hour)
	if err := st.UpsertSession(ctx, stale); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	// Fresh activity; must survive.
	beginSession(t, r, "active")

	swept, err := r.SweepStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if swept != 2 {
		t.Errorf("swept = %d, want 2", swept)
	}

	for _, id := range []string{"idle", "crashed"} {
		session, err := st.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("GetSession(%s): %v", id, err)
		}
		if session.Outcome != models.OutcomeAbandoned || session.EndedAt == nil {
			t.Errorf("session %s = %q ended=%v, want abandoned+ended", id, session.Outcome, session.EndedAt)
		}
	}

	active, err := st.GetSession(ctx, "active")
	if err != nil {
		t.Fatalf("GetSession(active): %v", err)
	}
	if active.Outcome != models.OutcomeInProgress {
		t.Errorf("active session = %q, want in_progress", active.Outcome)
	}
}

func TestRecordToolCallWithoutSessionIsDropped(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	r.RecordToolCall(ctx, tools.Observation{Tool: "ping_gateway", Success: true})

	sessions, err := st.ListSessions(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions = %v, want none", sessions)
	}
}
