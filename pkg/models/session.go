package models

import (
	"time"
)

// Outcome describes how a diagnostic session ended, or that it has not.
type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeResolved   Outcome = "resolved"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeAbandoned  Outcome = "abandoned"
)

// Terminal reports whether the outcome implies the session has ended.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeResolved, OutcomeUnresolved, OutcomeAbandoned:
		return true
	}
	return false
}

// IssueCategory is the coarse problem class derived from the tools a
// session used.
type IssueCategory string

const (
	CategoryWiFi         IssueCategory = "wifi"
	CategoryDNS          IssueCategory = "dns"
	CategoryGateway      IssueCategory = "gateway"
	CategoryConnectivity IssueCategory = "connectivity"
	CategoryIPConfig     IssueCategory = "ip_config"
	CategoryAdapter      IssueCategory = "adapter"
	CategoryOther        IssueCategory = "other"
	CategoryUnknown      IssueCategory = "unknown"
)

// Session is one diagnostic conversation and its accumulated bookkeeping.
// Counters and durations only ever grow; mutation happens inside the
// store's per-session critical section.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   Outcome    `json:"outcome"`

	IssueCategory    IssueCategory `json:"issue_category"`
	OSILayerResolved int           `json:"osi_layer_resolved,omitempty"` // 1..7, 0 when unset

	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	HadFallback bool   `json:"had_fallback"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	MessageCount     int `json:"message_count"`
	UserMessageCount int `json:"user_message_count"`
	ToolCallCount    int `json:"tool_call_count"`

	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	LLMTimeMS        int64   `json:"llm_time_ms"`
	ToolTimeMS       int64   `json:"tool_time_ms"`

	FeedbackScore   int    `json:"feedback_score,omitempty"` // 1..5, 0 when none
	FeedbackComment string `json:"feedback_comment,omitempty"`

	Preview string `json:"preview,omitempty"`
}

// NewSession returns an in-progress session started now.
func NewSession(id string) *Session {
	return &Session{
		ID:            id,
		StartedAt:     time.Now().UTC(),
		Outcome:       OutcomeInProgress,
		IssueCategory: CategoryUnknown,
	}
}

// Ended reports whether the session has an end time.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// End marks the session finished with the given outcome. Calling it on an
// already-ended session changes nothing.
func (s *Session) End(outcome Outcome, at time.Time) {
	if s.Ended() {
		return
	}
	if !outcome.Terminal() {
		outcome = OutcomeAbandoned
	}
	t := at.UTC()
	s.EndedAt = &t
	s.Outcome = outcome
}

// TimeToResolution is end minus start, or zero while in progress.
func (s *Session) TimeToResolution() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// TouchOSILayer lowers osi_layer_resolved to the given layer if it is the
// lowest seen so far. Issues surface bottom-up, so the floor is the signal.
func (s *Session) TouchOSILayer(layer int) {
	if layer < 1 || layer > 7 {
		return
	}
	if s.OSILayerResolved == 0 || layer < s.OSILayerResolved {
		s.OSILayerResolved = layer
	}
}
