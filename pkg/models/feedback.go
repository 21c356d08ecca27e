package models

import "time"

// Feedback is a user rating of a session. A session holds at most one;
// resubmission replaces the prior row.
type Feedback struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Score     int       `json:"score"` // 1..5
	Comment   string    `json:"comment,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidScore reports whether the score is in the accepted 1..5 range.
func (f Feedback) ValidScore() bool {
	return f.Score >= 1 && f.Score <= 5
}

// ResolutionPath is the ordered sequence of tool names a session invoked,
// written once when the session ends and only if any tool ran.
type ResolutionPath struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Path      []string  `json:"path"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}
