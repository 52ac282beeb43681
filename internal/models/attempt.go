package models

import "time"

// AttemptOutcome classifies how a recovery attempt finished.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
	OutcomeTimeout AttemptOutcome = "timeout"
)

// RecoveryAttempt is one execution of one actuator against one issue.
// Immutable once recorded.
type RecoveryAttempt struct {
	ID        string         `json:"id"`
	IssueID   string         `json:"issue_id"`
	IssueKey  string         `json:"issue_key"`
	Rule      string         `json:"rule"`
	Action    string         `json:"action"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`

	// Health score before and after, for the verifying snapshot delta.
	ScoreBefore float64 `json:"score_before"`
	ScoreAfter  float64 `json:"score_after"`

	// Manual marks operator-triggered attempts from the /recover endpoint.
	Manual bool `json:"manual,omitempty"`
}

// Succeeded reports whether the attempt resolved its issue.
func (a RecoveryAttempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}
