package ledger

import (
	"context"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Filter narrows attempt queries. Zero values match everything.
type Filter struct {
	IssueKey string
	From     time.Time
	To       time.Time
	Limit    int
}

// Ledger is the append-only history of issues and recovery attempts. It is
// the sole audit source for why the engine did what it did: every issue
// state transition and every attempt lands here before the in-memory state
// moves on, so a restarted instance resumes deterministically.
type Ledger interface {
	// RecordIssue persists a newly opened issue.
	RecordIssue(ctx context.Context, issue models.Issue) error

	// RecordTransition appends one lifecycle step.
	RecordTransition(ctx context.Context, tr models.IssueTransition) error

	// RecordAttempt appends one recovery attempt and feeds the ranker.
	RecordAttempt(ctx context.Context, attempt models.RecoveryAttempt) error

	// Attempts returns recorded attempts matching the filter, oldest first.
	Attempts(ctx context.Context, f Filter) ([]models.RecoveryAttempt, error)

	// ResumeRecovering returns issues whose last recorded state is not
	// terminal, with tried actions reconstructed from attempt history.
	ResumeRecovering(ctx context.Context) ([]models.Issue, error)

	// SuccessRate reports the decayed success probability for a
	// (rule, action) pair; ok is false without history.
	SuccessRate(rule, action string) (float64, bool)

	Close()
}

func matches(a models.RecoveryAttempt, f Filter) bool {
	if f.IssueKey != "" && a.IssueKey != f.IssueKey {
		return false
	}
	if !f.From.IsZero() && a.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.StartedAt.After(f.To) {
		return false
	}
	return true
}
