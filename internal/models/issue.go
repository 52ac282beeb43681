package models

import (
	"fmt"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for scheduling; higher means more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ValidSeverity reports whether s is one of the four known levels.
func ValidSeverity(s Severity) bool {
	return s.Rank() > 0
}

// IssueStatus tracks the lifecycle of a detected anomaly.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueRecovering IssueStatus = "recovering"
	IssueResolved   IssueStatus = "resolved"
	IssueEscalated  IssueStatus = "escalated"
	IssueFatal      IssueStatus = "fatal"
)

// Terminal reports whether the status admits no further transitions.
func (s IssueStatus) Terminal() bool {
	return s == IssueResolved || s == IssueFatal
}

// ValidIssueStatus reports whether s is one of the five lifecycle states.
func ValidIssueStatus(s IssueStatus) bool {
	switch s {
	case IssueOpen, IssueRecovering, IssueResolved, IssueEscalated, IssueFatal:
		return true
	}
	return false
}

// IssueKey derives the stable identity for a (rule, metric) condition so
// repeated detections correlate to one logical issue.
func IssueKey(rule, metric string) string {
	return fmt.Sprintf("%s/%s", rule, metric)
}

// Issue is a detected, tracked anomaly. Only the orchestrator mutates an
// Issue after creation; resolved and fatal issues are archived, never
// deleted.
type Issue struct {
	ID         string      `json:"id"`
	Key        string      `json:"key"`
	Rule       string      `json:"rule"`
	Metric     string      `json:"metric"`
	Severity   Severity    `json:"severity"`
	Status     IssueStatus `json:"status"`
	DetectedAt time.Time   `json:"detected_at"`
	LastSeenAt time.Time   `json:"last_seen_at"`
	ClosedAt   *time.Time  `json:"closed_at,omitempty"`

	// Actions is the ranked candidate list copied from the rule at
	// creation. Re-ranking happens only between attempts.
	Actions []string `json:"actions"`

	// Tried lists actions already attempted, in attempt order.
	Tried []string `json:"tried,omitempty"`

	// Emergency names the terminal actuator for critical escalation.
	Emergency string `json:"emergency,omitempty"`
}

// NextAction returns the first candidate not yet tried, or "" when the
// list is exhausted.
func (i *Issue) NextAction() string {
	for _, action := range i.Actions {
		if !i.Attempted(action) {
			return action
		}
	}
	return ""
}

// Attempted reports whether the action was already tried for this issue.
func (i *Issue) Attempted(action string) bool {
	for _, tried := range i.Tried {
		if tried == action {
			return true
		}
	}
	return false
}

// Clone returns an independent copy safe to hand to readers.
func (i *Issue) Clone() Issue {
	out := *i
	out.Actions = append([]string(nil), i.Actions...)
	out.Tried = append([]string(nil), i.Tried...)
	if i.ClosedAt != nil {
		closed := *i.ClosedAt
		out.ClosedAt = &closed
	}
	return out
}

// IssueTransition records one lifecycle step of an Issue. Every transition
// produces exactly one ledger entry.
type IssueTransition struct {
	IssueID  string      `json:"issue_id"`
	IssueKey string      `json:"issue_key"`
	From     IssueStatus `json:"from"`
	To       IssueStatus `json:"to"`
	At       time.Time   `json:"at"`
	Reason   string      `json:"reason,omitempty"`
}
