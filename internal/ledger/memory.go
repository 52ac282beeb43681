package ledger

import (
	"context"
	"sync"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Memory is the in-process ledger used by default and in tests. Appends
// are atomic with respect to readers; readers always see complete records
// in completion order.
type Memory struct {
	mu          sync.RWMutex
	issues      map[string]models.Issue // by issue ID, last known state
	attempts    []models.RecoveryAttempt
	transitions []models.IssueTransition
	ranker      *ranker
}

// NewMemory creates an empty in-memory ledger with the given ranking decay.
func NewMemory(decay float64) *Memory {
	return &Memory{
		issues: make(map[string]models.Issue),
		ranker: newRanker(decay),
	}
}

// RecordIssue persists a newly opened issue.
func (m *Memory) RecordIssue(_ context.Context, issue models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[issue.ID] = issue.Clone()
	return nil
}

// RecordTransition appends one lifecycle step.
func (m *Memory) RecordTransition(_ context.Context, tr models.IssueTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions = append(m.transitions, tr)
	if issue, ok := m.issues[tr.IssueID]; ok {
		issue.Status = tr.To
		if tr.To.Terminal() {
			closed := tr.At
			issue.ClosedAt = &closed
		}
		m.issues[tr.IssueID] = issue
	}
	return nil
}

// RecordAttempt appends one recovery attempt and feeds the ranker.
func (m *Memory) RecordAttempt(_ context.Context, attempt models.RecoveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = append(m.attempts, attempt)
	if issue, ok := m.issues[attempt.IssueID]; ok && !issue.Attempted(attempt.Action) {
		issue.Tried = append(issue.Tried, attempt.Action)
		m.issues[attempt.IssueID] = issue
	}
	m.ranker.observe(attempt.Rule, attempt.Action, attempt.Outcome)
	return nil
}

// Attempts returns recorded attempts matching the filter, oldest first.
func (m *Memory) Attempts(_ context.Context, f Filter) ([]models.RecoveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RecoveryAttempt, 0, len(m.attempts))
	for _, attempt := range m.attempts {
		if matches(attempt, f) {
			out = append(out, attempt)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Transitions returns recorded lifecycle steps for an issue key, oldest
// first. An empty key matches every issue.
func (m *Memory) Transitions(_ context.Context, issueKey string) []models.IssueTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.IssueTransition, 0, len(m.transitions))
	for _, tr := range m.transitions {
		if issueKey == "" || tr.IssueKey == issueKey {
			out = append(out, tr)
		}
	}
	return out
}

// ResumeRecovering returns issues whose last recorded state is not terminal.
func (m *Memory) ResumeRecovering(_ context.Context) ([]models.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Issue
	for _, issue := range m.issues {
		if !issue.Status.Terminal() {
			out = append(out, issue.Clone())
		}
	}
	return out, nil
}

// SuccessRate reports the decayed success probability for a (rule, action) pair.
func (m *Memory) SuccessRate(rule, action string) (float64, bool) {
	return m.ranker.successRate(rule, action)
}

// Close is a no-op for the in-memory ledger.
func (m *Memory) Close() {}
