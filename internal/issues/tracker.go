package issues

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Tracker owns issue lifecycle state. Detections for an already-open
// condition refresh its last-seen timestamp instead of duplicating the
// issue; terminal issues move to a bounded archive and are never reopened
// in place. The same condition recurring later becomes a new issue.
type Tracker struct {
	mu         sync.RWMutex
	open       map[string]*models.Issue
	archive    []models.Issue
	maxArchive int
}

// NewTracker returns an empty tracker retaining up to maxArchive closed issues.
func NewTracker(maxArchive int) *Tracker {
	if maxArchive <= 0 {
		maxArchive = 512
	}
	return &Tracker{
		open:       make(map[string]*models.Issue),
		maxArchive: maxArchive,
	}
}

// Observe records a detection. If the condition is already open or
// recovering, the existing issue is refreshed and returned with created
// false; otherwise a new open issue is created.
func (t *Tracker) Observe(d models.Detection, now time.Time) (models.Issue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := d.Key()
	if existing, ok := t.open[key]; ok {
		existing.LastSeenAt = now
		return existing.Clone(), false
	}

	issue := &models.Issue{
		ID:         uuid.NewString(),
		Key:        key,
		Rule:       d.Rule,
		Metric:     d.Metric,
		Severity:   d.Severity,
		Status:     models.IssueOpen,
		DetectedAt: now,
		LastSeenAt: now,
		Actions:    append([]string(nil), d.Actions...),
		Emergency:  d.Emergency,
	}
	t.open[key] = issue
	return issue.Clone(), true
}

// Restore re-registers an issue reconstructed from the ledger after a
// restart. It is ignored when the condition is already tracked.
func (t *Tracker) Restore(issue models.Issue) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.open[issue.Key]; ok || issue.Status.Terminal() {
		return false
	}
	restored := issue.Clone()
	t.open[issue.Key] = &restored
	return true
}

// Get returns the tracked issue for key, falling back to the most recent
// archived issue with that key.
func (t *Tracker) Get(key string) (models.Issue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if issue, ok := t.open[key]; ok {
		return issue.Clone(), true
	}
	for i := len(t.archive) - 1; i >= 0; i-- {
		if t.archive[i].Key == key {
			return t.archive[i].Clone(), true
		}
	}
	return models.Issue{}, false
}

// List returns issues matching the status filter; an empty filter returns
// everything, open issues first.
func (t *Tracker) List(status models.IssueStatus) []models.Issue {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Issue, 0, len(t.open)+len(t.archive))
	for _, issue := range t.open {
		if status == "" || issue.Status == status {
			out = append(out, issue.Clone())
		}
	}
	for _, issue := range t.archive {
		if status == "" || issue.Status == status {
			out = append(out, issue.Clone())
		}
	}
	return out
}

// OpenCount reports the number of non-terminal issues.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

// Transition moves the issue for key into status to and returns the
// updated issue plus the transition record. Illegal transitions are
// rejected so every lifecycle step stays auditable.
func (t *Tracker) Transition(key string, to models.IssueStatus, reason string, now time.Time) (models.Issue, models.IssueTransition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue, ok := t.open[key]
	if !ok {
		return models.Issue{}, models.IssueTransition{}, fmt.Errorf("no active issue for %q", key)
	}
	if !legalTransition(issue.Status, to) {
		return models.Issue{}, models.IssueTransition{}, fmt.Errorf("issue %q: illegal transition %s -> %s", key, issue.Status, to)
	}

	transition := models.IssueTransition{
		IssueID:  issue.ID,
		IssueKey: issue.Key,
		From:     issue.Status,
		To:       to,
		At:       now,
		Reason:   reason,
	}

	issue.Status = to
	if to.Terminal() {
		closed := now
		issue.ClosedAt = &closed
		t.archiveLocked(*issue)
		delete(t.open, key)
	}

	return issue.Clone(), transition, nil
}

// MarkTried appends action to the issue's attempted list.
func (t *Tracker) MarkTried(key, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if issue, ok := t.open[key]; ok && !issue.Attempted(action) {
		issue.Tried = append(issue.Tried, action)
	}
}

// SetActions replaces the candidate order. Only called between attempts,
// never while one is in flight.
func (t *Tracker) SetActions(key string, actions []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if issue, ok := t.open[key]; ok {
		issue.Actions = append([]string(nil), actions...)
	}
}

// ResetTried clears attempt history, used when policy permits restarting
// an exhausted candidate list.
func (t *Tracker) ResetTried(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if issue, ok := t.open[key]; ok {
		issue.Tried = nil
	}
}

func (t *Tracker) archiveLocked(issue models.Issue) {
	t.archive = append(t.archive, issue)
	if len(t.archive) > t.maxArchive {
		t.archive = append([]models.Issue(nil), t.archive[len(t.archive)-t.maxArchive:]...)
	}
}

func legalTransition(from, to models.IssueStatus) bool {
	switch from {
	case models.IssueOpen:
		return to == models.IssueRecovering
	case models.IssueRecovering:
		return to == models.IssueResolved || to == models.IssueEscalated
	case models.IssueEscalated:
		return to == models.IssueRecovering || to == models.IssueFatal || to == models.IssueResolved
	default:
		return false
	}
}
