package issues

import (
	"testing"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

func detection() models.Detection {
	return models.Detection{
		Rule:     "cpu_spike",
		Metric:   "cpu_load_pct",
		Severity: models.SeverityCritical,
		Actions:  []string{"restart", "clear_cache"},
	}
}

func TestObserveDebouncesRepeatedDetections(t *testing.T) {
	tracker := NewTracker(0)
	base := time.Now().UTC()

	first, created := tracker.Observe(detection(), base)
	if !created {
		t.Fatalf("first detection should create an issue")
	}

	// Twelve more ticks of the same condition: still one issue.
	for i := 1; i <= 12; i++ {
		issue, created := tracker.Observe(detection(), base.Add(time.Duration(i)*30*time.Second))
		if created {
			t.Fatalf("tick %d created a duplicate issue", i)
		}
		if issue.ID != first.ID {
			t.Fatalf("tick %d returned a different issue", i)
		}
	}

	if got := tracker.OpenCount(); got != 1 {
		t.Fatalf("expected 1 open issue, got %d", got)
	}
	refreshed, _ := tracker.Get(first.Key)
	if !refreshed.LastSeenAt.After(first.LastSeenAt) {
		t.Fatalf("last-seen timestamp not refreshed")
	}
}

func TestTransitionLifecycle(t *testing.T) {
	tracker := NewTracker(0)
	now := time.Now().UTC()
	issue, _ := tracker.Observe(detection(), now)

	tests := []struct {
		to     models.IssueStatus
		reason string
	}{
		{models.IssueRecovering, "scheduled"},
		{models.IssueEscalated, "exhausted"},
		{models.IssueRecovering, "cooldown retry"},
		{models.IssueResolved, "verified"},
	}
	for _, tc := range tests {
		updated, tr, err := tracker.Transition(issue.Key, tc.to, tc.reason, now)
		if err != nil {
			t.Fatalf("transition to %s: %v", tc.to, err)
		}
		if updated.Status != tc.to || tr.To != tc.to {
			t.Fatalf("transition to %s not applied", tc.to)
		}
	}

	if got := tracker.OpenCount(); got != 0 {
		t.Fatalf("resolved issue still counted open: %d", got)
	}
	archived, ok := tracker.Get(issue.Key)
	if !ok || archived.Status != models.IssueResolved || archived.ClosedAt == nil {
		t.Fatalf("resolved issue not archived: %+v", archived)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	tracker := NewTracker(0)
	now := time.Now().UTC()
	issue, _ := tracker.Observe(detection(), now)

	for _, to := range []models.IssueStatus{models.IssueResolved, models.IssueEscalated, models.IssueFatal} {
		if _, _, err := tracker.Transition(issue.Key, to, "", now); err == nil {
			t.Fatalf("open -> %s should be illegal", to)
		}
	}

	if _, _, err := tracker.Transition("missing/metric", models.IssueRecovering, "", now); err == nil {
		t.Fatalf("transition of unknown issue should fail")
	}
}

func TestResolvedIssueIsNotReopenedInPlace(t *testing.T) {
	tracker := NewTracker(0)
	now := time.Now().UTC()

	issue, _ := tracker.Observe(detection(), now)
	if _, _, err := tracker.Transition(issue.Key, models.IssueRecovering, "", now); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tracker.Transition(issue.Key, models.IssueResolved, "", now); err != nil {
		t.Fatal(err)
	}

	// The same condition detected again becomes a NEW issue; the archived
	// record stays resolved.
	reopened, created := tracker.Observe(detection(), now.Add(time.Minute))
	if !created {
		t.Fatalf("recurrence after resolution should create a new issue")
	}
	if reopened.ID == issue.ID {
		t.Fatalf("archived issue reopened in place")
	}

	resolved := tracker.List(models.IssueResolved)
	if len(resolved) != 1 || resolved[0].ID != issue.ID {
		t.Fatalf("archived record lost: %+v", resolved)
	}
}

func TestRestoreSkipsTrackedAndTerminal(t *testing.T) {
	tracker := NewTracker(0)
	now := time.Now().UTC()

	stale := models.Issue{
		ID: "abc", Key: models.IssueKey("cpu_spike", "cpu_load_pct"),
		Rule: "cpu_spike", Metric: "cpu_load_pct",
		Severity: models.SeverityCritical, Status: models.IssueRecovering,
		DetectedAt: now, LastSeenAt: now,
		Actions: []string{"restart"}, Tried: []string{"restart"},
	}
	if !tracker.Restore(stale) {
		t.Fatalf("restore of untracked issue should succeed")
	}
	if tracker.Restore(stale) {
		t.Fatalf("restore of already-tracked key should be ignored")
	}

	terminal := stale
	terminal.ID = "def"
	terminal.Key = "other/metric"
	terminal.Status = models.IssueResolved
	if tracker.Restore(terminal) {
		t.Fatalf("terminal issue must not be restored")
	}
}

func TestMarkTriedAndReset(t *testing.T) {
	tracker := NewTracker(0)
	now := time.Now().UTC()
	issue, _ := tracker.Observe(detection(), now)

	tracker.MarkTried(issue.Key, "restart")
	tracker.MarkTried(issue.Key, "restart") // idempotent

	got, _ := tracker.Get(issue.Key)
	if len(got.Tried) != 1 || got.NextAction() != "clear_cache" {
		t.Fatalf("tried bookkeeping wrong: %+v", got.Tried)
	}

	tracker.ResetTried(issue.Key)
	got, _ = tracker.Get(issue.Key)
	if got.NextAction() != "restart" {
		t.Fatalf("reset should restore the full candidate list")
	}
}
