package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

func testIssue() models.Issue {
	return models.Issue{
		ID:         "iss-1",
		Key:        "cpu_spike/cpu_load",
		Rule:       "cpu_spike",
		Metric:     "cpu_load",
		Severity:   models.SeverityCritical,
		Status:     models.IssueEscalated,
		DetectedAt: time.Now().UTC().Add(-time.Minute),
	}
}

func TestEscalatedDeliversEvent(t *testing.T) {
	var got event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(nil, srv.URL, time.Second, 0)
	hook.Escalated(context.Background(), testIssue(), "retry budget exhausted")

	if got.Event != "issue.escalated" {
		t.Fatalf("event = %q", got.Event)
	}
	if got.IssueKey != "cpu_spike/cpu_load" || got.Severity != "critical" {
		t.Fatalf("issue fields wrong: %+v", got)
	}
	if got.Reason != "retry budget exhausted" {
		t.Fatalf("reason = %q", got.Reason)
	}
	if got.SentAt.IsZero() {
		t.Fatalf("sent_at not set")
	}
}

func TestEscalatedRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(nil, srv.URL, time.Second, 2)
	hook.Escalated(context.Background(), testIssue(), "flaky receiver")

	if n := calls.Load(); n != 2 {
		t.Fatalf("deliveries = %d, want 2", n)
	}
}

func TestEscalatedGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := NewWebhook(nil, srv.URL, time.Second, 1)
	// Must return rather than loop forever; failure is logged, not surfaced.
	hook.Escalated(context.Background(), testIssue(), "receiver down")

	if n := calls.Load(); n != 2 {
		t.Fatalf("deliveries = %d, want 2 (initial + one retry)", n)
	}
}

func TestEscalatedStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hook := NewWebhook(nil, srv.URL, time.Second, 5)

	done := make(chan struct{})
	go func() {
		hook.Escalated(ctx, testIssue(), "cancelled mid-retry")
		close(done)
	}()

	// Let the first delivery fail, then cancel before the backoff expires.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Escalated did not return after cancellation")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}
