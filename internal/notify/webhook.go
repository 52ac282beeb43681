package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Webhook delivers escalation events as JSON POSTs. Delivery is
// best-effort: a webhook outage must never stall the recovery loop, so
// failures after the retry budget are logged and dropped.
type Webhook struct {
	url        string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
}

// event is the payload shape consumers receive.
type event struct {
	Event      string    `json:"event"`
	IssueID    string    `json:"issue_id"`
	IssueKey   string    `json:"issue_key"`
	Rule       string    `json:"rule"`
	Metric     string    `json:"metric"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
	SentAt     time.Time `json:"sent_at"`
}

// NewWebhook builds a webhook notifier posting to url.
func NewWebhook(logger *slog.Logger, url string, timeout time.Duration, maxRetries int) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Webhook{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Escalated posts an escalation event, retrying transient failures with a
// doubling backoff.
func (w *Webhook) Escalated(ctx context.Context, issue models.Issue, reason string) {
	payload := event{
		Event:      "issue.escalated",
		IssueID:    issue.ID,
		IssueKey:   issue.Key,
		Rule:       issue.Rule,
		Metric:     issue.Metric,
		Severity:   string(issue.Severity),
		Status:     string(issue.Status),
		Reason:     reason,
		DetectedAt: issue.DetectedAt,
		SentAt:     time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("marshal escalation event", slog.Any("error", err))
		return
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if lastErr = w.deliver(ctx, body); lastErr == nil {
			w.logger.Info("escalation delivered",
				slog.String("issue", issue.Key),
				slog.String("severity", string(issue.Severity)))
			return
		}
	}

	w.logger.Error("escalation delivery failed",
		slog.String("issue", issue.Key),
		slog.Int("retries", w.maxRetries),
		slog.Any("error", lastErr))
}

func (w *Webhook) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
