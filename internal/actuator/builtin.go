package actuator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// CommandActuator runs a local command. Deployments register one per
// remediation they want available (service restart, cache flush, ...); the
// engine never hardcodes shell commands itself.
type CommandActuator struct {
	ActionName string
	Command    string
	Args       []string
}

func (c *CommandActuator) Name() string { return c.ActionName }

func (c *CommandActuator) Apply(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("%s %s: %w: %s", c.Command, strings.Join(c.Args, " "), err, detail)
		}
		return fmt.Errorf("%s %s: %w", c.Command, strings.Join(c.Args, " "), err)
	}
	return nil
}

// WebhookActuator POSTs a fixed JSON body to a remediation endpoint, for
// deployments where recovery is driven by an external controller.
type WebhookActuator struct {
	ActionName string
	URL        string
	Body       string
	Client     *http.Client
}

// NewWebhookActuator builds a webhook-backed actuator.
func NewWebhookActuator(name, url, body string, timeout time.Duration) *WebhookActuator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookActuator{
		ActionName: name,
		URL:        url,
		Body:       body,
		Client:     &http.Client{Timeout: timeout},
	}
}

func (w *WebhookActuator) Name() string { return w.ActionName }

func (w *WebhookActuator) Apply(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewBufferString(w.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", w.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", w.URL, resp.StatusCode)
	}
	return nil
}
