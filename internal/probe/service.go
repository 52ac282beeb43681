package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// ServiceProbe checks reachability of an HTTP endpoint and reports a
// service state: 2xx is UP, 5xx is DEGRADED, anything unreachable is DOWN.
type ServiceProbe struct {
	Service string
	URL     string
	Client  *http.Client
}

// NewServiceProbe builds a reachability probe for the named service.
func NewServiceProbe(service, url string, timeout time.Duration) *ServiceProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ServiceProbe{
		Service: service,
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (p *ServiceProbe) Name() string {
	return fmt.Sprintf("service_%s", p.Service)
}

func (p *ServiceProbe) Sample(ctx context.Context) (models.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return models.Unknown(), fmt.Errorf("build request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		// Unreachable is a valid observation, not a probe failure.
		return models.State(models.StateDown), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return models.State(models.StateUp), nil
	case resp.StatusCode >= 500:
		return models.State(models.StateDegraded), nil
	default:
		return models.State(models.StateDown), nil
	}
}
