package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigilstack/vigil-heal/internal/engine"
	"github.com/vigilstack/vigil-heal/internal/issues"
	"github.com/vigilstack/vigil-heal/internal/ledger"
	"github.com/vigilstack/vigil-heal/internal/metrics"
	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/orchestrator"
	"github.com/vigilstack/vigil-heal/internal/snapshot"
	"github.com/vigilstack/vigil-heal/internal/trend"
	"github.com/vigilstack/vigil-heal/internal/utils"
)

// Service ties the monitoring loop to the diagnostic and recovery
// components and backs every API operation.
type Service struct {
	logger  *slog.Logger
	builder *snapshot.Builder
	trends  *trend.Store
	engine  *engine.Engine
	tracker *issues.Tracker
	orch    *orchestrator.Orchestrator
	ledger  ledger.Ledger
	scorer  *Scorer

	mu       sync.Mutex
	interval time.Duration
	reload   chan struct{}
}

// New wires the service facade.
func New(
	logger *slog.Logger,
	builder *snapshot.Builder,
	trends *trend.Store,
	eng *engine.Engine,
	tracker *issues.Tracker,
	orch *orchestrator.Orchestrator,
	led ledger.Ledger,
	scorer *Scorer,
	interval time.Duration,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		logger:   logger,
		builder:  builder,
		trends:   trends,
		engine:   eng,
		tracker:  tracker,
		orch:     orch,
		ledger:   led,
		scorer:   scorer,
		interval: interval,
		reload:   make(chan struct{}, 1),
	}
}

// Run drives the monitoring loop until ctx is cancelled. An interval
// update takes effect on the next pass.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.currentInterval())
	defer ticker.Stop()

	s.logger.Info("monitor loop started", slog.Duration("interval", s.currentInterval()))

	// First pass immediately, not one interval in.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor loop stopped")
			return
		case <-s.reload:
			ticker.Reset(s.currentInterval())
			s.logger.Info("monitor interval updated", slog.Duration("interval", s.currentInterval()))
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	snap, err := s.builder.Build(ctx)
	if err != nil {
		s.logger.Error("snapshot build failed", slog.Any("error", err))
		return
	}

	s.trends.Append(snap)
	metrics.SetHealthScore(s.scorer.Score(snap))

	for _, d := range s.engine.Evaluate(snap, s.trends) {
		issue, created := s.tracker.Observe(d, snap.TakenAt)
		if !created {
			continue
		}

		metrics.ObserveIssueOpened(string(issue.Severity))
		if err := s.ledger.RecordIssue(ctx, issue); err != nil {
			s.logger.Error("ledger append failed", slog.String("issue", issue.Key), slog.Any("error", err))
		}
		s.logger.Warn("issue opened",
			slog.String("issue", issue.Key),
			slog.String("severity", string(issue.Severity)),
			slog.String("metric", issue.Metric))

		s.orch.Enqueue(issue)
	}

	metrics.SetOpenIssues(s.tracker.OpenCount())
}

// StatusReport is the response shape of the status operation.
type StatusReport struct {
	Score      float64        `json:"score"`
	SampledAt  time.Time      `json:"sampled_at"`
	OpenIssues []models.Issue `json:"open_issues"`
}

// Status reports the health score of the latest snapshot plus all
// non-terminal issues. It serves from the trend store; only before the
// first monitoring pass does it sample the probes itself.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	latest, ok := s.trends.Latest()
	if !ok {
		var err error
		latest, err = s.builder.Build(ctx)
		if err != nil {
			return StatusReport{}, err
		}
	}

	open := make([]models.Issue, 0)
	for _, issue := range s.tracker.List("") {
		if !issue.Status.Terminal() {
			open = append(open, issue)
		}
	}

	return StatusReport{
		Score:      s.scorer.Score(latest),
		SampledAt:  latest.TakenAt,
		OpenIssues: open,
	}, nil
}

// HealthCheck builds a fresh snapshot on demand, optionally restricted to
// the named probes. It bypasses the timer and does not touch the trend
// store, so on-demand diagnostics never skew sustained-threshold windows.
func (s *Service) HealthCheck(ctx context.Context, probes []string) (models.HealthSnapshot, error) {
	return s.builder.Build(ctx, probes...)
}

// Recover triggers recovery for an issue by identity key, optionally
// forcing a specific action. Coalesced behind any in-flight attempt.
func (s *Service) Recover(ctx context.Context, key, action string) (models.RecoveryAttempt, error) {
	return s.orch.TriggerManual(ctx, key, action)
}

// Issues lists tracked issues, optionally filtered by status.
func (s *Service) Issues(status string) ([]models.Issue, error) {
	if status != "" && !models.ValidIssueStatus(models.IssueStatus(status)) {
		return nil, fmt.Errorf("%w: unknown issue status %q", utils.ErrConfig, status)
	}
	return s.tracker.List(models.IssueStatus(status)), nil
}

// History returns recovery attempts matching the filter.
func (s *Service) History(ctx context.Context, f ledger.Filter) ([]models.RecoveryAttempt, error) {
	return s.ledger.Attempts(ctx, f)
}

// ConfigUpdate is the payload of the config operation. Zero-valued fields
// leave the running setting untouched; rule packs arrive as YAML so the
// file format and the API format stay identical.
type ConfigUpdate struct {
	Interval     string `json:"interval"`
	ProbeTimeout string `json:"probe_timeout"`
	RulesYAML    string `json:"rules_yaml"`
}

// UpdateConfig applies a runtime configuration change. Updates take
// effect on the next evaluation pass and never reclassify existing
// issues. A malformed update is rejected wholesale; the running
// configuration stays active.
func (s *Service) UpdateConfig(upd ConfigUpdate) error {
	var interval, probeTimeout time.Duration
	var rules []engine.Rule
	var err error

	if upd.Interval != "" {
		if interval, err = time.ParseDuration(upd.Interval); err != nil || interval <= 0 {
			return fmt.Errorf("%w: invalid interval %q", utils.ErrConfig, upd.Interval)
		}
	}
	if upd.ProbeTimeout != "" {
		if probeTimeout, err = time.ParseDuration(upd.ProbeTimeout); err != nil || probeTimeout <= 0 {
			return fmt.Errorf("%w: invalid probe timeout %q", utils.ErrConfig, upd.ProbeTimeout)
		}
	}
	if upd.RulesYAML != "" {
		if rules, err = engine.ParseRules([]byte(upd.RulesYAML)); err != nil {
			return err
		}
	}

	// Validation passed for the whole update; apply it.
	if interval > 0 {
		s.mu.Lock()
		s.interval = interval
		s.mu.Unlock()
		s.engine.SetTick(interval)
		select {
		case s.reload <- struct{}{}:
		default:
		}
	}
	if probeTimeout > 0 {
		s.builder.SetProbeTimeout(probeTimeout)
	}
	if rules != nil {
		if err := s.engine.Swap(rules); err != nil {
			return err
		}
	}

	s.logger.Info("runtime configuration updated",
		slog.Bool("interval", interval > 0),
		slog.Bool("probeTimeout", probeTimeout > 0),
		slog.Bool("rules", rules != nil))
	return nil
}

func (s *Service) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
