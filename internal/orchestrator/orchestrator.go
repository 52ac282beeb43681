package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilstack/vigil-heal/internal/actuator"
	"github.com/vigilstack/vigil-heal/internal/engine"
	"github.com/vigilstack/vigil-heal/internal/issues"
	"github.com/vigilstack/vigil-heal/internal/ledger"
	"github.com/vigilstack/vigil-heal/internal/metrics"
	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/snapshot"
	"github.com/vigilstack/vigil-heal/internal/trend"
	"github.com/vigilstack/vigil-heal/internal/utils"
)

// Notifier surfaces escalated issues to the outside world. Delivery
// failures are logged, never propagated into the recovery loop.
type Notifier interface {
	Escalated(ctx context.Context, issue models.Issue, reason string)
}

// ScoreFunc computes the aggregate health score of a snapshot.
type ScoreFunc func(models.HealthSnapshot) float64

// Config tunes the orchestrator.
type Config struct {
	Workers            int
	ActionTimeout      time.Duration
	Backoff            BackoffPolicy
	EscalationCooldown time.Duration
	RetryExhausted     bool
	DrainTimeout       time.Duration
}

// Orchestrator drives recovery for open issues: highest severity first,
// oldest first on ties, distinct issues concurrently, and never more than
// one active attempt per issue identity.
type Orchestrator struct {
	logger    *slog.Logger
	cfg       Config
	tracker   *issues.Tracker
	ledger    ledger.Ledger
	actuators *actuator.Registry
	engine    *engine.Engine
	builder   *snapshot.Builder
	trends    *trend.Store
	score     ScoreFunc
	notifier  Notifier
	latencies *utils.LatencyTracker

	mu       sync.Mutex
	pending  map[string]pendingItem
	inflight map[string]struct{}
	wake     chan struct{}

	wg sync.WaitGroup
}

type pendingItem struct {
	severity   models.Severity
	detectedAt time.Time
}

// New wires an orchestrator. notifier may be nil.
func New(
	logger *slog.Logger,
	cfg Config,
	tracker *issues.Tracker,
	led ledger.Ledger,
	actuators *actuator.Registry,
	eng *engine.Engine,
	builder *snapshot.Builder,
	trends *trend.Store,
	score ScoreFunc,
	notifier Notifier,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 60 * time.Second
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff.MaxAttempts = 3
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = 30 * time.Second
	}

	return &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		tracker:   tracker,
		ledger:    led,
		actuators: actuators,
		engine:    eng,
		builder:   builder,
		trends:    trends,
		score:     score,
		notifier:  notifier,
		latencies: utils.NewLatencyTracker(1024),
		pending:   make(map[string]pendingItem),
		inflight:  make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and the
// pool drains or the drain grace period elapses. In-flight actuator calls
// finish under their own timeout; no new attempts start after cancellation.
func (o *Orchestrator) Run(ctx context.Context) {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.workerLoop(ctx)
		}()
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	drain := o.cfg.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(drain):
		o.logger.Warn("recovery pool drain timed out; outstanding issues stay recovering in the ledger")
	}
}

// Enqueue schedules recovery for an issue. A second trigger for a key that
// is already queued or in flight is coalesced into a no-op.
func (o *Orchestrator) Enqueue(issue models.Issue) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inflight[issue.Key]; busy {
		return
	}
	if _, queued := o.pending[issue.Key]; queued {
		return
	}
	o.pending[issue.Key] = pendingItem{severity: issue.Severity, detectedAt: issue.DetectedAt}

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Resume re-registers non-terminal issues from the ledger after a restart
// and queues them for recovery with their tried actions excluded.
func (o *Orchestrator) Resume(ctx context.Context) error {
	stale, err := o.ledger.ResumeRecovering(ctx)
	if err != nil {
		return fmt.Errorf("resume from ledger: %w", err)
	}

	for _, issue := range stale {
		if o.tracker.Restore(issue) {
			o.logger.Info("resuming issue from ledger",
				slog.String("issue", issue.Key),
				slog.String("status", string(issue.Status)),
				slog.Int("tried", len(issue.Tried)))
			o.Enqueue(issue)
		}
	}
	return nil
}

// LatencyP95 returns the current p95 actuator latency.
func (o *Orchestrator) LatencyP95() time.Duration {
	return o.latencies.Percentile(95)
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		key, ok := o.next(ctx)
		if !ok {
			return
		}
		o.recover(ctx, key, "", false)
		o.release(key)
	}
}

// next blocks until a key is schedulable, claiming it for this worker.
func (o *Orchestrator) next(ctx context.Context) (string, bool) {
	for {
		o.mu.Lock()
		best := ""
		var bestItem pendingItem
		for key, item := range o.pending {
			if _, busy := o.inflight[key]; busy {
				continue
			}
			if best == "" || higherPriority(item, bestItem) {
				best, bestItem = key, item
			}
		}
		if best != "" {
			delete(o.pending, best)
			o.inflight[best] = struct{}{}
			o.mu.Unlock()
			return best, true
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-o.wake:
		}
	}
}

func higherPriority(a, b pendingItem) bool {
	if a.severity.Rank() != b.severity.Rank() {
		return a.severity.Rank() > b.severity.Rank()
	}
	return a.detectedAt.Before(b.detectedAt)
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()

	// Another queued key may now be schedulable.
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// TriggerManual runs recovery for key synchronously, optionally forcing a
// specific action. When an attempt is already in flight the trigger is
// coalesced: the ongoing attempt re-verifies the condition anyway.
func (o *Orchestrator) TriggerManual(ctx context.Context, key, action string) (models.RecoveryAttempt, error) {
	if action != "" {
		if _, ok := o.actuators.Lookup(action); !ok {
			return models.RecoveryAttempt{}, fmt.Errorf("unknown action %q", action)
		}
	}

	issue, ok := o.tracker.Get(key)
	if !ok {
		return models.RecoveryAttempt{}, fmt.Errorf("%w: %q", ErrIssueNotFound, key)
	}
	if issue.Status.Terminal() {
		return models.RecoveryAttempt{}, fmt.Errorf("issue %q already %s", key, issue.Status)
	}

	o.mu.Lock()
	if _, busy := o.inflight[key]; busy {
		o.mu.Unlock()
		return models.RecoveryAttempt{}, ErrAttemptInFlight
	}
	delete(o.pending, key)
	o.inflight[key] = struct{}{}
	o.mu.Unlock()
	defer o.release(key)

	return o.recover(ctx, key, action, true)
}

// ErrAttemptInFlight reports a manual trigger coalesced behind an ongoing attempt.
var ErrAttemptInFlight = errors.New("recovery attempt already in flight")

// ErrIssueNotFound reports a trigger for an unknown issue key.
var ErrIssueNotFound = errors.New("no issue with the given key")

// recover walks one issue through the state machine until it resolves,
// escalates, or ctx is cancelled. forced, when non-empty, pins the first
// action (manual override); subsequent fallbacks use the ranked list.
// manual marks operator-triggered attempts in the ledger.
func (o *Orchestrator) recover(ctx context.Context, key, forced string, manual bool) (models.RecoveryAttempt, error) {
	issue, ok := o.tracker.Get(key)
	if !ok || issue.Status.Terminal() {
		return models.RecoveryAttempt{}, fmt.Errorf("no active issue for %q", key)
	}

	if issue.Status == models.IssueOpen || issue.Status == models.IssueEscalated {
		var err error
		issue, err = o.transition(ctx, key, models.IssueRecovering, "recovery scheduled")
		if err != nil {
			o.logger.Error("transition failed", slog.String("issue", key), slog.Any("error", err))
			return models.RecoveryAttempt{}, err
		}
	}

	var last models.RecoveryAttempt

	for {
		if ctx.Err() != nil {
			// Shutdown mid-recovery: the ledger shows the issue
			// recovering and a restart resumes from the next
			// untried action.
			return last, ctx.Err()
		}

		action := forced
		forced = ""
		if action == "" {
			// Re-rank between attempts, never mid-attempt.
			if rule, ok := o.engine.Rule(issue.Rule); ok {
				o.tracker.SetActions(key, o.engine.RankActions(rule))
			}
			issue, _ = o.tracker.Get(key)
			action = issue.NextAction()
		}
		if action == "" {
			return last, o.escalate(ctx, key)
		}

		attempt, resolved := o.attemptAction(ctx, issue, action, manual)
		last = attempt

		if resolved {
			if _, err := o.transition(ctx, key, models.IssueResolved, "verification passed after "+action); err != nil {
				o.logger.Error("transition failed", slog.String("issue", key), slog.Any("error", err))
			}
			metrics.SetOpenIssues(o.tracker.OpenCount())
			return last, nil
		}

		o.tracker.MarkTried(key, action)
		issue, _ = o.tracker.Get(key)
	}
}

// attemptAction runs one candidate action against the issue: bounded
// actuator invocations with backoff, then a verifying snapshot. The
// attempt is in the ledger before any state transition proceeds.
func (o *Orchestrator) attemptAction(ctx context.Context, issue models.Issue, action string, manual bool) (models.RecoveryAttempt, bool) {
	attempt := models.RecoveryAttempt{
		ID:        uuid.NewString(),
		IssueID:   issue.ID,
		IssueKey:  issue.Key,
		Rule:      issue.Rule,
		Action:    action,
		StartedAt: time.Now().UTC(),
		Manual:    manual,
	}
	if latest, ok := o.trends.Latest(); ok {
		attempt.ScoreBefore = o.score(latest)
	}

	actErr := o.applyWithBudget(ctx, action)

	resolved := false
	switch {
	case actErr == nil:
		verified, after, verr := o.verify(ctx, issue)
		attempt.ScoreAfter = after
		if verr != nil {
			attempt.Outcome = models.OutcomeFailure
			attempt.Error = fmt.Sprintf("verification: %v", verr)
		} else if verified {
			attempt.Outcome = models.OutcomeSuccess
			resolved = true
		} else {
			attempt.Outcome = models.OutcomeFailure
			attempt.Error = "condition still matches after action"
		}
	case errors.Is(actErr, context.DeadlineExceeded):
		attempt.Outcome = models.OutcomeTimeout
		attempt.Error = actErr.Error()
	default:
		attempt.Outcome = models.OutcomeFailure
		attempt.Error = actErr.Error()
	}

	attempt.EndedAt = time.Now().UTC()

	o.latencies.Observe(attempt.EndedAt.Sub(attempt.StartedAt))
	metrics.ObserveAttempt(attempt.EndedAt.Sub(attempt.StartedAt), string(attempt.Outcome))

	if err := o.ledger.RecordAttempt(ctx, attempt); err != nil {
		o.logger.Error("ledger append failed", slog.String("issue", issue.Key), slog.Any("error", err))
	}

	o.logger.Info("recovery attempt finished",
		slog.String("issue", issue.Key),
		slog.String("action", action),
		slog.String("outcome", string(attempt.Outcome)))

	return attempt, resolved
}

// applyWithBudget invokes the actuator up to the attempt budget with
// exponential backoff. Timeouts count against the budget like failures;
// panics are contained and never unwind the loop.
func (o *Orchestrator) applyWithBudget(ctx context.Context, action string) error {
	act, ok := o.actuators.Lookup(action)
	if !ok {
		return fmt.Errorf("%w: actuator %q not registered", utils.ErrActuator, action)
	}

	var err error
	for attempt := 1; attempt <= o.cfg.Backoff.MaxAttempts; attempt++ {
		err = o.applyOnce(act)
		if err == nil {
			return nil
		}
		o.logger.Warn("actuator invocation failed",
			slog.String("action", action),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if attempt < o.cfg.Backoff.MaxAttempts && !o.cfg.Backoff.Wait(ctx, attempt) {
			return err
		}
	}
	return err
}

// applyOnce bounds a single actuator call. The timeout context is
// detached from the run context so cooperative shutdown lets the call
// finish instead of killing it.
func (o *Orchestrator) applyOnce(act actuator.Actuator) (err error) {
	callCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ActionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: actuator panicked: %v", utils.ErrActuator, r)
		}
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: actuator panicked: %v", utils.ErrActuator, r)
			}
		}()
		done <- act.Apply(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return context.DeadlineExceeded
	}
}

// verify requests a fresh snapshot and re-evaluates the originating rule.
func (o *Orchestrator) verify(ctx context.Context, issue models.Issue) (bool, float64, error) {
	rule, ok := o.engine.Rule(issue.Rule)
	if !ok {
		// Rule removed by a reload; nothing left to match against.
		return true, 0, nil
	}

	snap, err := o.builder.Build(ctx)
	if err != nil {
		return false, 0, err
	}
	return !o.engine.Verify(rule, snap, o.trends), o.score(snap), nil
}

// escalate handles candidate exhaustion. Critical issues fire their
// emergency actuator exactly once as a terminal step; lower severities
// surface for manual handling and turn fatal only after the cooldown with
// no further auto-recovery.
func (o *Orchestrator) escalate(ctx context.Context, key string) error {
	issue, err := o.transition(ctx, key, models.IssueEscalated, "candidate actions exhausted")
	if err != nil {
		return err
	}
	metrics.SetOpenIssues(o.tracker.OpenCount())

	if o.notifier != nil {
		o.notifier.Escalated(ctx, issue, utils.ErrExhausted.Error())
	}

	if issue.Severity == models.SeverityCritical && issue.Emergency != "" {
		o.fireEmergency(ctx, issue)
		_, err := o.transition(ctx, key, models.IssueFatal, "emergency actuator invoked")
		metrics.SetOpenIssues(o.tracker.OpenCount())
		return err
	}

	o.scheduleCooldown(ctx, key)
	return nil
}

// fireEmergency invokes the emergency actuator once, never retried.
func (o *Orchestrator) fireEmergency(ctx context.Context, issue models.Issue) {
	attempt := models.RecoveryAttempt{
		ID:        uuid.NewString(),
		IssueID:   issue.ID,
		IssueKey:  issue.Key,
		Rule:      issue.Rule,
		Action:    issue.Emergency,
		StartedAt: time.Now().UTC(),
	}

	act, ok := o.actuators.Lookup(issue.Emergency)
	if !ok {
		attempt.Outcome = models.OutcomeFailure
		attempt.Error = fmt.Sprintf("emergency actuator %q not registered", issue.Emergency)
	} else if err := o.applyOnce(act); err != nil {
		attempt.Outcome = models.OutcomeFailure
		attempt.Error = err.Error()
	} else {
		attempt.Outcome = models.OutcomeSuccess
	}
	attempt.EndedAt = time.Now().UTC()

	metrics.ObserveAttempt(attempt.EndedAt.Sub(attempt.StartedAt), string(attempt.Outcome))
	if err := o.ledger.RecordAttempt(ctx, attempt); err != nil {
		o.logger.Error("ledger append failed", slog.String("issue", issue.Key), slog.Any("error", err))
	}

	o.logger.Error("emergency actuator fired",
		slog.String("issue", issue.Key),
		slog.String("action", issue.Emergency),
		slog.String("outcome", string(attempt.Outcome)))
}

// scheduleCooldown arms the post-escalation timer: retry the candidate
// list when policy permits, otherwise mark the issue fatal. This prevents
// a remediation storm on a condition nothing can fix.
func (o *Orchestrator) scheduleCooldown(ctx context.Context, key string) {
	cooldown := o.cfg.EscalationCooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-time.After(cooldown):
		}

		// Claim the in-flight slot so the fatal transition cannot race a
		// manual trigger: whichever side claims first owns the next
		// ledger entry, the other yields.
		o.mu.Lock()
		if _, busy := o.inflight[key]; busy {
			o.mu.Unlock()
			return
		}
		o.inflight[key] = struct{}{}
		o.mu.Unlock()

		issue, ok := o.tracker.Get(key)
		if !ok || issue.Status != models.IssueEscalated {
			o.release(key)
			return
		}

		if o.cfg.RetryExhausted {
			o.tracker.ResetTried(key)
			o.release(key)
			o.Enqueue(issue)
			return
		}

		if _, err := o.transition(ctx, key, models.IssueFatal, "escalation cooldown elapsed"); err != nil {
			o.logger.Error("transition failed", slog.String("issue", key), slog.Any("error", err))
			o.release(key)
			return
		}
		metrics.SetOpenIssues(o.tracker.OpenCount())
		o.release(key)
		if o.notifier != nil {
			o.notifier.Escalated(ctx, issue, "issue marked fatal after cooldown")
		}
	}()
}

// transition appends the ledger entry first, then applies the in-memory
// state change: durability before state transition.
func (o *Orchestrator) transition(ctx context.Context, key string, to models.IssueStatus, reason string) (models.Issue, error) {
	issue, ok := o.tracker.Get(key)
	if !ok {
		return models.Issue{}, fmt.Errorf("no active issue for %q", key)
	}

	tr := models.IssueTransition{
		IssueID:  issue.ID,
		IssueKey: issue.Key,
		From:     issue.Status,
		To:       to,
		At:       time.Now().UTC(),
		Reason:   reason,
	}
	if err := o.ledger.RecordTransition(ctx, tr); err != nil {
		return models.Issue{}, fmt.Errorf("ledger append: %w", err)
	}

	updated, _, err := o.tracker.Transition(key, to, reason, tr.At)
	if err != nil {
		return models.Issue{}, err
	}

	o.logger.Info("issue transition",
		slog.String("issue", key),
		slog.String("from", string(tr.From)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	return updated, nil
}
