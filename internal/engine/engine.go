package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/trend"
)

// Ranker exposes historical success probability for a (rule, action) pair.
// The outcome ledger implements it.
type Ranker interface {
	SuccessRate(rule, action string) (float64, bool)
}

// Engine evaluates the active rule set against snapshots and trend history.
// Rules are pure over (snapshot, trend); evaluation has no side effects, so
// rule order never matters.
type Engine struct {
	logger *slog.Logger
	ranker Ranker

	mu    sync.RWMutex
	rules []Rule
	tick  time.Duration
}

// New constructs an engine over a validated rule set.
func New(logger *slog.Logger, rules []Rule, ranker Ranker) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
		ranker: ranker,
		rules:  rules,
		tick:   30 * time.Second,
	}
}

// SetTick informs the engine of the monitoring cadence, used as slack when
// judging whether a trend window spans a full sustain duration.
func (e *Engine) SetTick(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.tick = d
	e.mu.Unlock()
}

// Swap atomically replaces the rule set. The caller validates first; an
// invalid set is rejected here as well and the active set stays in place.
func (e *Engine) Swap(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	e.logger.Info("rule set swapped", slog.Int("rules", len(rules)))
	return nil
}

// Rules returns a copy of the active rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Rule returns the active rule with the given name.
func (e *Engine) Rule(name string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if rule.Name == name {
			return rule, true
		}
	}
	return Rule{}, false
}

// Evaluate matches every rule against the snapshot plus trend history and
// returns the detections. Duplicate suppression against open issues is the
// tracker's job, not the engine's.
func (e *Engine) Evaluate(snapshot models.HealthSnapshot, store *trend.Store) []models.Detection {
	e.mu.RLock()
	rules := e.rules
	tick := e.tick
	e.mu.RUnlock()

	var detections []models.Detection
	for _, rule := range rules {
		if !e.matches(rule, snapshot, store, tick) {
			continue
		}
		detections = append(detections, models.Detection{
			Rule:      rule.Name,
			Metric:    rule.Metric,
			Severity:  rule.Severity,
			Actions:   e.RankActions(rule),
			Emergency: rule.Emergency,
		})
	}
	return detections
}

// Verify re-checks a rule after a remediation attempt. Threshold rules
// (instant and sustained) are judged on the fresh snapshot alone: a value
// back inside bounds counts as recovered even while old breaching samples
// age out of the trend window. Rate rules recompute the slope with the
// fresh sample appended: the stored window holds only pre-action readings,
// so without it a remediation that flattened the curve could never verify.
func (e *Engine) Verify(rule Rule, snapshot models.HealthSnapshot, store *trend.Store) bool {
	switch rule.When.kind() {
	case predicateRate:
		window := store.Window(rule.Metric, rule.When.Window)
		if v := snapshot.Value(rule.Metric); v.Kind == models.KindNumeric {
			window = append(window, models.Sample{Time: snapshot.TakenAt, Value: v})
		}
		return e.slopeBreached(rule, window)
	default:
		return rule.When.holds(snapshot.Value(rule.Metric))
	}
}

func (e *Engine) matches(rule Rule, snapshot models.HealthSnapshot, store *trend.Store, tick time.Duration) bool {
	switch rule.When.kind() {
	case predicateRate:
		return e.rateBreached(rule, store)
	case predicateSustained:
		if !rule.When.holds(snapshot.Value(rule.Metric)) {
			return false
		}
		return e.sustainBreached(rule, snapshot.TakenAt, store, tick)
	default:
		return rule.When.holds(snapshot.Value(rule.Metric))
	}
}

func (e *Engine) sustainBreached(rule Rule, now time.Time, store *trend.Store, tick time.Duration) bool {
	window := store.Window(rule.Metric, rule.When.Sustain)
	if len(window) == 0 {
		return false
	}

	// The window must cover the whole sustain duration; one tick of slack
	// absorbs scheduling jitter around the oldest sample.
	cutoff := now.Add(-rule.When.Sustain)
	if window[0].Time.After(cutoff.Add(tick)) {
		return false
	}

	return trend.Sustained(window, rule.When.holds)
}

func (e *Engine) rateBreached(rule Rule, store *trend.Store) bool {
	return e.slopeBreached(rule, store.Window(rule.Metric, rule.When.Window))
}

func (e *Engine) slopeBreached(rule Rule, window []models.Sample) bool {
	slope, ok := trend.Slope(window)
	if !ok {
		return false
	}

	rate := *rule.When.RatePerMinute
	if rate > 0 {
		return slope >= rate
	}
	return slope <= rate
}

// RankActions orders the rule's candidates by historical success
// probability. Unknown actions keep the rule's default order; consistently
// failing actions sink but stay eligible as fallbacks.
func (e *Engine) RankActions(rule Rule) []string {
	actions := append([]string(nil), rule.Actions...)
	if e.ranker == nil {
		return actions
	}

	const noHistory = 0.5
	score := func(action string) float64 {
		rate, ok := e.ranker.SuccessRate(rule.Name, action)
		if !ok {
			return noHistory
		}
		return rate
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return score(actions[i]) > score(actions[j])
	})
	return actions
}
