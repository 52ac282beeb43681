package engine

import (
	"testing"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/trend"
)

type stubRanker map[string]float64

func (r stubRanker) SuccessRate(rule, action string) (float64, bool) {
	rate, ok := r[rule+"/"+action]
	return rate, ok
}

func f64(v float64) *float64 { return &v }

func snapshotOf(at time.Time, metric string, value models.Value) models.HealthSnapshot {
	return models.HealthSnapshot{TakenAt: at, Values: map[string]models.Value{metric: value}}
}

func TestEvaluateInstantThreshold(t *testing.T) {
	rule := Rule{
		Name: "cpu_high", Metric: "cpu", Severity: models.SeverityHigh,
		When:    Condition{Above: f64(90)},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{rule}, nil)
	store := trend.NewStore(time.Hour, 100)
	now := time.Now().UTC()

	if got := eng.Evaluate(snapshotOf(now, "cpu", models.Numeric(95)), store); len(got) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(got))
	}
	if got := eng.Evaluate(snapshotOf(now, "cpu", models.Numeric(85)), store); len(got) != 0 {
		t.Fatalf("expected no detection, got %d", len(got))
	}
	// UNKNOWN never crosses a threshold.
	if got := eng.Evaluate(snapshotOf(now, "cpu", models.Unknown()), store); len(got) != 0 {
		t.Fatalf("UNKNOWN must not match, got %d detections", len(got))
	}
}

func TestEvaluateStateRule(t *testing.T) {
	rule := Rule{
		Name: "svc_down", Metric: "service_auth", Severity: models.SeverityCritical,
		When:    Condition{State: models.StateDown},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{rule}, nil)
	store := trend.NewStore(time.Hour, 100)
	now := time.Now().UTC()

	got := eng.Evaluate(snapshotOf(now, "service_auth", models.State(models.StateDown)), store)
	if len(got) != 1 {
		t.Fatalf("expected detection for DOWN, got %d", len(got))
	}
	if got[0].Severity != models.SeverityCritical {
		t.Fatalf("severity lost in detection: %q", got[0].Severity)
	}

	got = eng.Evaluate(snapshotOf(now, "service_auth", models.State(models.StateUp)), store)
	if len(got) != 0 {
		t.Fatalf("UP must not match DOWN rule")
	}
}

func TestEvaluateSustainedThreshold(t *testing.T) {
	rule := Rule{
		Name: "cpu_spike", Metric: "cpu", Severity: models.SeverityCritical,
		When:    Condition{Above: f64(90), Sustain: 5 * time.Minute},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{rule}, nil)
	eng.SetTick(30 * time.Second)

	now := time.Now().UTC()
	store := trend.NewStore(time.Hour, 1000)

	// First breaching sample: window does not yet span the sustain
	// duration, so no detection.
	store.Append(snapshotOf(now.Add(-30*time.Second), "cpu", models.Numeric(95)))
	if got := eng.Evaluate(snapshotOf(now, "cpu", models.Numeric(95)), store); len(got) != 0 {
		t.Fatalf("breach shorter than sustain must not match")
	}

	// Fill six minutes of continuously breaching history.
	store = trend.NewStore(time.Hour, 1000)
	for at := now.Add(-6 * time.Minute); !at.After(now); at = at.Add(30 * time.Second) {
		store.Append(snapshotOf(at, "cpu", models.Numeric(95)))
	}
	if got := eng.Evaluate(snapshotOf(now, "cpu", models.Numeric(95)), store); len(got) != 1 {
		t.Fatalf("sustained breach should match, got %d detections", len(got))
	}

	// A dip inside the window breaks sustainment.
	store = trend.NewStore(time.Hour, 1000)
	for i, at := 0, now.Add(-6*time.Minute); !at.After(now); i, at = i+1, at.Add(30*time.Second) {
		v := 95.0
		if i == 6 {
			v = 80.0
		}
		store.Append(snapshotOf(at, "cpu", models.Numeric(v)))
	}
	if got := eng.Evaluate(snapshotOf(now, "cpu", models.Numeric(95)), store); len(got) != 0 {
		t.Fatalf("dip below threshold must reset the sustain window")
	}
}

func TestEvaluateRateOfChange(t *testing.T) {
	rule := Rule{
		Name: "mem_leak", Metric: "mem", Severity: models.SeverityMedium,
		When:    Condition{RatePerMinute: f64(0.5), Window: 10 * time.Minute},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{rule}, nil)
	now := time.Now().UTC()

	rising := trend.NewStore(time.Hour, 1000)
	for i := 0; i < 10; i++ {
		at := now.Add(time.Duration(i-10) * time.Minute)
		rising.Append(snapshotOf(at, "mem", models.Numeric(50+float64(i))))
	}
	if got := eng.Evaluate(snapshotOf(now, "mem", models.Numeric(60)), rising); len(got) != 1 {
		t.Fatalf("1/min rise should exceed 0.5/min rate, got %d detections", len(got))
	}

	flat := trend.NewStore(time.Hour, 1000)
	for i := 0; i < 10; i++ {
		at := now.Add(time.Duration(i-10) * time.Minute)
		flat.Append(snapshotOf(at, "mem", models.Numeric(50)))
	}
	if got := eng.Evaluate(snapshotOf(now, "mem", models.Numeric(50)), flat); len(got) != 0 {
		t.Fatalf("flat series must not match a rate rule")
	}
}

func TestVerifyThresholdUsesFreshSnapshot(t *testing.T) {
	rule := Rule{
		Name: "cpu_spike", Metric: "cpu", Severity: models.SeverityCritical,
		When:    Condition{Above: f64(90), Sustain: 5 * time.Minute},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{rule}, nil)

	now := time.Now().UTC()
	store := trend.NewStore(time.Hour, 1000)
	for at := now.Add(-6 * time.Minute); !at.After(now); at = at.Add(30 * time.Second) {
		store.Append(snapshotOf(at, "cpu", models.Numeric(95)))
	}

	// History still shows a breach, but the fresh reading is healthy:
	// the condition counts as recovered.
	if eng.Verify(rule, snapshotOf(now, "cpu", models.Numeric(40)), store) {
		t.Fatalf("healthy fresh reading should verify as recovered")
	}
	if !eng.Verify(rule, snapshotOf(now, "cpu", models.Numeric(95)), store) {
		t.Fatalf("breaching fresh reading should still match")
	}
}

func TestVerifyRateRuleUsesFreshSample(t *testing.T) {
	rule := Rule{
		Name: "mem_leak", Metric: "mem", Severity: models.SeverityMedium,
		When:    Condition{RatePerMinute: f64(0.5), Window: 30 * time.Minute},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{rule}, nil)

	now := time.Now().UTC()
	store := trend.NewStore(time.Hour, 1000)
	for i := 0; i < 10; i++ {
		at := now.Add(time.Duration(i-10) * time.Minute)
		store.Append(snapshotOf(at, "mem", models.Numeric(50+float64(i))))
	}

	// The stored window is entirely pre-action and still rises 1/min. A
	// fresh reading that collapsed the curve must verify as recovered.
	if eng.Verify(rule, snapshotOf(now, "mem", models.Numeric(10)), store) {
		t.Fatalf("collapsed fresh reading should verify as recovered")
	}

	// A fresh reading continuing the climb keeps the rule matching.
	if !eng.Verify(rule, snapshotOf(now, "mem", models.Numeric(61)), store) {
		t.Fatalf("fresh reading on the same slope should still match")
	}

	// UNKNOWN contributes nothing: judged on the stored window alone.
	if !eng.Verify(rule, snapshotOf(now, "mem", models.Unknown()), store) {
		t.Fatalf("UNKNOWN fresh reading must not count as recovered")
	}
}

func TestRankActions(t *testing.T) {
	rule := Rule{
		Name: "cpu_spike", Metric: "cpu", Severity: models.SeverityHigh,
		When:    Condition{Above: f64(90)},
		Actions: []string{"restart", "clear_cache", "reset_config"},
	}

	ranker := stubRanker{
		"cpu_spike/restart":      0.1,
		"cpu_spike/reset_config": 0.9,
		// clear_cache has no history: scores 0.5, keeps relative order.
	}
	eng := New(nil, []Rule{rule}, ranker)

	got := eng.RankActions(rule)
	want := []string{"reset_config", "clear_cache", "restart"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank %d = %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}

	// Without a ranker the rule's order is preserved.
	plain := New(nil, []Rule{rule}, nil)
	got = plain.RankActions(rule)
	for i, action := range rule.Actions {
		if got[i] != action {
			t.Fatalf("unranked order changed: %v", got)
		}
	}
}

func TestSwapRejectsInvalidSet(t *testing.T) {
	valid := Rule{
		Name: "cpu_high", Metric: "cpu", Severity: models.SeverityHigh,
		When:    Condition{Above: f64(90)},
		Actions: []string{"restart"},
	}
	eng := New(nil, []Rule{valid}, nil)

	if err := eng.Swap([]Rule{{Name: "broken"}}); err == nil {
		t.Fatalf("expected swap of invalid set to fail")
	}
	rules := eng.Rules()
	if len(rules) != 1 || rules[0].Name != "cpu_high" {
		t.Fatalf("active set changed after rejected swap: %+v", rules)
	}
}
