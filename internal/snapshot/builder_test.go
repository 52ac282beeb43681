package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/probe"
)

func registry(t *testing.T, probes ...probe.Probe) *probe.Registry {
	t.Helper()
	reg := probe.NewRegistry()
	for _, p := range probes {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Name(), err)
		}
	}
	return reg
}

func TestBuildCollectsAllProbes(t *testing.T) {
	reg := registry(t,
		probe.Func{ProbeName: "cpu", SampleFn: func(context.Context) (models.Value, error) {
			return models.Numeric(42), nil
		}},
		probe.Func{ProbeName: "svc", SampleFn: func(context.Context) (models.Value, error) {
			return models.State(models.StateUp), nil
		}},
	)

	builder := NewBuilder(nil, reg, time.Second)
	snap, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(snap.Values) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(snap.Values))
	}
	if snap.Value("cpu").Num != 42 {
		t.Fatalf("cpu reading lost: %+v", snap.Value("cpu"))
	}
	if snap.Value("svc").State != models.StateUp {
		t.Fatalf("svc reading lost: %+v", snap.Value("svc"))
	}
	if snap.TakenAt.IsZero() {
		t.Fatalf("snapshot missing timestamp")
	}
}

func TestBuildFailedProbeBecomesUnknown(t *testing.T) {
	reg := registry(t,
		probe.Func{ProbeName: "ok", SampleFn: func(context.Context) (models.Value, error) {
			return models.Numeric(1), nil
		}},
		probe.Func{ProbeName: "broken", SampleFn: func(context.Context) (models.Value, error) {
			return models.Unknown(), errors.New("probe exploded")
		}},
		probe.Func{ProbeName: "panicky", SampleFn: func(context.Context) (models.Value, error) {
			panic("probe panicked")
		}},
	)

	builder := NewBuilder(nil, reg, time.Second)
	snap, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("partial data must not abort the snapshot: %v", err)
	}

	if !snap.Value("broken").IsUnknown() {
		t.Fatalf("failed probe should read UNKNOWN")
	}
	if !snap.Value("panicky").IsUnknown() {
		t.Fatalf("panicking probe should read UNKNOWN")
	}
	if snap.Value("ok").Num != 1 {
		t.Fatalf("healthy probe reading lost")
	}
}

func TestBuildTimedOutProbeBecomesUnknown(t *testing.T) {
	reg := registry(t,
		probe.Func{ProbeName: "slow", SampleFn: func(ctx context.Context) (models.Value, error) {
			select {
			case <-time.After(time.Second):
				return models.Numeric(1), nil
			case <-ctx.Done():
				return models.Unknown(), ctx.Err()
			}
		}},
	)

	builder := NewBuilder(nil, reg, 10*time.Millisecond)
	start := time.Now()
	snap, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("builder waited past the probe timeout: %v", elapsed)
	}
	if !snap.Value("slow").IsUnknown() {
		t.Fatalf("timed-out probe should read UNKNOWN")
	}
}

func TestBuildRestrictsToNamedProbes(t *testing.T) {
	reg := registry(t,
		probe.Func{ProbeName: "cpu", SampleFn: func(context.Context) (models.Value, error) {
			return models.Numeric(1), nil
		}},
		probe.Func{ProbeName: "mem", SampleFn: func(context.Context) (models.Value, error) {
			return models.Numeric(2), nil
		}},
	)

	builder := NewBuilder(nil, reg, time.Second)
	snap, err := builder.Build(context.Background(), "cpu")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(snap.Values) != 1 {
		t.Fatalf("expected only the named probe, got %d readings", len(snap.Values))
	}

	if _, err := builder.Build(context.Background(), "nope"); err == nil {
		t.Fatalf("unknown probe name should be rejected")
	}
}
