package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vigilstack/vigil-heal/internal/metrics"
	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/probe"
)

// Builder invokes registered probes and assembles health snapshots. Probes
// within one build run concurrently; the snapshot is published only after
// every probe finished or timed out.
type Builder struct {
	logger   *slog.Logger
	registry *probe.Registry

	mu           sync.RWMutex
	probeTimeout time.Duration
}

// NewBuilder constructs a snapshot builder over the probe registry.
func NewBuilder(logger *slog.Logger, registry *probe.Registry, probeTimeout time.Duration) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Builder{
		logger:       logger,
		registry:     registry,
		probeTimeout: probeTimeout,
	}
}

// SetProbeTimeout adjusts the per-probe bound; takes effect on the next build.
func (b *Builder) SetProbeTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.probeTimeout = d
	b.mu.Unlock()
}

func (b *Builder) timeout() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.probeTimeout
}

// Build samples the named probes (all when names is empty) and returns one
// timestamped snapshot. A probe that fails or times out contributes an
// UNKNOWN value; partial data never stalls monitoring.
func (b *Builder) Build(ctx context.Context, names ...string) (models.HealthSnapshot, error) {
	probes, err := b.registry.Select(names)
	if err != nil {
		return models.HealthSnapshot{}, err
	}

	values := make(map[string]models.Value, len(probes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	timeout := b.timeout()
	for _, p := range probes {
		wg.Add(1)
		go func(p probe.Probe) {
			defer wg.Done()

			value := b.sampleOne(ctx, p, timeout)
			mu.Lock()
			values[p.Name()] = value
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	metrics.ObserveSnapshot()
	return models.HealthSnapshot{TakenAt: time.Now().UTC(), Values: values}, nil
}

func (b *Builder) sampleOne(ctx context.Context, p probe.Probe, timeout time.Duration) models.Value {
	sampleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value models.Value
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{value: models.Unknown(), err: nil}
				b.logger.Error("probe panicked", slog.String("probe", p.Name()), slog.Any("panic", r))
			}
		}()
		v, err := p.Sample(sampleCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			b.logger.Warn("probe failed", slog.String("probe", p.Name()), slog.Any("error", res.err))
			metrics.ObserveProbeFailure(p.Name())
			return models.Unknown()
		}
		return res.value
	case <-sampleCtx.Done():
		b.logger.Warn("probe timed out", slog.String("probe", p.Name()), slog.Duration("timeout", timeout))
		metrics.ObserveProbeFailure(p.Name())
		return models.Unknown()
	}
}
