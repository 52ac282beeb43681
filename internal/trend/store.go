package trend

import (
	"sync"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Store keeps a bounded, time-ordered buffer of recent samples per metric.
// Only the snapshot builder appends; every other component reads. Stored
// samples are never mutated, only evicted oldest-first.
type Store struct {
	mu         sync.RWMutex
	maxAge     time.Duration
	maxSamples int
	series     map[string][]models.Sample
	latest     models.HealthSnapshot
	hasLatest  bool
}

// NewStore creates a trend store retaining up to maxSamples per metric and
// nothing older than maxAge, whichever limit is reached first.
func NewStore(maxAge time.Duration, maxSamples int) *Store {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if maxSamples <= 0 {
		maxSamples = 2880
	}
	return &Store{
		maxAge:     maxAge,
		maxSamples: maxSamples,
		series:     make(map[string][]models.Sample),
	}
}

// Append records every reading of the snapshot. Amortized O(1) per metric.
func (s *Store) Append(snapshot models.HealthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for metric, value := range snapshot.Values {
		samples := append(s.series[metric], models.Sample{Time: snapshot.TakenAt, Value: value})
		s.series[metric] = s.evict(samples, snapshot.TakenAt)
	}
	s.latest = snapshot.Clone()
	s.hasLatest = true
}

func (s *Store) evict(samples []models.Sample, now time.Time) []models.Sample {
	cutoff := now.Add(-s.maxAge)
	drop := 0
	for drop < len(samples) && samples[drop].Time.Before(cutoff) {
		drop++
	}
	if over := len(samples) - drop - s.maxSamples; over > 0 {
		drop += over
	}
	if drop == 0 {
		return samples
	}

	kept := make([]models.Sample, len(samples)-drop)
	copy(kept, samples[drop:])
	return kept
}

// Window returns the ordered samples for a metric within the look-back
// duration, oldest first. Callers receive a copy and may not observe
// partially-written appends.
func (s *Store) Window(metric string, lookback time.Duration) []models.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.series[metric]
	if len(samples) == 0 {
		return nil
	}

	cutoff := samples[len(samples)-1].Time.Add(-lookback)
	start := 0
	for start < len(samples) && samples[start].Time.Before(cutoff) {
		start++
	}

	out := make([]models.Sample, len(samples)-start)
	copy(out, samples[start:])
	return out
}

// Latest returns a copy of the most recent snapshot.
func (s *Store) Latest() (models.HealthSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasLatest {
		return models.HealthSnapshot{}, false
	}
	return s.latest.Clone(), true
}

// Len reports how many samples a metric currently retains.
func (s *Store) Len(metric string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[metric])
}

// Metrics returns the names of every metric with at least one sample.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for metric := range s.series {
		names = append(names, metric)
	}
	return names
}
