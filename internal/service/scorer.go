package service

import (
	"github.com/vigilstack/vigil-heal/internal/config"
	"github.com/vigilstack/vigil-heal/internal/models"
)

// Scorer maps a snapshot onto a 0-100 health score. Numeric metrics are
// normalised through configured bounds, service states map to fixed
// scores, and UNKNOWN readings are excluded so a flaky probe cannot drag
// the score down on its own.
type Scorer struct {
	weights map[string]float64
	bounds  map[string]config.MetricBounds
}

// defaultBounds treats an unconfigured numeric metric as a percentage
// where higher is worse.
var defaultBounds = config.MetricBounds{Healthy: 0, Failing: 100}

// NewScorer builds a scorer from monitor configuration.
func NewScorer(cfg config.MonitorConfig) *Scorer {
	return &Scorer{weights: cfg.Weights, bounds: cfg.Bounds}
}

// Score computes the weighted average of per-metric scores. A snapshot
// with no usable readings scores 0: a monitor that cannot see anything
// must not claim health.
func (s *Scorer) Score(snapshot models.HealthSnapshot) float64 {
	var sum, weightTotal float64

	for metric, value := range snapshot.Values {
		score, ok := s.scoreMetric(metric, value)
		if !ok {
			continue
		}
		weight := 1.0
		if w, exists := s.weights[metric]; exists && w > 0 {
			weight = w
		}
		sum += score * weight
		weightTotal += weight
	}

	if weightTotal == 0 {
		return 0
	}
	return sum / weightTotal
}

func (s *Scorer) scoreMetric(metric string, value models.Value) (float64, bool) {
	switch value.Kind {
	case models.KindState:
		switch value.State {
		case models.StateUp:
			return 100, true
		case models.StateDegraded:
			return 50, true
		case models.StateDown:
			return 0, true
		}
		return 0, false
	case models.KindNumeric:
		bounds, ok := s.bounds[metric]
		if !ok {
			bounds = defaultBounds
		}
		return normalize(value.Num, bounds), true
	default:
		return 0, false
	}
}

// normalize maps v onto 0-100: at or past Healthy scores 100, at or past
// Failing scores 0, linear in between. Swapped bounds invert the scale
// for metrics where higher is better.
func normalize(v float64, b config.MetricBounds) float64 {
	if b.Healthy == b.Failing {
		if v < b.Failing {
			return 100
		}
		return 0
	}

	score := (b.Failing - v) / (b.Failing - b.Healthy) * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
