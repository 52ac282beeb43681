package trend

import (
	"github.com/vigilstack/vigil-heal/internal/models"
)

// Slope fits a least-squares line through the numeric samples and returns
// its gradient in units per minute. Non-numeric samples are skipped. A
// window with fewer than two usable points has no measurable trend.
func Slope(samples []models.Sample) (float64, bool) {
	type point struct{ x, y float64 }

	points := make([]point, 0, len(samples))
	var origin int64
	for _, sample := range samples {
		if sample.Value.Kind != models.KindNumeric {
			continue
		}
		if len(points) == 0 {
			origin = sample.Time.UnixNano()
		}
		minutes := float64(sample.Time.UnixNano()-origin) / float64(60e9)
		points = append(points, point{x: minutes, y: sample.Value.Num})
	}
	if len(points) < 2 {
		return 0, false
	}

	var sumX, sumY float64
	for _, p := range points {
		sumX += p.x
		sumY += p.y
	}
	meanX := sumX / float64(len(points))
	meanY := sumY / float64(len(points))

	var num, den float64
	for _, p := range points {
		num += (p.x - meanX) * (p.y - meanY)
		den += (p.x - meanX) * (p.x - meanX)
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// Sustained reports whether pred held for every sample in the window.
// An UNKNOWN sample breaks sustainment. Callers verify separately that the
// window spans the full look-back before trusting the result.
func Sustained(samples []models.Sample, pred func(models.Value) bool) bool {
	if len(samples) == 0 {
		return false
	}
	for _, sample := range samples {
		if sample.Value.IsUnknown() {
			return false
		}
		if !pred(sample.Value) {
			return false
		}
	}
	return true
}
