package trend

import (
	"math"
	"testing"
	"time"

	"github.com/vigilstack/vigil-heal/internal/models"
)

func numericSamples(base time.Time, step time.Duration, values ...float64) []models.Sample {
	samples := make([]models.Sample, len(values))
	for i, v := range values {
		samples[i] = models.Sample{Time: base.Add(time.Duration(i) * step), Value: models.Numeric(v)}
	}
	return samples
}

func TestSlope(t *testing.T) {
	base := time.Now().UTC()

	tests := []struct {
		name    string
		samples []models.Sample
		want    float64
		ok      bool
	}{
		{
			name:    "rising one per minute",
			samples: numericSamples(base, time.Minute, 10, 11, 12, 13),
			want:    1,
			ok:      true,
		},
		{
			name:    "falling",
			samples: numericSamples(base, time.Minute, 20, 18, 16),
			want:    -2,
			ok:      true,
		},
		{
			name:    "flat",
			samples: numericSamples(base, time.Minute, 5, 5, 5),
			want:    0,
			ok:      true,
		},
		{
			name:    "single point",
			samples: numericSamples(base, time.Minute, 5),
			ok:      false,
		},
		{
			name: "non-numeric skipped",
			samples: []models.Sample{
				{Time: base, Value: models.Numeric(1)},
				{Time: base.Add(time.Minute), Value: models.Unknown()},
				{Time: base.Add(2 * time.Minute), Value: models.Numeric(3)},
			},
			want: 1,
			ok:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Slope(tc.samples)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("slope = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSustained(t *testing.T) {
	base := time.Now().UTC()
	above90 := func(v models.Value) bool { return v.Kind == models.KindNumeric && v.Num > 90 }

	if !Sustained(numericSamples(base, time.Minute, 95, 96, 94), above90) {
		t.Fatalf("expected sustained breach")
	}
	if Sustained(numericSamples(base, time.Minute, 95, 85, 96), above90) {
		t.Fatalf("dip below threshold should break sustainment")
	}
	if Sustained(nil, above90) {
		t.Fatalf("empty window cannot sustain")
	}

	withUnknown := []models.Sample{
		{Time: base, Value: models.Numeric(95)},
		{Time: base.Add(time.Minute), Value: models.Unknown()},
		{Time: base.Add(2 * time.Minute), Value: models.Numeric(96)},
	}
	if Sustained(withUnknown, above90) {
		t.Fatalf("UNKNOWN sample should break sustainment")
	}
}
