package geometry

import (
	"math"
	"testing"

	"github.com/cjeanneret/thermoturret/internal/config"
)

func TestCountsCalculator_KnownConfig(t *testing.T) {
	cc := NewCountsCalculator(config.Default())

	cpd := 98218.0 / 360.0
	cases := []struct {
		name  string
		angle float64
		want  float64
	}{
		{"zero", 0, 0},
		{"90_degrees", 90, 90 * cpd},
		{"negative_90", -90, -90 * cpd},
		{"full_360", 360, 98218},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cc.CountsFromAngle(tc.angle); math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("CountsFromAngle(%g) = %g, want %g", tc.angle, got, tc.want)
			}
		})
	}
}

func TestCountsCalculator_NeutralSetpoint(t *testing.T) {
	cc := NewCountsCalculator(config.Default())
	// Camera faces backwards: dead ahead is half a revolution.
	if got := cc.NeutralSetpoint(); math.Abs(got-49109) > 1e-6 {
		t.Errorf("NeutralSetpoint = %g, want 49109", got)
	}
}

func TestCountsCalculator_SetpointFromBearing(t *testing.T) {
	cc := NewCountsCalculator(config.Default())
	left := cc.SetpointFromBearing(-10)
	right := cc.SetpointFromBearing(10)
	if left >= cc.NeutralSetpoint() || right <= cc.NeutralSetpoint() {
		t.Errorf("setpoints should bracket neutral: left=%g neutral=%g right=%g", left, cc.NeutralSetpoint(), right)
	}
	if got := right - left; math.Abs(got-20*cc.CountsPerDegree()) > 1e-6 {
		t.Errorf("20° span = %g counts, want %g", got, 20*cc.CountsPerDegree())
	}
}

func TestCountsCalculator_AngleRoundTrip(t *testing.T) {
	cc := NewCountsCalculator(config.Default())
	for _, counts := range []int64{0, 1000, -5000, 98218} {
		back := cc.CountsFromAngle(cc.AngleFromCounts(counts))
		if math.Abs(back-float64(counts)) > 1e-6 {
			t.Errorf("round trip of %d gave %g", counts, back)
		}
	}
}
