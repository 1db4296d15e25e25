package geometry

import (
	"fmt"

	"github.com/cjeanneret/thermoturret/internal/hw/thermal"
)

// Policy selects how the target column is picked inside the hottest row.
type Policy int

const (
	PolicyCentroid Policy = iota // intensity-weighted mean column
	PolicyArgmax                 // first column holding the row maximum
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyCentroid:
		return "centroid"
	case PolicyArgmax:
		return "argmax"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration name into a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "centroid", "":
		return PolicyCentroid, nil
	case "argmax":
		return PolicyArgmax, nil
	default:
		return 0, fmt.Errorf("unknown localization policy %q", name)
	}
}

// HottestRow returns the index of the row with the largest mean
// intensity. Ties keep the first such row; an empty frame yields 0.
func HottestRow(f *thermal.Frame) int {
	best, bestSum := 0, 0
	for r := 0; r < f.Rows(); r++ {
		sum := 0
		for c := 0; c < f.Columns(); c++ {
			sum += f.At(r, c)
		}
		// All rows have the same width, so comparing sums compares means.
		if r == 0 || sum > bestSum {
			best, bestSum = r, sum
		}
	}
	return best
}

// Centroid returns the intensity-weighted mean column of row.
// A row with no mass (empty or all zero) yields 0.
func Centroid(row []int) float64 {
	var mass, moment float64
	for i, v := range row {
		mass += float64(v)
		moment += float64(i) * float64(v)
	}
	if mass == 0 {
		return 0
	}
	return moment / mass
}

// ArgmaxColumn returns the first column holding the row maximum, or 0
// for an empty row.
func ArgmaxColumn(row []int) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// Localizer turns a thermal frame into a turret position setpoint.
type Localizer struct {
	fov    *FOVCalculator
	counts *CountsCalculator
	policy Policy
}

// NewLocalizer creates a localizer over the given calculators.
func NewLocalizer(fov *FOVCalculator, counts *CountsCalculator, policy Policy) *Localizer {
	return &Localizer{fov: fov, counts: counts, policy: policy}
}

// Policy returns the column selection policy.
func (l *Localizer) Policy() Policy {
	return l.policy
}

// Column returns the target column of the hottest row.
func (l *Localizer) Column(f *thermal.Frame) float64 {
	if f.Rows() == 0 {
		return 0
	}
	row := f.Row(HottestRow(f))
	if l.policy == PolicyArgmax {
		return float64(ArgmaxColumn(row))
	}
	return Centroid(row)
}

// Bearing returns the target bearing relative to the camera centerline.
func (l *Localizer) Bearing(f *thermal.Frame) float64 {
	return l.fov.BearingFromColumn(l.Column(f))
}

// Locate returns the absolute position setpoint, in counts, that points
// the turret at the hottest spot of the frame.
func (l *Localizer) Locate(f *thermal.Frame) float64 {
	return l.counts.SetpointFromBearing(l.Bearing(f))
}
