package geometry

import (
	"github.com/cjeanneret/thermoturret/internal/config"
)

// CountsCalculator converts turret angles to encoder counts.
type CountsCalculator struct {
	countsPerDegree float64
	offsetDeg       float64
}

// NewCountsCalculator creates a counts calculator from configuration.
func NewCountsCalculator(cfg *config.Config) *CountsCalculator {
	return &CountsCalculator{
		countsPerDegree: float64(cfg.Encoder.CountsPerRev) / 360.0,
		offsetDeg:       cfg.Geometry.CameraOffsetDeg,
	}
}

// CountsPerDegree returns the encoder resolution.
func (c *CountsCalculator) CountsPerDegree() float64 {
	return c.countsPerDegree
}

// CountsFromAngle converts an absolute turret angle (degrees from rest) to counts.
func (c *CountsCalculator) CountsFromAngle(angleDegrees float64) float64 {
	return angleDegrees * c.countsPerDegree
}

// AngleFromCounts converts a tracked position back to degrees from rest.
func (c *CountsCalculator) AngleFromCounts(counts int64) float64 {
	return float64(counts) / c.countsPerDegree
}

// SetpointFromBearing converts a bearing relative to the camera
// centerline into an absolute position setpoint.
// Formula: setpoint = (bearing + offset) × counts_per_rev / 360
func (c *CountsCalculator) SetpointFromBearing(bearing float64) float64 {
	return c.CountsFromAngle(bearing + c.offsetDeg)
}

// NeutralSetpoint is the setpoint for a target dead ahead of the camera.
func (c *CountsCalculator) NeutralSetpoint() float64 {
	return c.SetpointFromBearing(0)
}
