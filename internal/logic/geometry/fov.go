package geometry

import (
	"fmt"
	"math"

	"github.com/cjeanneret/thermoturret/internal/config"
)

// FOVCalculator maps thermal sensor columns to turret bearings.
// The camera and the turret look at the same target plane from
// different distances, so the camera field of view is rescaled to the
// angle the same plane segment subtends at the turret.
type FOVCalculator struct {
	cfg *config.Config
}

// NewFOVCalculator creates a new FOV calculator.
// Returns an error if the geometry cannot produce a finite field of view.
func NewFOVCalculator(cfg *config.Config) (*FOVCalculator, error) {
	g := cfg.Geometry
	if g.CameraDistance <= 0 || g.TurretDistance <= 0 {
		return nil, fmt.Errorf("camera and turret distances must be > 0, got %g and %g", g.CameraDistance, g.TurretDistance)
	}
	if g.CameraFOVDeg <= 0 || g.CameraFOVDeg >= 180 {
		return nil, fmt.Errorf("camera field of view must be in (0, 180) degrees, got %g", g.CameraFOVDeg)
	}
	if cfg.Sensor.Columns <= 0 {
		return nil, fmt.Errorf("sensor must have at least one column, got %d", cfg.Sensor.Columns)
	}
	return &FOVCalculator{cfg: cfg}, nil
}

// TurretFOV returns the field of view seen from the turret, in degrees.
// Formula: FOV_t = 2 × arctan(c × tan(FOV_c / 2) / t)
func (f *FOVCalculator) TurretFOV() float64 {
	g := f.cfg.Geometry
	half := g.CameraFOVDeg / 2 * math.Pi / 180
	return 2 * math.Atan(g.CameraDistance*math.Tan(half)/g.TurretDistance) * 180 / math.Pi
}

// DegreesPerColumn returns the turret angle covered by one sensor column.
func (f *FOVCalculator) DegreesPerColumn() float64 {
	return f.TurretFOV() / float64(f.cfg.Sensor.Columns)
}

// BearingFromColumn converts a (possibly fractional) column index into a
// bearing relative to the camera centerline, in degrees. Column 0 maps to
// -FOV_t/2 and column W/2 to 0.
func (f *FOVCalculator) BearingFromColumn(column float64) float64 {
	return column*f.DegreesPerColumn() - f.TurretFOV()/2
}
