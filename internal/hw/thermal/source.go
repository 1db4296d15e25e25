package thermal

import (
	"math"
	"sync"

	"github.com/cjeanneret/thermoturret/internal/debug"
)

// Source is the thermal sensor collaborator.
type Source interface {
	// CaptureNonBlocking returns (frame, true, nil) once a complete frame is
	// available and (nil, false, nil) while the exposure is still being read.
	// It never waits on the hardware.
	CaptureNonBlocking() (*Frame, bool, error)
}

// SimConfig describes the synthetic scene rendered by Simulated.
type SimConfig struct {
	Rows, Columns int
	TargetColumn  float64 // center of the heat blob, in columns
	TargetRow     float64
	Radius        float64 // blob radius, in pixels
	Ambient       float64 // background temperature
	Peak          float64 // blob temperature above ambient
	PollsPerFrame int     // polls needed before a frame is ready (two subpages on the MLX90640)
	Lo, Hi        int     // normalization limits
}

// Simulated renders a single warm target over a flat background. It
// becomes ready every PollsPerFrame polls, like a sensor that delivers
// two interleaved subpages per exposure.
type Simulated struct {
	mu    sync.Mutex
	cfg   SimConfig
	polls int
}

// NewSimulated creates a simulated sensor.
func NewSimulated(cfg SimConfig) *Simulated {
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultRows
	}
	if cfg.Columns <= 0 {
		cfg.Columns = DefaultColumns
	}
	if cfg.Radius <= 0 {
		cfg.Radius = 2.5
	}
	if cfg.PollsPerFrame <= 0 {
		cfg.PollsPerFrame = 2
	}
	if cfg.Hi <= cfg.Lo {
		cfg.Lo, cfg.Hi = 0, 100
	}
	return &Simulated{cfg: cfg}
}

// Columns returns the frame width.
func (s *Simulated) Columns() int { return s.cfg.Columns }

// Rows returns the frame height.
func (s *Simulated) Rows() int { return s.cfg.Rows }

// MoveTarget repositions the heat blob for subsequent frames.
func (s *Simulated) MoveTarget(column, row float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TargetColumn = column
	s.cfg.TargetRow = row
}

func (s *Simulated) CaptureNonBlocking() (*Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.polls < s.cfg.PollsPerFrame {
		return nil, false, nil
	}
	s.polls = 0

	c := s.cfg
	raw := make([]float64, c.Rows*c.Columns)
	for r := 0; r < c.Rows; r++ {
		for col := 0; col < c.Columns; col++ {
			d := math.Hypot(float64(col)-c.TargetColumn, float64(r)-c.TargetRow)
			raw[r*c.Columns+col] = c.Ambient + c.Peak*math.Exp(-(d*d)/(2*c.Radius*c.Radius))
		}
	}
	f, err := Normalize(raw, c.Rows, c.Columns, c.Lo, c.Hi, false)
	if err != nil {
		return nil, false, err
	}
	debug.Trace("Simulated frame ready (target col=%.1f row=%.1f)", c.TargetColumn, c.TargetRow)
	return f, true, nil
}
