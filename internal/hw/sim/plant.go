package sim

import (
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/thermoturret/internal/hw/motor"
)

// PlantConfig describes a DC motor with a first-order speed response and
// a wrapping quadrature counter on its shaft.
type PlantConfig struct {
	CountsPerSecondPerPercent float64       // steady-state speed per percent of level
	TimeConstant              time.Duration // speed lag
	CounterMax                uint32        // counter wraps after this value
	InitialCount              uint32        // raw counter value at power-up
}

// DefaultPlantConfig is tuned to the turret's default PD gains.
func DefaultPlantConfig() PlantConfig {
	return PlantConfig{
		CountsPerSecondPerPercent: 100,
		TimeConstant:              100 * time.Millisecond,
		CounterMax:                0xFFFF,
	}
}

const substep = time.Millisecond

// Plant simulates the rotational actuator and its counter. It satisfies
// motor.Motor and tracker.Counter. State advances lazily to clock() on
// every call.
type Plant struct {
	mu       sync.Mutex
	cfg      PlantConfig
	clock    func() time.Time
	last     time.Time
	level    float64
	speed    float64 // counts per second
	position float64 // counts, unbounded
}

// NewPlant creates a plant at rest. A nil clock uses time.Now.
func NewPlant(cfg PlantConfig, clock func() time.Time) *Plant {
	if clock == nil {
		clock = time.Now
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = substep
	}
	if cfg.CounterMax == 0 {
		cfg.CounterMax = 0xFFFF
	}
	return &Plant{
		cfg:      cfg,
		clock:    clock,
		last:     clock(),
		position: float64(cfg.InitialCount),
	}
}

// SetLevel implements motor.Motor.
func (p *Plant) SetLevel(level float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	p.level = motor.Clamp(level)
	return nil
}

// Count implements tracker.Counter.
func (p *Plant) Count() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	span := float64(p.cfg.CounterMax) + 1
	c := math.Mod(math.Floor(p.position), span)
	if c < 0 {
		c += span
	}
	return uint32(c)
}

// Max implements tracker.Counter.
func (p *Plant) Max() uint32 {
	return p.cfg.CounterMax
}

// Level returns the last clamped level.
func (p *Plant) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Shaft returns the unbounded shaft position in counts.
func (p *Plant) Shaft() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	return p.position
}

func (p *Plant) advance() {
	now := p.clock()
	elapsed := now.Sub(p.last)
	if elapsed <= 0 {
		return
	}
	p.last = now

	h := substep.Seconds()
	tau := p.cfg.TimeConstant.Seconds()
	target := p.cfg.CountsPerSecondPerPercent * p.level
	for elapsed > 0 {
		dt := h
		if elapsed < substep {
			dt = elapsed.Seconds()
		}
		p.speed += (target - p.speed) * dt / tau
		p.position += p.speed * dt
		elapsed -= substep
	}
}
