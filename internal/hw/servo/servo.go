package servo

import (
	"math"
	"sync"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// Trigger is the servo that pulls the trigger.
type Trigger interface {
	// SetPulseWidth commands a pulse width in milliseconds, clamped to the
	// servo's valid range.
	SetPulseWidth(ms float64) error
	// Rest disables the PWM output entirely.
	Rest() error
}

// Config describes the PWM timing of a hobby servo.
type Config struct {
	PeriodMs float64 // PWM frame, 20 ms for 50 Hz servos
	MinMs    float64 // shortest valid pulse
	MaxMs    float64 // longest valid pulse
	Cycle    uint32  // PWM counts per frame
}

// DefaultConfig matches a 1501MG style servo on a 50 Hz frame.
func DefaultConfig() Config {
	return Config{PeriodMs: 20, MinMs: 0.8, MaxMs: 2.2, Cycle: 20000}
}

// Counts converts a pulse width into PWM counts after clamping it to
// [MinMs, MaxMs].
func (c Config) Counts(ms float64) uint32 {
	ms = math.Max(c.MinMs, math.Min(ms, c.MaxMs))
	n := math.Round(ms / c.PeriodMs * float64(c.Cycle))
	if n > float64(c.Cycle) {
		n = float64(c.Cycle)
	}
	return uint32(n)
}

// PWMPin is a hardware PWM output. rpio.Pin satisfies it.
type PWMPin interface {
	DutyCycle(dutyLen, cycleLen uint32)
}

// PWMServo drives a servo from a hardware PWM pin.
type PWMServo struct {
	pin PWMPin
	cfg Config
}

// NewPWMServo wraps an already configured PWM pin.
func NewPWMServo(pin PWMPin, cfg Config) *PWMServo {
	return &PWMServo{pin: pin, cfg: cfg}
}

// NewRPiServo puts a Raspberry Pi pin (12, 13, 18 or 19) in hardware PWM
// mode at the frame rate of cfg. GPIO memory must already be mapped and
// the process must run as root for PWM clock access.
func NewRPiServo(pinNumber int, cfg Config) *PWMServo {
	p := rpio.Pin(pinNumber)
	p.Pwm()
	p.Freq(int(math.Round(float64(cfg.Cycle) * 1000 / cfg.PeriodMs)))
	debug.Verbose("Servo PWM on pin %d (%d counts per %.1f ms)", pinNumber, cfg.Cycle, cfg.PeriodMs)
	return NewPWMServo(p, cfg)
}

// SetPulseWidth sets the duty cycle for a clamped pulse of ms milliseconds.
func (s *PWMServo) SetPulseWidth(ms float64) error {
	n := s.cfg.Counts(ms)
	debug.Trace("Servo pulse %.3f ms -> %d/%d", ms, n, s.cfg.Cycle)
	s.pin.DutyCycle(n, s.cfg.Cycle)
	return nil
}

// Rest drops the duty cycle to zero so the servo stops holding.
func (s *PWMServo) Rest() error {
	debug.Trace("Servo output disabled")
	s.pin.DutyCycle(0, s.cfg.Cycle)
	return nil
}

// Mock records pulse widths for development and tests.
type Mock struct {
	mu     sync.Mutex
	cfg    Config
	pulses []float64
}

// NewMock creates a mock servo that clamps like the real one.
func NewMock(cfg Config) *Mock {
	return &Mock{cfg: cfg}
}

// SetPulseWidth records the clamped pulse width.
func (m *Mock) SetPulseWidth(ms float64) error {
	ms = math.Max(m.cfg.MinMs, math.Min(ms, m.cfg.MaxMs))
	debug.Trace("Servo (mock) pulse %.3f ms", ms)
	m.mu.Lock()
	m.pulses = append(m.pulses, ms)
	m.mu.Unlock()
	return nil
}

// Rest records a 0 pulse.
func (m *Mock) Rest() error {
	debug.Trace("Servo (mock) rest")
	m.mu.Lock()
	m.pulses = append(m.pulses, 0)
	m.mu.Unlock()
	return nil
}

// Pulses returns every commanded pulse width; 0 marks a Rest.
func (m *Mock) Pulses() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.pulses...)
}

// Last returns the most recent pulse width, or 0 if none.
func (m *Mock) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pulses) == 0 {
		return 0
	}
	return m.pulses[len(m.pulses)-1]
}
