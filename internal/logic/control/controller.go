package control

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/motor"
)

// ErrInvalidGain is returned when a gain is rejected.
var ErrInvalidGain = errors.New("invalid gain")

// Sensor reports the current turret position in counts.
type Sensor interface {
	Read() int64
}

// Sample is one entry of the step log.
type Sample struct {
	Elapsed  time.Duration // since the cycle start passed to Step
	Position int64
}

// Controller is a proportional-derivative position controller.
// It sits between the coordinator (which decides setpoints and when to
// stop) and the motor (which turns a signed level into torque).
type Controller struct {
	sensor   Sensor
	actuator motor.Motor
	now      func() time.Time

	kp, kd         float64
	setpoint       float64
	targetVelocity float64
	prevPos        int64

	log *ring
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now as the source of log timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller. Gains are validated like SetGains and the
// log holds at most capacity samples.
func New(sensor Sensor, actuator motor.Motor, kp, kd float64, capacity int, opts ...Option) (*Controller, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("log capacity must be > 0, got %d", capacity)
	}
	c := &Controller{
		sensor:   sensor,
		actuator: actuator,
		now:      time.Now,
		log:      newRing(capacity),
	}
	if err := c.SetGains(kp, kd); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Step runs one control update and returns the actuation command sent
// to the motor. intervalMs is the time since the previous step and is
// trusted as is.
func (c *Controller) Step(intervalMs int, cycleStart time.Time) (float64, error) {
	if intervalMs <= 0 {
		return 0, fmt.Errorf("control interval must be > 0 ms, got %d", intervalMs)
	}
	p := c.sensor.Read()
	velocity := float64(p-c.prevPos) * 1000 / float64(intervalMs)
	u := c.kp*(c.setpoint-float64(p)) + c.kd*(c.targetVelocity-velocity)

	err := c.actuator.SetLevel(u)

	c.log.push(Sample{Elapsed: c.now().Sub(cycleStart), Position: p})
	c.prevPos = p
	debug.Actuation(u, p, c.setpoint)

	if err != nil {
		return u, fmt.Errorf("set motor level: %w", err)
	}
	return u, nil
}

// SetSetpoint sets the desired position in counts.
func (c *Controller) SetSetpoint(v float64) { c.setpoint = v }

// Setpoint returns the desired position in counts.
func (c *Controller) Setpoint() float64 { return c.setpoint }

// SetTargetVelocity sets the desired velocity in counts per second.
func (c *Controller) SetTargetVelocity(v float64) { c.targetVelocity = v }

// SetGains replaces both gains. Kp must be strictly positive and both
// gains must be finite; on error the previous gains are kept.
func (c *Controller) SetGains(kp, kd float64) error {
	if math.IsNaN(kp) || math.IsInf(kp, 0) || kp <= 0 {
		return fmt.Errorf("%w: kp=%g must be a finite value > 0", ErrInvalidGain, kp)
	}
	if math.IsNaN(kd) || math.IsInf(kd, 0) {
		return fmt.Errorf("%w: kd=%g must be finite", ErrInvalidGain, kd)
	}
	c.kp, c.kd = kp, kd
	return nil
}

// LastPosition returns the position read by the latest step.
func (c *Controller) LastPosition() int64 { return c.prevPos }

// Gains returns the current gains.
func (c *Controller) Gains() (kp, kd float64) { return c.kp, c.kd }

// Reset clears the step log. Gains, setpoint and the previous position
// are kept.
func (c *Controller) Reset() { c.log.clear() }

// Rebase reads the sensor and takes that reading as the previous
// position. Call it when the sensor origin has moved, so the next step
// does not see the jump as velocity.
func (c *Controller) Rebase() int64 {
	c.prevPos = c.sensor.Read()
	return c.prevPos
}

// SetCapacity changes the log capacity and clears the log.
func (c *Controller) SetCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("log capacity must be > 0, got %d", capacity)
	}
	c.log = newRing(capacity)
	return nil
}

// Capacity returns the log capacity.
func (c *Controller) Capacity() int { return len(c.log.buf) }

// Samples returns the logged samples, oldest first.
func (c *Controller) Samples() []Sample { return c.log.items() }

// ring is a fixed-capacity FIFO that overwrites its oldest entry.
type ring struct {
	buf   []Sample
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Sample {
	out := make([]Sample, r.n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) clear() {
	r.start, r.n = 0, 0
}
