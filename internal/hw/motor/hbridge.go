package motor

import (
	"fmt"
	"math"

	"github.com/cjeanneret/thermoturret/internal/debug"
	pgpio "periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/experimental/devices/pca9685"
	"periph.io/x/periph/host"
)

// pcaCounts is the PCA9685 PWM resolution (12 bit).
const pcaCounts = 4096

// PWMController drives PWM channels. *pca9685.Dev satisfies it.
type PWMController interface {
	SetPwm(channel int, on, off pgpio.Duty) error
}

// HBridge drives a brushed DC motor through an H-bridge whose two inputs
// are fed by two PWM channels: forward on one, reverse on the other.
type HBridge struct {
	pwm     PWMController
	forward int
	reverse int
}

// NewHBridge creates a motor on the given channels and stops it.
func NewHBridge(pwm PWMController, forwardChannel, reverseChannel int) (*HBridge, error) {
	h := &HBridge{pwm: pwm, forward: forwardChannel, reverse: reverseChannel}
	if err := h.SetLevel(0); err != nil {
		return nil, fmt.Errorf("stop motor: %w", err)
	}
	return h, nil
}

// SetLevel clamps level to [-100, 100] and drives one side of the bridge
// while holding the other at 0.
func (h *HBridge) SetLevel(level float64) error {
	level = Clamp(level)
	duty := dutyCounts(math.Abs(level))

	active, idle := h.forward, h.reverse
	if level < 0 {
		active, idle = h.reverse, h.forward
	}
	debug.Trace("HBridge level=%.1f duty=%d ch=%d", level, duty, active)

	// Always release the idle side first so both inputs are never driven together.
	if err := h.pwm.SetPwm(idle, 0, 0); err != nil {
		return err
	}
	return h.pwm.SetPwm(active, 0, duty)
}

// dutyCounts converts a 0..100 percentage into PCA9685 off-counts.
func dutyCounts(percent float64) pgpio.Duty {
	c := int(math.Round(percent / 100 * (pcaCounts - 1)))
	if c < 0 {
		c = 0
	}
	if c > pcaCounts-1 {
		c = pcaCounts - 1
	}
	return pgpio.Duty(c)
}

// OpenPCA9685 initializes periph, opens the I2C bus and configures the
// PCA9685 PWM frequency. The returned closer releases the bus.
func OpenPCA9685(busName string, address uint16, freqHz int) (*pca9685.Dev, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("open I2C bus %q: %w", busName, err)
	}
	dev, err := pca9685.NewI2C(bus, address)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("pca9685 at %#x: %w", address, err)
	}
	if err := dev.SetPwmFreq(physic.Frequency(freqHz) * physic.Hertz); err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("pca9685 set frequency: %w", err)
	}
	debug.Verbose("PCA9685 ready on %s addr=%#x freq=%dHz", busName, address, freqHz)
	return dev, bus, nil
}
