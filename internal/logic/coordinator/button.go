package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/gpio"
	"github.com/cjeanneret/thermoturret/internal/hw/servo"
)

// ButtonTask waits for the start input, arms the turret, lets the
// operator clear the area, then enables imaging and motion once.
type ButtonTask struct {
	shared  *Shared
	start   gpio.Input
	led     Indicator
	tracker Tracker
	trigger servo.Trigger
	rec     Recorder
	cfg     Settings

	state  ButtonState
	waited int
}

// State returns the current state.
func (b *ButtonTask) State() ButtonState { return b.state }

// Tick runs one step of the button state machine.
func (b *ButtonTask) Tick(now time.Time) error {
	switch b.state {
	case ButtonCheck:
		pressed, err := b.start.Pressed()
		if err != nil {
			return fmt.Errorf("read start input: %w", err)
		}
		if pressed {
			transition("button", &b.state, ButtonInit)
		}
	case ButtonInit:
		if err := b.led.On(); err != nil {
			return fmt.Errorf("arm indicator: %w", err)
		}
		if err := b.trigger.SetPulseWidth(b.cfg.RestMs); err != nil {
			return fmt.Errorf("trigger to rest: %w", err)
		}
		b.tracker.Zero()
		b.shared.Setpoint = b.cfg.NeutralSetpoint
		b.shared.CycleID = uuid.NewString()
		b.rec.CycleStarted()
		debug.Info("Cycle %s armed, settling for %d ticks", b.shared.CycleID, b.cfg.SettleTicks)
		b.waited = 0
		transition("button", &b.state, ButtonWait)
	case ButtonWait:
		if b.waited >= b.cfg.SettleTicks {
			b.shared.ImageEnabled = true
			b.shared.MotionEnabled = true
			b.waited = 0
			transition("button", &b.state, ButtonDone)
			return nil
		}
		b.waited++
	case ButtonDone:
	default:
		return invalid("button", b.state)
	}
	return nil
}
