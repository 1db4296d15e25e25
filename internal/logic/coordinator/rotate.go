package coordinator

import (
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/motor"
	"github.com/cjeanneret/thermoturret/internal/hw/servo"
	"github.com/cjeanneret/thermoturret/internal/logic/control"
)

// RotateTask drives the turret toward the shared setpoint and fires
// once the controller output drops under the threshold.
type RotateTask struct {
	shared     *Shared
	controller *control.Controller
	motor      motor.Motor
	trigger    servo.Trigger
	rec        Recorder
	cfg        Settings
	onFired    func(cycleID string, log control.StepLog)

	state      RotateState
	started    bool
	cycleStart time.Time
	steps      int
	held       int
	lastU      float64
}

// State returns the current state.
func (r *RotateTask) State() RotateState { return r.state }

// Steps returns the controller steps run in the current cycle.
func (r *RotateTask) Steps() int { return r.steps }

// LastCommand returns the latest controller output.
func (r *RotateTask) LastCommand() float64 { return r.lastU }

// Tick runs one step of the rotate state machine.
func (r *RotateTask) Tick(now time.Time) error {
	switch r.state {
	case RotateRun:
		if !r.shared.MotionEnabled {
			r.started = false
			return nil
		}
		if !r.started {
			r.started = true
			r.cycleStart = now
			r.steps = 0
			r.controller.Reset()
			r.controller.Rebase()
		}
		r.controller.SetSetpoint(r.shared.Setpoint)
		u, err := r.controller.Step(r.cfg.IntervalMs, r.cycleStart)
		if err != nil {
			return fmt.Errorf("controller step: %w", err)
		}
		r.steps++
		r.lastU = u
		r.rec.ObserveStep(u, r.controller.LastPosition(), r.shared.Setpoint)

		if math.Abs(u) < r.cfg.Threshold {
			r.shared.ImageEnabled = false
			if err := r.motor.SetLevel(0); err != nil {
				return fmt.Errorf("stop motor: %w", err)
			}
			debug.Info("Cycle %s aligned after %d steps (u=%.2f)", r.shared.CycleID, r.steps, u)
			r.held = 0
			transition("rotate", &r.state, RotateFire)
			return nil
		}
		if r.cfg.RearmEvery > 0 && r.steps%r.cfg.RearmEvery == 0 {
			r.shared.ImageEnabled = true
		}
	case RotateFire:
		if r.held == 0 {
			if err := r.trigger.SetPulseWidth(r.cfg.PulledMs); err != nil {
				return fmt.Errorf("pull trigger: %w", err)
			}
			r.rec.ShotFired()
			debug.Shot(r.shared.CycleID, r.cfg.PulledMs)
		}
		if r.held >= r.cfg.HoldTicks {
			if err := r.trigger.SetPulseWidth(r.cfg.RestMs); err != nil {
				return fmt.Errorf("release trigger: %w", err)
			}
			r.shared.MotionEnabled = false
			r.started = false
			r.held = 0
			if r.onFired != nil {
				r.onFired(r.shared.CycleID, r.controller.Log())
			}
			transition("rotate", &r.state, RotateRun)
			return nil
		}
		r.held++
	default:
		return invalid("rotate", r.state)
	}
	return nil
}
