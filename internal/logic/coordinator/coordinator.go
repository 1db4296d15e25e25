package coordinator

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/thermoturret/internal/config"
	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/gpio"
	"github.com/cjeanneret/thermoturret/internal/hw/motor"
	"github.com/cjeanneret/thermoturret/internal/hw/servo"
	"github.com/cjeanneret/thermoturret/internal/hw/thermal"
	"github.com/cjeanneret/thermoturret/internal/logic/control"
	"github.com/cjeanneret/thermoturret/internal/logic/geometry"
	"github.com/cjeanneret/thermoturret/internal/sched"
)

// Deps are the collaborators of a cycle.
type Deps struct {
	Start      gpio.Input
	LED        Indicator
	Tracker    Tracker
	Motor      motor.Motor
	Trigger    servo.Trigger
	Source     thermal.Source
	Localizer  *geometry.Localizer
	Controller *control.Controller
	Recorder   Recorder // optional

	// OnFired is called from the rotate tick that releases the trigger,
	// with a snapshot of the controller log. It must not block.
	OnFired func(cycleID string, log control.StepLog)
}

func (d Deps) validate() error {
	switch {
	case d.Start == nil:
		return errors.New("start input is required")
	case d.LED == nil:
		return errors.New("indicator is required")
	case d.Tracker == nil:
		return errors.New("tracker is required")
	case d.Motor == nil:
		return errors.New("motor is required")
	case d.Trigger == nil:
		return errors.New("trigger is required")
	case d.Source == nil:
		return errors.New("thermal source is required")
	case d.Localizer == nil:
		return errors.New("localizer is required")
	case d.Controller == nil:
		return errors.New("controller is required")
	}
	return nil
}

func (d Deps) recorder() Recorder {
	if d.Recorder == nil {
		return nopRecorder{}
	}
	return d.Recorder
}

// SettingsFromConfig derives cycle settings from the configuration.
func SettingsFromConfig(cfg *config.Config, neutral float64) Settings {
	imageWait := cfg.Tasks.ImagePeriodMs / cfg.Tasks.RotatePeriodMs
	if imageWait < 1 {
		imageWait = 1
	}
	return Settings{
		IntervalMs:      cfg.Tasks.RotatePeriodMs,
		SettleTicks:     cfg.SettleTicks(),
		HoldTicks:       cfg.HoldTicks(),
		Threshold:       cfg.Controller.ActuationThreshold,
		PulledMs:        cfg.Trigger.PulledMs,
		RestMs:          cfg.Trigger.RestMs,
		NeutralSetpoint: neutral,
		RearmEvery:      cfg.Tasks.RearmEvery,
		MaxSteps:        cfg.Controller.MaxSteps,
		ImageWaitTicks:  imageWait,
		ButtonPeriod:    cfg.ButtonPeriod(),
		ImagePeriod:     cfg.ImagePeriod(),
		RotatePeriod:    cfg.RotatePeriod(),
		ButtonPriority:  cfg.Tasks.ButtonPriority,
		ImagePriority:   cfg.Tasks.ImagePriority,
		RotatePriority:  cfg.Tasks.RotatePriority,
	}
}

// Coordinator owns the button, image and rotate tasks of one turret.
type Coordinator struct {
	Shared *Shared
	Button *ButtonTask
	Image  *ImageTask
	Rotate *RotateTask

	deps Deps
	cfg  Settings
}

// New wires the three tasks around a fresh Shared state.
func New(deps Deps, cfg Settings) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.IntervalMs <= 0 {
		return nil, fmt.Errorf("control interval must be > 0 ms, got %d", cfg.IntervalMs)
	}
	shared := &Shared{}
	rec := deps.recorder()
	return &Coordinator{
		Shared: shared,
		Button: &ButtonTask{
			shared:  shared,
			start:   deps.Start,
			led:     deps.LED,
			tracker: deps.Tracker,
			trigger: deps.Trigger,
			rec:     rec,
			cfg:     cfg,
		},
		Image: &ImageTask{
			shared:    shared,
			source:    deps.Source,
			localizer: deps.Localizer,
			rec:       rec,
		},
		Rotate: &RotateTask{
			shared:     shared,
			controller: deps.Controller,
			motor:      deps.Motor,
			trigger:    deps.Trigger,
			rec:        rec,
			cfg:        cfg,
			onFired:    deps.OnFired,
		},
		deps: deps,
		cfg:  cfg,
	}, nil
}

// Tasks returns the scheduler registrations of the three tasks.
func (c *Coordinator) Tasks() []sched.Task {
	return []sched.Task{
		{
			Name:     "button",
			Priority: c.cfg.ButtonPriority,
			Period:   c.cfg.ButtonPeriod,
			Shares:   []string{ShareImageEnabled, ShareMotionEnabled, ShareSetpoint, ShareCycleID},
			Body:     c.Button.Tick,
		},
		{
			Name:     "rotate",
			Priority: c.cfg.RotatePriority,
			Period:   c.cfg.RotatePeriod,
			Shares:   []string{ShareImageEnabled, ShareMotionEnabled, ShareSetpoint},
			Body:     c.Rotate.Tick,
		},
		{
			Name:     "image",
			Priority: c.cfg.ImagePriority,
			Period:   c.cfg.ImagePeriod,
			Shares:   []string{ShareImageEnabled, ShareSetpoint, ShareFrames},
			Body:     c.Image.Tick,
		},
	}
}

// Shutdown puts the actuators in their safe state and releases the
// indicator.
func (c *Coordinator) Shutdown() error {
	return Shutdown(c.deps.Motor, c.deps.Trigger, c.deps.LED)
}

// Shutdown stops the motor, rests the trigger and turns the indicator
// off. Every step is attempted even if an earlier one fails.
func Shutdown(m motor.Motor, t servo.Trigger, led Indicator) error {
	debug.Info("Shutdown: motor off, trigger to rest, indicator off")
	var errs []error
	if m != nil {
		if err := m.SetLevel(0); err != nil {
			errs = append(errs, fmt.Errorf("stop motor: %w", err))
		}
	}
	if t != nil {
		if err := t.Rest(); err != nil {
			errs = append(errs, fmt.Errorf("rest trigger: %w", err))
		}
	}
	if led != nil {
		if err := led.Off(); err != nil {
			errs = append(errs, fmt.Errorf("indicator off: %w", err))
		}
	}
	return errors.Join(errs...)
}
