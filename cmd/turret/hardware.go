package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/thermoturret/internal/config"
	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/encoder"
	"github.com/cjeanneret/thermoturret/internal/hw/gpio"
	"github.com/cjeanneret/thermoturret/internal/hw/motor"
	"github.com/cjeanneret/thermoturret/internal/hw/servo"
	"github.com/cjeanneret/thermoturret/internal/hw/sim"
	"github.com/cjeanneret/thermoturret/internal/hw/thermal"
	"github.com/cjeanneret/thermoturret/internal/logic/tracker"
)

// hardware is the set of collaborators behind one turret, real or simulated.
type hardware struct {
	button  *gpio.Button
	remote  *gpio.RemoteButton
	start   gpio.Input
	led     *gpio.Indicator
	counter tracker.Counter
	motor   motor.Motor
	trigger servo.Trigger
	source  thermal.Source
	scene   *thermal.Simulated

	closers []func() error
}

// openHardware opens every device named by cfg. On error, whatever was
// already opened is closed again.
func openHardware(cfg *config.Config) (_ *hardware, err error) {
	hw := &hardware{remote: &gpio.RemoteButton{}}
	defer func() {
		if err != nil {
			hw.Close()
		}
	}()

	debug.Step(1, "Initializing GPIO driver")
	driver, err := gpio.NewDriver(cfg.Defaults.MockHardware)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	hw.closers = append(hw.closers, driver.Close)

	if hw.button, err = gpio.NewButton(driver, cfg.IO.StartPin); err != nil {
		return nil, fmt.Errorf("start button on pin %d: %w", cfg.IO.StartPin, err)
	}
	if hw.led, err = gpio.NewIndicator(driver, cfg.IO.LEDPin); err != nil {
		return nil, fmt.Errorf("indicator on pin %d: %w", cfg.IO.LEDPin, err)
	}
	hw.start = gpio.AnyInput{hw.button, hw.remote}

	servoCfg := servo.DefaultConfig()
	servoCfg.MinMs = cfg.Trigger.MinMs
	servoCfg.MaxMs = cfg.Trigger.MaxMs

	if cfg.Defaults.MockHardware {
		debug.Step(2, "Initializing simulated plant and trigger")
		plant := sim.NewPlant(sim.DefaultPlantConfig(), time.Now)
		hw.counter = plant
		hw.motor = plant
		hw.trigger = servo.NewMock(servoCfg)
	} else {
		debug.Step(2, "Initializing LS7366R, PCA9685 and trigger servo")
		spi, err := encoder.OpenRPiSPI(uint8(cfg.Encoder.ChipSelect), cfg.Encoder.SPISpeedHz)
		if err != nil {
			return nil, err
		}
		hw.closers = append(hw.closers, spi.Close)
		hw.counter = encoder.NewLS7366R(spi)

		dev, bus, err := motor.OpenPCA9685(cfg.Motor.I2CBus, uint16(cfg.Motor.Address), cfg.Motor.PWMFreqHz)
		if err != nil {
			return nil, err
		}
		hw.closers = append(hw.closers, bus.Close)
		if hw.motor, err = motor.NewHBridge(dev, cfg.Motor.ForwardChannel, cfg.Motor.ReverseChannel); err != nil {
			return nil, err
		}
		hw.trigger = servo.NewRPiServo(cfg.Trigger.Pin, servoCfg)
	}
	debug.PrintStruct("Trigger servo config", servoCfg)

	// No thermal chip driver is bundled; both modes render the scene.
	debug.Step(3, "Initializing thermal source (simulated scene)")
	hw.scene = thermal.NewSimulated(thermal.SimConfig{
		Rows:          cfg.Sensor.Rows,
		Columns:       cfg.Sensor.Columns,
		TargetColumn:  cfg.Sensor.SimTargetCol,
		TargetRow:     cfg.Sensor.SimTargetRow,
		Ambient:       20,
		Peak:          15,
		PollsPerFrame: cfg.Sensor.PollsPerFrame,
		Lo:            cfg.Sensor.LimitLo,
		Hi:            cfg.Sensor.LimitHi,
	})
	hw.source = hw.scene

	return hw, nil
}

// Close releases the devices in reverse opening order.
func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

// waitForRelease blocks until in reads released, so a button held at
// power-up does not start a cycle.
func waitForRelease(ctx context.Context, in gpio.Input, poll time.Duration) error {
	warned := false
	for {
		pressed, err := in.Pressed()
		if err != nil {
			return fmt.Errorf("read start input: %w", err)
		}
		if !pressed {
			return nil
		}
		if !warned {
			debug.Info("Start input held at startup; waiting for release")
			warned = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}
