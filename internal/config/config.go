package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeTasks    = "tasks"    // button, image and rotate tasks
	ModeSequence = "sequence" // single state machine that resets after each shot
)

// GeometryConfig places the camera and turret relative to the target plane.
// Distances share any unit; only their ratio matters.
type GeometryConfig struct {
	CameraDistance  float64 `yaml:"camera_distance"`   // perpendicular camera-to-target-plane distance
	TurretDistance  float64 `yaml:"turret_distance"`   // perpendicular turret-to-target-plane distance
	CameraFOVDeg    float64 `yaml:"camera_fov_deg"`    // horizontal camera field of view
	CameraOffsetDeg float64 `yaml:"camera_offset_deg"` // turret rotation from rest to camera boresight (camera faces backwards: 180)
}

// SensorConfig describes the thermal sensor frames and how they are parsed.
type SensorConfig struct {
	Columns       int     `yaml:"columns"`         // W
	Rows          int     `yaml:"rows"`            // H
	LimitLo       int     `yaml:"limit_lo"`        // scaled intensity floor
	LimitHi       int     `yaml:"limit_hi"`        // scaled intensity ceiling
	Policy        string  `yaml:"policy"`          // "centroid" or "argmax"
	SimTargetCol  float64 `yaml:"sim_target_col"`  // mock mode: heat blob column
	SimTargetRow  float64 `yaml:"sim_target_row"`  // mock mode: heat blob row
	PollsPerFrame int     `yaml:"polls_per_frame"` // mock mode: polls before a frame is ready
}

// EncoderConfig holds the position counter parameters.
type EncoderConfig struct {
	CountsPerRev int `yaml:"counts_per_rev"` // counts per turret revolution
	ChipSelect   int `yaml:"chip_select"`    // SPI0 chip select of the LS7366R
	SPISpeedHz   int `yaml:"spi_speed_hz"`
}

// MotorConfig holds the H-bridge PWM wiring.
type MotorConfig struct {
	I2CBus         string `yaml:"i2c_bus"`         // "" = first bus
	Address        int    `yaml:"address"`         // PCA9685 address
	ForwardChannel int    `yaml:"forward_channel"` // clockwise
	ReverseChannel int    `yaml:"reverse_channel"` // counter-clockwise
	PWMFreqHz      int    `yaml:"pwm_freq_hz"`
}

// TriggerConfig describes the trigger servo.
type TriggerConfig struct {
	Pin      int     `yaml:"pin"`       // hardware PWM pin (BCM)
	RestMs   float64 `yaml:"rest_ms"`   // released position
	PulledMs float64 `yaml:"pulled_ms"` // pulled position
	MinMs    float64 `yaml:"min_ms"`
	MaxMs    float64 `yaml:"max_ms"`
	HoldMs   int     `yaml:"hold_ms"` // how long the trigger stays pulled
}

// ControllerConfig holds the PD law parameters.
type ControllerConfig struct {
	Kp                 float64 `yaml:"kp"`
	Kd                 float64 `yaml:"kd"`
	TargetVelocity     float64 `yaml:"target_velocity"`     // counts per second
	ActuationThreshold float64 `yaml:"actuation_threshold"` // |u| below this means aligned
	LogCapacity        int     `yaml:"log_capacity"`        // samples kept in the step log
	MaxSteps           int     `yaml:"max_steps"`           // sequence mode: give up aligning after this many steps; 0 = no cap
}

// TasksConfig holds scheduling parameters.
type TasksConfig struct {
	ButtonPeriodMs int `yaml:"button_period_ms"`
	ImagePeriodMs  int `yaml:"image_period_ms"`
	RotatePeriodMs int `yaml:"rotate_period_ms"`
	ButtonPriority int `yaml:"button_priority"` // higher runs first
	ImagePriority  int `yaml:"image_priority"`
	RotatePriority int `yaml:"rotate_priority"`
	SettleMs       int `yaml:"settle_ms"`   // delay after the start button
	RearmEvery     int `yaml:"rearm_every"` // re-enable image capture every N rotate steps; 0 = once per cycle
}

// IOConfig holds the digital I/O pins (BCM).
type IOConfig struct {
	StartPin int `yaml:"start_pin"` // active low
	LEDPin   int `yaml:"led_pin"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel   int    `yaml:"debug_level"`   // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockHardware bool   `yaml:"mock_hardware"` // simulated hardware (true=dev/test, false=real Raspberry Pi)
	Mode         string `yaml:"mode"`          // "tasks" or "sequence"
	LogDir       string `yaml:"log_dir"`       // where controller step logs are written; "" = disabled
}

// Config aggregates all application configuration.
type Config struct {
	Geometry   GeometryConfig   `yaml:"geometry"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Motor      MotorConfig      `yaml:"motor"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	Controller ControllerConfig `yaml:"controller"`
	Tasks      TasksConfig      `yaml:"tasks"`
	IO         IOConfig         `yaml:"io"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := defaults()
	cfg.deriveSimTarget()
	return cfg
}

// defaults is the base that YAML is decoded onto, so keys missing from
// the file keep these values and explicit zeros survive. The simulated
// target is left as NaN and derived from the frame size afterwards.
func defaults() *Config {
	return &Config{
		Geometry: GeometryConfig{
			CameraDistance:  9,
			TurretDistance:  17,
			CameraFOVDeg:    55,
			CameraOffsetDeg: 180,
		},
		Sensor: SensorConfig{
			Columns:       32,
			Rows:          24,
			LimitHi:       100,
			Policy:        "centroid",
			SimTargetCol:  math.NaN(),
			SimTargetRow:  math.NaN(),
			PollsPerFrame: 2,
		},
		Encoder: EncoderConfig{CountsPerRev: 98218, SPISpeedHz: 1_000_000},
		Motor:   MotorConfig{Address: 0x40, ReverseChannel: 1, PWMFreqHz: 1000},
		Trigger: TriggerConfig{Pin: 18, RestMs: 2.0, PulledMs: 1.65, MinMs: 0.8, MaxMs: 2.2, HoldMs: 2000},
		Controller: ControllerConfig{
			Kp:                 1.0,
			Kd:                 0.1,
			ActuationThreshold: 15,
			LogCapacity:        200,
			MaxSteps:           1000,
		},
		Tasks: TasksConfig{
			ButtonPeriodMs: 10,
			ImagePeriodMs:  50,
			RotatePeriodMs: 10,
			ButtonPriority: 3,
			RotatePriority: 2,
			ImagePriority:  1,
			SettleMs:       5000,
		},
		IO:       IOConfig{StartPin: 6, LEDPin: 5},
		Defaults: DefaultsConfig{Mode: ModeTasks},
	}
}

func (c *Config) deriveSimTarget() {
	if math.IsNaN(c.Sensor.SimTargetCol) {
		c.Sensor.SimTargetCol = float64(c.Sensor.Columns) * 0.7
	}
	if math.IsNaN(c.Sensor.SimTargetRow) {
		c.Sensor.SimTargetRow = float64(c.Sensor.Rows) / 2
	}
}

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
// Keys present in the document win, including explicit zeros.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.deriveSimTarget()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	g := c.Geometry
	if !finitePositive(g.CameraDistance) || !finitePositive(g.TurretDistance) {
		return fmt.Errorf("geometry distances must be > 0, got camera=%g turret=%g", g.CameraDistance, g.TurretDistance)
	}
	if !finitePositive(g.CameraFOVDeg) || g.CameraFOVDeg >= 180 {
		return fmt.Errorf("camera_fov_deg must be in (0, 180), got %g", g.CameraFOVDeg)
	}
	if c.Sensor.Columns <= 0 || c.Sensor.Rows <= 0 {
		return fmt.Errorf("sensor geometry must be positive, got %dx%d", c.Sensor.Columns, c.Sensor.Rows)
	}
	if c.Sensor.LimitHi <= c.Sensor.LimitLo {
		return fmt.Errorf("sensor limits must satisfy lo < hi, got [%d, %d]", c.Sensor.LimitLo, c.Sensor.LimitHi)
	}
	switch c.Sensor.Policy {
	case "centroid", "argmax":
	default:
		return fmt.Errorf("sensor.policy must be centroid or argmax, got %q", c.Sensor.Policy)
	}
	if c.Encoder.CountsPerRev <= 0 {
		return fmt.Errorf("encoder.counts_per_rev must be > 0, got %d", c.Encoder.CountsPerRev)
	}
	if c.Motor.ForwardChannel == c.Motor.ReverseChannel {
		return fmt.Errorf("motor channels must differ, both are %d", c.Motor.ForwardChannel)
	}
	t := c.Trigger
	if t.MinMs <= 0 || t.MaxMs <= t.MinMs {
		return fmt.Errorf("trigger pulse range must satisfy 0 < min < max, got [%g, %g]", t.MinMs, t.MaxMs)
	}
	if t.HoldMs < 0 {
		return fmt.Errorf("trigger.hold_ms must be >= 0, got %d", t.HoldMs)
	}
	ctl := c.Controller
	if !finitePositive(ctl.Kp) {
		return fmt.Errorf("controller.kp must be > 0, got %g", ctl.Kp)
	}
	if math.IsNaN(ctl.Kd) || math.IsInf(ctl.Kd, 0) {
		return fmt.Errorf("controller.kd must be a number, got %g", ctl.Kd)
	}
	if !finitePositive(ctl.ActuationThreshold) {
		return fmt.Errorf("controller.actuation_threshold must be > 0, got %g", ctl.ActuationThreshold)
	}
	if ctl.LogCapacity <= 0 {
		return fmt.Errorf("controller.log_capacity must be > 0, got %d", ctl.LogCapacity)
	}
	if ctl.MaxSteps < 0 {
		return fmt.Errorf("controller.max_steps must be >= 0 (0 = no cap), got %d", ctl.MaxSteps)
	}
	k := c.Tasks
	if k.ButtonPeriodMs <= 0 || k.ImagePeriodMs <= 0 || k.RotatePeriodMs <= 0 {
		return errors.New("task periods must be > 0")
	}
	if k.SettleMs < 0 || k.RearmEvery < 0 {
		return errors.New("tasks.settle_ms and tasks.rearm_every must be >= 0")
	}
	switch c.Defaults.Mode {
	case ModeTasks, ModeSequence:
	default:
		return fmt.Errorf("defaults.mode must be %q or %q, got %q", ModeTasks, ModeSequence, c.Defaults.Mode)
	}
	return nil
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// ValidateConfigPath accepts only *.yaml files located directly in a
// directory named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path %q must not contain '..'", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// ButtonPeriod returns the button task period.
func (c *Config) ButtonPeriod() time.Duration {
	return time.Duration(c.Tasks.ButtonPeriodMs) * time.Millisecond
}

// ImagePeriod returns the image task period.
func (c *Config) ImagePeriod() time.Duration {
	return time.Duration(c.Tasks.ImagePeriodMs) * time.Millisecond
}

// RotatePeriod returns the rotate task period (the control interval).
func (c *Config) RotatePeriod() time.Duration {
	return time.Duration(c.Tasks.RotatePeriodMs) * time.Millisecond
}

// Settle returns the delay between the start button and arming.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Tasks.SettleMs) * time.Millisecond
}

// TriggerHold returns how long the trigger stays pulled.
func (c *Config) TriggerHold() time.Duration {
	return time.Duration(c.Trigger.HoldMs) * time.Millisecond
}

// SettleTicks is the settle delay counted in button task ticks.
func (c *Config) SettleTicks() int {
	return c.Tasks.SettleMs / c.Tasks.ButtonPeriodMs
}

// HoldTicks is the trigger hold counted in rotate task ticks.
func (c *Config) HoldTicks() int {
	return c.Trigger.HoldMs / c.Tasks.RotatePeriodMs
}
