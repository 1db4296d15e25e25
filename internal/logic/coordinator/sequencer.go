package coordinator

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/sched"
)

// SequenceState is the state of the single-task sequencer.
type SequenceState int

const (
	SeqIdle   SequenceState = iota // motor off, tracker held at zero, waiting for start
	SeqWait                        // settle delay
	SeqLocate                      // polling the sensor
	SeqParse                       // frame to setpoint
	SeqRotate                      // closed-loop aiming
	SeqFire                        // trigger pulled, holding
	SeqReset                       // back to the initial state
)

func (s SequenceState) String() string {
	switch s {
	case SeqIdle:
		return "IDLE"
	case SeqWait:
		return "WAIT"
	case SeqLocate:
		return "LOCATE"
	case SeqParse:
		return "PARSE"
	case SeqRotate:
		return "ROTATE"
	case SeqFire:
		return "FIRE"
	case SeqReset:
		return "RESET"
	default:
		return fmt.Sprintf("SequenceState(%d)", int(s))
	}
}

// Sequencer runs a whole aim-and-fire cycle from one task and returns
// to IDLE afterwards, so every press of the start input fires once.
type Sequencer struct {
	Shared *Shared

	deps Deps
	rec  Recorder
	cfg  Settings

	state      SequenceState
	counter    int
	cycleStart time.Time
}

// NewSequencer creates a sequencer in the IDLE state.
func NewSequencer(deps Deps, cfg Settings) (*Sequencer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.IntervalMs <= 0 {
		return nil, fmt.Errorf("control interval must be > 0 ms, got %d", cfg.IntervalMs)
	}
	if cfg.ImageWaitTicks < 1 {
		cfg.ImageWaitTicks = 1
	}
	return &Sequencer{Shared: &Shared{}, deps: deps, rec: deps.recorder(), cfg: cfg}, nil
}

// State returns the current state.
func (s *Sequencer) State() SequenceState { return s.state }

// Task returns the scheduler registration of the sequencer.
func (s *Sequencer) Task() sched.Task {
	return sched.Task{
		Name:     "sequence",
		Priority: s.cfg.RotatePriority,
		Period:   s.cfg.RotatePeriod,
		Shares:   []string{ShareImageEnabled, ShareMotionEnabled, ShareSetpoint, ShareFrames, ShareCycleID},
		Body:     s.Tick,
	}
}

// Shutdown puts the actuators in their safe state.
func (s *Sequencer) Shutdown() error {
	return Shutdown(s.deps.Motor, s.deps.Trigger, s.deps.LED)
}

// Tick runs one step of the sequence. Waits are counted in ticks.
func (s *Sequencer) Tick(now time.Time) error {
	d := s.deps
	switch s.state {
	case SeqIdle:
		pressed, err := d.Start.Pressed()
		if err != nil {
			return fmt.Errorf("read start input: %w", err)
		}
		if !pressed {
			if err := d.Motor.SetLevel(0); err != nil {
				return fmt.Errorf("stop motor: %w", err)
			}
			d.Tracker.Zero()
			return nil
		}
		if err := d.LED.On(); err != nil {
			return fmt.Errorf("arm indicator: %w", err)
		}
		if err := d.Trigger.SetPulseWidth(s.cfg.RestMs); err != nil {
			return fmt.Errorf("trigger to rest: %w", err)
		}
		s.Shared.CycleID = uuid.NewString()
		s.rec.CycleStarted()
		debug.Info("Cycle %s started", s.Shared.CycleID)
		s.counter = 0
		s.move(SeqWait)
	case SeqWait:
		if s.counter >= s.cfg.SettleTicks {
			s.counter = 0
			s.Shared.ImageEnabled = true
			s.move(SeqLocate)
			return nil
		}
		s.counter++
	case SeqLocate:
		if s.counter > 0 {
			s.counter--
			return nil
		}
		frame, ready, err := d.Source.CaptureNonBlocking()
		if err != nil {
			debug.Error(err)
		}
		if err != nil || !ready {
			s.counter = s.cfg.ImageWaitTicks - 1
			return nil
		}
		s.Shared.Latest = frame
		s.counter = 0
		s.move(SeqParse)
	case SeqParse:
		frame := s.Shared.Latest
		s.Shared.Setpoint = d.Localizer.Locate(frame)
		s.Shared.Previous, s.Shared.Latest = frame, nil
		s.Shared.ImageEnabled = false
		s.Shared.MotionEnabled = true
		s.rec.FrameParsed()
		debug.Frame(frame.Rows(), frame.Columns(), s.Shared.Setpoint)
		d.Controller.SetSetpoint(s.Shared.Setpoint)
		s.move(SeqRotate)
	case SeqRotate:
		if s.counter == 0 {
			s.cycleStart = now
			d.Controller.Reset()
			d.Controller.Rebase()
		}
		u, err := d.Controller.Step(s.cfg.IntervalMs, s.cycleStart)
		if err != nil {
			return fmt.Errorf("controller step: %w", err)
		}
		s.counter++
		s.rec.ObserveStep(u, d.Controller.LastPosition(), s.Shared.Setpoint)
		aligned := math.Abs(u) < s.cfg.Threshold
		if aligned || (s.cfg.MaxSteps > 0 && s.counter >= s.cfg.MaxSteps) {
			if !aligned {
				debug.Info("Cycle %s: not aligned after %d steps (u=%.2f), firing anyway", s.Shared.CycleID, s.counter, u)
			}
			if err := d.Motor.SetLevel(0); err != nil {
				return fmt.Errorf("stop motor: %w", err)
			}
			s.counter = 0
			s.move(SeqFire)
		}
	case SeqFire:
		if s.counter == 0 {
			if err := d.Trigger.SetPulseWidth(s.cfg.PulledMs); err != nil {
				return fmt.Errorf("pull trigger: %w", err)
			}
			s.rec.ShotFired()
			debug.Shot(s.Shared.CycleID, s.cfg.PulledMs)
		}
		if s.counter >= s.cfg.HoldTicks {
			s.counter = 0
			s.move(SeqReset)
			return nil
		}
		s.counter++
	case SeqReset:
		if d.OnFired != nil {
			d.OnFired(s.Shared.CycleID, d.Controller.Log())
		}
		if err := d.Motor.SetLevel(0); err != nil {
			return fmt.Errorf("stop motor: %w", err)
		}
		if err := d.Trigger.SetPulseWidth(s.cfg.RestMs); err != nil {
			return fmt.Errorf("release trigger: %w", err)
		}
		if err := d.LED.Off(); err != nil {
			return fmt.Errorf("indicator off: %w", err)
		}
		debug.Info("Cycle %s done", s.Shared.CycleID)
		s.Shared.Reset()
		s.counter = 0
		d.Controller.SetSetpoint(0)
		d.Tracker.Zero()
		s.move(SeqIdle)
	default:
		return invalid("sequence", s.state)
	}
	return nil
}

func (s *Sequencer) move(next SequenceState) {
	transition("sequence", &s.state, next)
}
