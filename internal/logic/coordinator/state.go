// Package coordinator sequences one aim-and-fire cycle with cooperative
// tasks. Every Tick does a bounded amount of work and returns; the tasks
// share a Shared value whose fields each have a single writer per tick,
// so no locking is needed as long as ticks never run concurrently.
package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/thermal"
)

// ErrInvalidState is returned when a task's state is outside its enumeration.
var ErrInvalidState = errors.New("invalid task state")

// ButtonState is the state of the button task.
type ButtonState int

const (
	ButtonCheck ButtonState = iota // waiting for the start input
	ButtonInit                     // arming indicators, zeroing the tracker
	ButtonWait                     // settle delay
	ButtonDone                     // cycle started, nothing left to do
)

func (s ButtonState) String() string {
	switch s {
	case ButtonCheck:
		return "CHECK"
	case ButtonInit:
		return "INIT"
	case ButtonWait:
		return "WAIT"
	case ButtonDone:
		return "DONE"
	default:
		return fmt.Sprintf("ButtonState(%d)", int(s))
	}
}

// ImageState is the state of the image task.
type ImageState int

const (
	ImageCapture ImageState = iota // polling the sensor while enabled
	ImageParse                     // turning the captured frame into a setpoint
)

func (s ImageState) String() string {
	switch s {
	case ImageCapture:
		return "CAPTURE"
	case ImageParse:
		return "PARSE"
	default:
		return fmt.Sprintf("ImageState(%d)", int(s))
	}
}

// RotateState is the state of the rotate task.
type RotateState int

const (
	RotateRun  RotateState = iota // closed-loop aiming while motion is enabled
	RotateFire                    // trigger pulled, holding
)

func (s RotateState) String() string {
	switch s {
	case RotateRun:
		return "RUN"
	case RotateFire:
		return "FIRE"
	default:
		return fmt.Sprintf("RotateState(%d)", int(s))
	}
}

// Shared is the state exchanged between tasks during one cycle.
type Shared struct {
	ImageEnabled  bool    // written by button (set), image and rotate (clear)
	MotionEnabled bool    // written by button (set) and rotate (clear)
	Setpoint      float64 // written by button (seed) and image; read by rotate
	Latest        *thermal.Frame
	Previous      *thermal.Frame
	CycleID       string
}

// Reset restores the initial values.
func (s *Shared) Reset() {
	*s = Shared{}
}

// Shared value names declared to the scheduler.
const (
	ShareImageEnabled  = "image_enabled"
	ShareMotionEnabled = "motion_enabled"
	ShareSetpoint      = "setpoint"
	ShareFrames        = "frames"
	ShareCycleID       = "cycle_id"
)

// Indicator is a binary output such as the armed LED.
type Indicator interface {
	On() error
	Off() error
}

// Tracker is the position sensor the button task zeroes.
type Tracker interface {
	Read() int64
	Zero()
}

// Recorder receives cycle events. *observability.TurretCollector
// satisfies it.
type Recorder interface {
	ObserveStep(u float64, position int64, setpoint float64)
	FrameParsed()
	ShotFired()
	CycleStarted()
}

type nopRecorder struct{}

func (nopRecorder) ObserveStep(float64, int64, float64) {}
func (nopRecorder) FrameParsed()                         {}
func (nopRecorder) ShotFired()                           {}
func (nopRecorder) CycleStarted()                        {}

func transition[S fmt.Stringer](task string, cur *S, next S) {
	debug.State(task, *cur, next)
	*cur = next
}

func invalid(task string, state fmt.Stringer) error {
	return fmt.Errorf("%w: %s task in state %s", ErrInvalidState, task, state)
}

// Settings holds the timing and actuation constants of a cycle.
type Settings struct {
	IntervalMs      int     // rotate task period, also the controller interval
	SettleTicks     int     // button ticks between start and arming
	HoldTicks       int     // rotate ticks the trigger stays pulled
	Threshold       float64 // |u| below this means aligned
	PulledMs        float64 // trigger pulse when firing
	RestMs          float64 // trigger pulse at rest
	NeutralSetpoint float64 // setpoint seeded at the start of a cycle
	RearmEvery      int     // rotate steps between image re-captures; 0 = once per cycle
	MaxSteps        int     // sequencer only: steps before firing regardless of |u|
	ImageWaitTicks  int     // sequencer only: ticks between two capture polls

	ButtonPeriod, ImagePeriod, RotatePeriod       time.Duration
	ButtonPriority, ImagePriority, RotatePriority int
}
