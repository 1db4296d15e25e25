package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/thermoturret/internal/config"
	"github.com/cjeanneret/thermoturret/internal/hw/gpio"
	"github.com/cjeanneret/thermoturret/internal/hw/motor"
	"github.com/cjeanneret/thermoturret/internal/hw/servo"
	"github.com/cjeanneret/thermoturret/internal/hw/thermal"
	"github.com/cjeanneret/thermoturret/internal/logic/control"
	"github.com/cjeanneret/thermoturret/internal/logic/geometry"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeTracker reports a fixed position and counts Zero calls.
type fakeTracker struct {
	pos    int64
	zeroes int
}

func (f *fakeTracker) Read() int64 { return f.pos }
func (f *fakeTracker) Zero()       { f.zeroes++; f.pos = 0 }

type recordingIndicator struct {
	on    bool
	calls []bool
	err   error
}

func (r *recordingIndicator) On() error {
	r.on = true
	r.calls = append(r.calls, true)
	return r.err
}

func (r *recordingIndicator) Off() error {
	r.on = false
	r.calls = append(r.calls, false)
	return r.err
}

type failingMotor struct{ err error }

func (f failingMotor) SetLevel(float64) error { return f.err }

// scriptedSource is ready on the polls listed in readyOn (1-based).
type scriptedSource struct {
	frame   *thermal.Frame
	readyOn map[int]bool
	errOn   map[int]bool
	polls   int
}

func (s *scriptedSource) CaptureNonBlocking() (*thermal.Frame, bool, error) {
	s.polls++
	if s.errOn[s.polls] {
		return nil, false, errors.New("i2c timeout")
	}
	if s.readyOn[s.polls] {
		return s.frame, true, nil
	}
	return nil, false, nil
}

type countingRecorder struct {
	steps, frames, shots, cycles int
	lastU                        float64
}

func (c *countingRecorder) ObserveStep(u float64, _ int64, _ float64) {
	c.steps++
	c.lastU = u
}

func (c *countingRecorder) FrameParsed()  { c.frames++ }
func (c *countingRecorder) ShotFired()    { c.shots++ }
func (c *countingRecorder) CycleStarted() { c.cycles++ }

func testSettings() Settings {
	return Settings{
		IntervalMs:      10,
		SettleTicks:     3,
		HoldTicks:       3,
		Threshold:       15,
		PulledMs:        1.65,
		RestMs:          2.0,
		NeutralSetpoint: 49109,
		ImageWaitTicks:  2,
		MaxSteps:        50,
		ButtonPeriod:    10 * time.Millisecond,
		ImagePeriod:     50 * time.Millisecond,
		RotatePeriod:    10 * time.Millisecond,
		ButtonPriority:  3,
		RotatePriority:  2,
		ImagePriority:   1,
	}
}

func newLocalizer(t *testing.T, cfg *config.Config) *geometry.Localizer {
	t.Helper()
	fov, err := geometry.NewFOVCalculator(cfg)
	if err != nil {
		t.Fatalf("NewFOVCalculator: %v", err)
	}
	policy, err := geometry.ParsePolicy(cfg.Sensor.Policy)
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	return geometry.NewLocalizer(fov, geometry.NewCountsCalculator(cfg), policy)
}

func hotColumnFrame(t *testing.T, rows, cols, hot int) *thermal.Frame {
	t.Helper()
	data := make([][]int, rows)
	for r := range data {
		data[r] = make([]int, cols)
	}
	data[rows/2][hot] = 100
	f, err := thermal.NewFrame(data)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

// rig bundles fakes around a Deps value.
type rig struct {
	deps    Deps
	start   *gpio.RemoteButton
	led     *recordingIndicator
	tracker *fakeTracker
	motor   *motor.Mock
	trigger *servo.Mock
	source  *scriptedSource
	rec     *countingRecorder
	ctl     *control.Controller
	clock   *fakeClock
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cfg := config.Default()
	r := &rig{
		start:   &gpio.RemoteButton{},
		led:     &recordingIndicator{},
		tracker: &fakeTracker{},
		motor:   &motor.Mock{},
		trigger: servo.NewMock(servo.DefaultConfig()),
		source:  &scriptedSource{frame: hotColumnFrame(t, 24, 32, 16), readyOn: map[int]bool{}},
		rec:     &countingRecorder{},
		clock:   &fakeClock{now: time.Unix(2000, 0)},
	}
	ctl, err := control.New(r.tracker, r.motor, 1.0, 0.1, 200, control.WithClock(r.clock.Now))
	if err != nil {
		t.Fatalf("control.New: %v", err)
	}
	r.ctl = ctl
	r.deps = Deps{
		Start:      r.start,
		LED:        r.led,
		Tracker:    r.tracker,
		Motor:      r.motor,
		Trigger:    r.trigger,
		Source:     r.source,
		Localizer:  newLocalizer(t, cfg),
		Controller: ctl,
		Recorder:   r.rec,
	}
	return r
}
