package coordinator

import (
	"time"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/hw/thermal"
	"github.com/cjeanneret/thermoturret/internal/logic/geometry"
)

// ImageTask polls the thermal sensor while imaging is enabled and turns
// the next available frame into a setpoint.
type ImageTask struct {
	shared    *Shared
	source    thermal.Source
	localizer *geometry.Localizer
	rec       Recorder

	state ImageState
}

// State returns the current state.
func (i *ImageTask) State() ImageState { return i.state }

// Tick runs one step of the image state machine.
func (i *ImageTask) Tick(now time.Time) error {
	switch i.state {
	case ImageCapture:
		if !i.shared.ImageEnabled {
			return nil
		}
		frame, ready, err := i.source.CaptureNonBlocking()
		if err != nil {
			// A failed read is retried on the next tick.
			debug.Error(err)
			return nil
		}
		if !ready {
			return nil
		}
		i.shared.Latest = frame
		transition("image", &i.state, ImageParse)
	case ImageParse:
		frame := i.shared.Latest
		if frame == nil {
			transition("image", &i.state, ImageCapture)
			return nil
		}
		sp := i.localizer.Locate(frame)
		i.shared.Setpoint = sp
		i.shared.Previous = frame
		i.shared.Latest = nil
		i.shared.ImageEnabled = false
		i.rec.FrameParsed()
		debug.Frame(frame.Rows(), frame.Columns(), sp)
		transition("image", &i.state, ImageCapture)
	default:
		return invalid("image", i.state)
	}
	return nil
}
