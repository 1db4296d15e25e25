package gpio

import (
	"sync/atomic"

	"github.com/cjeanneret/thermoturret/internal/debug"
)

// Input reports whether an operator input is currently asserted.
type Input interface {
	Pressed() (bool, error)
}

// Button is an active-low push button with the internal pull-up enabled.
type Button struct {
	gpio Driver
	pin  int
}

// NewButton configures pin as a pulled-up input.
func NewButton(g Driver, pin int) (*Button, error) {
	if err := g.SetupPin(pin, InputPullUp); err != nil {
		return nil, err
	}
	return &Button{gpio: g, pin: pin}, nil
}

// Pressed returns true while the button pulls the line LOW.
func (b *Button) Pressed() (bool, error) {
	l, err := b.gpio.ReadPin(b.pin)
	if err != nil {
		return false, err
	}
	return l == Low, nil
}

// RemoteButton is a latched virtual button pressed from another goroutine
// (the web surface). Reading it consumes the press.
type RemoteButton struct {
	pending atomic.Bool
}

// Press latches a press until the next read.
func (r *RemoteButton) Press() {
	debug.Live("Remote start requested")
	r.pending.Store(true)
}

// Pressed implements Input.
func (r *RemoteButton) Pressed() (bool, error) {
	return r.pending.Swap(false), nil
}

// AnyInput is asserted when any of its inputs is asserted.
type AnyInput []Input

// Pressed implements Input. Every input is read so latched presses
// are consumed together.
func (a AnyInput) Pressed() (bool, error) {
	pressed := false
	for _, in := range a {
		if in == nil {
			continue
		}
		p, err := in.Pressed()
		if err != nil {
			return false, err
		}
		pressed = pressed || p
	}
	return pressed, nil
}

// Indicator is a single active-high output such as the board LED.
type Indicator struct {
	gpio Driver
	pin  int
}

// NewIndicator configures pin as an output and switches it off.
func NewIndicator(g Driver, pin int) (*Indicator, error) {
	if err := g.SetupPin(pin, Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, Low); err != nil {
		return nil, err
	}
	return &Indicator{gpio: g, pin: pin}, nil
}

// On drives the indicator HIGH.
func (i *Indicator) On() error {
	return i.gpio.WritePin(i.pin, High)
}

// Off drives the indicator LOW.
func (i *Indicator) Off() error {
	return i.gpio.WritePin(i.pin, Low)
}
