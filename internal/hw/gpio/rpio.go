package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// maxBCMPin is the highest GPIO exposed on the 40-pin header.
const maxBCMPin = 27

// RPiDriver drives header pins through go-rpio. It remembers the mode of
// every configured pin so Close can return outputs LOW and drop pulls.
type RPiDriver struct {
	mu    sync.Mutex
	modes map[int]PinMode
}

// NewRPiRealDriver maps the GPIO registers. The mapping is shared by the
// trigger servo PWM and the SPI counter, so it must be opened first and
// closed last.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("map GPIO registers: %w (not a Raspberry Pi, or no access to /dev/gpiomem?)", err)
	}
	return &RPiDriver{modes: make(map[int]PinMode)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if pin < 0 || pin > maxBCMPin {
		return fmt.Errorf("pin %d outside BCM range 0-%d", pin, maxBCMPin)
	}

	p := rpio.Pin(pin)
	switch mode {
	case InputFloating:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
		p.Low()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.mu.Lock()
	r.modes[pin] = mode
	r.mu.Unlock()
	return nil
}

func (r *RPiDriver) mode(pin int) (PinMode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modes[pin]
	return m, ok
}

// WritePin drives an output. Writing a pin configured as input is an
// error rather than a silent mode switch.
func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m, ok := r.mode(pin)
	if !ok {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
	} else if m != Output {
		return fmt.Errorf("pin %d is configured as input", pin)
	}

	if level == High {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	if _, ok := r.mode(pin); !ok {
		if err := r.SetupPin(pin, InputFloating); err != nil {
			return Low, err
		}
	}
	state := rpio.Pin(pin).Read()
	debug.GPIO("ReadPin", pin, state)
	return Level(state == rpio.High), nil
}

// Close drives outputs LOW, releases pulls and unmaps the registers.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	for pin, m := range r.modes {
		p := rpio.Pin(pin)
		if m == Output {
			p.Low()
		}
		p.Input()
		p.PullOff()
	}
	r.modes = map[int]PinMode{}
	return rpio.Close()
}
