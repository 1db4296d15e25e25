package gpio

import (
	"errors"
	"testing"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls   []gpioCall
	level   Level
	readErr error
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	mode  PinMode
	level Level
}

func (d *recordingDriver) SetupPin(pin int, mode PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin, mode: mode})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (Level, error) {
	return d.level, d.readErr
}

func (d *recordingDriver) Close() error { return nil }

func TestButton_ActiveLow(t *testing.T) {
	drv := &recordingDriver{level: High}
	b, err := NewButton(drv, 6)
	if err != nil {
		t.Fatalf("NewButton: %v", err)
	}
	if drv.calls[0].op != "setup" || drv.calls[0].mode != InputPullUp {
		t.Errorf("button pin should be set up as pull-up input, got %+v", drv.calls[0])
	}

	if p, _ := b.Pressed(); p {
		t.Error("HIGH line should read as released")
	}
	drv.level = Low
	if p, _ := b.Pressed(); !p {
		t.Error("LOW line should read as pressed")
	}
}

func TestButton_ReadError(t *testing.T) {
	drv := &recordingDriver{readErr: errors.New("bus fault")}
	b, _ := NewButton(drv, 6)
	if _, err := b.Pressed(); err == nil {
		t.Error("expected read error to propagate")
	}
}

func TestRemoteButton_PressIsConsumed(t *testing.T) {
	var r RemoteButton
	if p, _ := r.Pressed(); p {
		t.Error("fresh remote button should not be pressed")
	}
	r.Press()
	if p, _ := r.Pressed(); !p {
		t.Error("expected latched press")
	}
	if p, _ := r.Pressed(); p {
		t.Error("press should be consumed by the first read")
	}
}

func TestAnyInput(t *testing.T) {
	drv := &recordingDriver{level: High}
	b, _ := NewButton(drv, 6)
	remote := &RemoteButton{}
	in := AnyInput{b, remote, nil}

	if p, _ := in.Pressed(); p {
		t.Error("no input asserted, got pressed")
	}
	remote.Press()
	if p, _ := in.Pressed(); !p {
		t.Error("remote press should assert AnyInput")
	}
	drv.level = Low
	if p, _ := in.Pressed(); !p {
		t.Error("physical press should assert AnyInput")
	}
}

func TestIndicator_OnOff(t *testing.T) {
	drv := &recordingDriver{}
	led, err := NewIndicator(drv, 5)
	if err != nil {
		t.Fatalf("NewIndicator: %v", err)
	}
	_ = led.On()
	_ = led.Off()

	var writes []Level
	for _, c := range drv.calls {
		if c.op == "write" {
			writes = append(writes, c.level)
		}
	}
	want := []Level{Low, High, Low}
	if len(writes) != len(want) {
		t.Fatalf("writes = %v, want %v", writes, want)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, writes[i], want[i])
		}
	}
}

func TestMockDriver_PullUpIdlesHigh(t *testing.T) {
	m := NewMockDriver()
	_ = m.SetupPin(6, InputPullUp)
	if l, _ := m.ReadPin(6); l != High {
		t.Errorf("pull-up input should idle HIGH, got %v", l)
	}
	m.Set(6, Low)
	if l, _ := m.ReadPin(6); l != Low {
		t.Errorf("forced level = %v, want LOW", l)
	}
}
