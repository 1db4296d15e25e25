package encoder

import (
	"fmt"

	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// LS7366R op-codes and mode bits.
const (
	cmdClearCounter = 0x20
	cmdReadCounter  = 0x60
	cmdWriteMDR0    = 0x88
	cmdWriteMDR1    = 0x90

	mdr0Quadrature4x = 0x03 // x4 quadrature, free-running count
	mdr1TwoByte      = 0x02 // 16-bit counter
)

// Bus exchanges bytes full-duplex with a chip-selected SPI device.
// The response overwrites data in place.
type Bus interface {
	Exchange(data []byte)
}

// LS7366R reads a 16-bit quadrature counter. It satisfies tracker.Counter.
type LS7366R struct {
	bus Bus
}

// NewLS7366R configures the counter for x4 quadrature in 2-byte mode and
// clears it.
func NewLS7366R(bus Bus) *LS7366R {
	bus.Exchange([]byte{cmdWriteMDR0, mdr0Quadrature4x})
	bus.Exchange([]byte{cmdWriteMDR1, mdr1TwoByte})
	bus.Exchange([]byte{cmdClearCounter})
	debug.Trace("LS7366R configured (x4, 16-bit)")
	return &LS7366R{bus: bus}
}

// Count returns the raw counter value.
func (l *LS7366R) Count() uint32 {
	buf := []byte{cmdReadCounter, 0, 0}
	l.bus.Exchange(buf)
	v := uint32(buf[1])<<8 | uint32(buf[2])
	debug.Trace("LS7366R count=%d", v)
	return v
}

// Max returns the largest raw value before the counter wraps.
func (l *LS7366R) Max() uint32 {
	return 0xFFFF
}

// RPiSPI is a Bus on the Raspberry Pi SPI0 peripheral using go-rpio.
// GPIO memory must already be mapped (see gpio.NewRPiRealDriver).
type RPiSPI struct{}

// OpenRPiSPI starts SPI0 on the given chip select.
func OpenRPiSPI(chipSelect uint8, speedHz int) (*RPiSPI, error) {
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, fmt.Errorf("begin SPI0: %w", err)
	}
	rpio.SpiChipSelect(chipSelect)
	rpio.SpiSpeed(speedHz)
	rpio.SpiMode(0, 0)
	return &RPiSPI{}, nil
}

// Exchange implements Bus.
func (s *RPiSPI) Exchange(data []byte) {
	rpio.SpiExchange(data)
}

// Close releases SPI0 pins back to GPIO.
func (s *RPiSPI) Close() error {
	rpio.SpiEnd(rpio.Spi0)
	return nil
}
