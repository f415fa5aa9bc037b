package pca9685

import (
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.

	PreScale50Hz = 0x79

	NumChannels = 16

	PWMMax = 4095

	// Default ESC pulse range, in microseconds.
	PulseMin = 544
	PulseMax = 2400

	// Off-time ticks are the pulse width in microseconds divided by MicrosPerTick.
	MicrosPerTick = 4
)

var ErrChannelOutOfRange = errors.New("PCA9685 channel out of range")

// Driver talks to one PCA9685 chip.  All ESCs on the same address share a Driver.
type Driver struct {
	io     hw.IO
	addr   uint8
	logger golog.Logger
}

func (d *Driver) Addr() uint8 {
	return d.addr
}

func (d *Driver) writeReg(reg byte, value byte) error {
	return d.io.I2CWrite(d.addr, []byte{reg, value})
}

// Configure puts the chip into 50Hz mode with auto-increment enabled.
func (d *Driver) Configure() (err error) {
	// Put device to sleep.
	err = d.writeReg(RegMode1, 0x11)
	if err != nil {
		return
	}
	// Update pre-scaler for 50Hz.
	err = d.writeReg(RegPreScale, PreScale50Hz)
	if err != nil {
		return
	}
	// Trigger a reset
	err = d.writeReg(RegMode1, 0x01)
	if err != nil {
		return
	}
	// Required delay after reset.
	time.Sleep(1 * time.Millisecond)
	// Enable.
	err = d.writeReg(RegMode1, 0xa1)
	return
}

// Frame builds the register write that sets channel to a pulse of the given width.
func Frame(channel int, pulseMicros float64) []byte {
	var on uint16
	off := uint16(mathx.Clamp(pulseMicros/MicrosPerTick, 0, PWMMax))
	return []byte{
		byte(RegLEDBase + channel*4),
		byte(on & 0xff), byte(on >> 8),
		byte(off & 0xff), byte(off >> 8),
	}
}

func (d *Driver) SetPulse(channel int, pulseMicros float64) error {
	if channel < 0 || channel >= NumChannels {
		return errors.Wrapf(ErrChannelOutOfRange, "channel %d", channel)
	}
	return d.io.I2CWrite(d.addr, Frame(channel, pulseMicros))
}

// Drivers hands out one configured Driver per I2C address.
type Drivers struct {
	lock   sync.Mutex
	io     hw.IO
	logger golog.Logger
	byAddr map[uint8]*Driver
}

func NewDrivers(io hw.IO, logger golog.Logger) *Drivers {
	return &Drivers{
		io:     io,
		logger: logger,
		byAddr: map[uint8]*Driver{},
	}
}

// Get returns the driver for addr, creating and configuring it the first time the address is
// seen.
func (ds *Drivers) Get(addr uint8) (*Driver, error) {
	ds.lock.Lock()
	defer ds.lock.Unlock()
	if d, ok := ds.byAddr[addr]; ok {
		return d, nil
	}
	d := &Driver{io: ds.io, addr: addr, logger: ds.logger}
	if err := d.Configure(); err != nil {
		return nil, errors.Wrapf(err, "failed to configure PCA9685 at 0x%02x", addr)
	}
	ds.logger.Infow("PCA9685 configured", "addr", addr)
	ds.byAddr[addr] = d
	return d, nil
}

func (ds *Drivers) Lookup(addr uint8) (*Driver, bool) {
	ds.lock.Lock()
	defer ds.lock.Unlock()
	d, ok := ds.byAddr[addr]
	return d, ok
}
