// Package ads1115 drives the TI ADS1115 16-bit I2C analog-to-digital converter in single-shot
// mode.
package ads1115

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultAddr = 0x48

	RegConversion = 0
	RegConfig     = 1

	NumChannels = 4

	// ConversionTime covers one conversion at the default 128 samples per second.
	ConversionTime = 9 * time.Millisecond

	configStart      = 1 << 15
	configSingleEnd  = 0x4 << 12
	configSingleShot = 1 << 8
	configRate128    = 0x4 << 5
	configNoCompare  = 0x3
)

// Gain selects the programmable amplifier's full-scale range.
type Gain uint16

const (
	Gain6V   Gain = 0 << 9 // ±6.144V
	Gain4V   Gain = 1 << 9 // ±4.096V
	Gain2V   Gain = 2 << 9 // ±2.048V
	Gain1V   Gain = 3 << 9 // ±1.024V
	Gain512m Gain = 4 << 9 // ±0.512V
	Gain256m Gain = 5 << 9 // ±0.256V
)

var ErrChannelOutOfRange = errors.New("ADS1115 channel out of range")

type Bus interface {
	I2CWrite(addr uint8, data []byte) error
	I2CRead(addr uint8, reg byte, n int, fn func(data []byte)) error
}

type ADS1115 struct {
	bus  Bus
	addr uint8
	gain Gain
}

func New(bus Bus, addr uint8, gain Gain) *ADS1115 {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &ADS1115{
		bus:  bus,
		addr: addr,
		gain: gain,
	}
}

func (a *ADS1115) Addr() uint8 {
	return a.addr
}

// ConfigWord is the config register value that starts a single-ended conversion on channel.
func (a *ADS1115) ConfigWord(channel int) uint16 {
	return configStart | configSingleEnd | uint16(channel)<<12 | uint16(a.gain) |
		configSingleShot | configRate128 | configNoCompare
}

// StartConversion kicks off a conversion.  The result is ready after ConversionTime.
func (a *ADS1115) StartConversion(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return errors.Wrapf(ErrChannelOutOfRange, "channel %d", channel)
	}
	cfg := a.ConfigWord(channel)
	return a.bus.I2CWrite(a.addr, []byte{RegConfig, byte(cfg >> 8), byte(cfg)})
}

// ReadConversion reads the last conversion result.
func (a *ADS1115) ReadConversion(fn func(raw int16)) error {
	return a.bus.I2CRead(a.addr, RegConversion, 2, func(data []byte) {
		fn(int16(uint16(data[0])<<8 | uint16(data[1])))
	})
}

// TenBit maps a single-ended reading onto 0-1023.  Readings below ground clamp to zero.
func TenBit(raw int16) int {
	if raw < 0 {
		return 0
	}
	return int(raw) >> 5
}
