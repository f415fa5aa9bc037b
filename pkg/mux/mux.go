// Package mux drives a 16-channel analog multiplexer (CD74HC4067 style) from four digital
// select lines.
package mux

import (
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
)

const NumChannels = 16

var ErrChannelOutOfRange = errors.New("mux channel out of range")

type Mux struct {
	io    hw.IO
	lines [4]hw.Pin
}

// New puts the select lines into output mode.  lines[0] is the least significant bit.
func New(io hw.IO, lines [4]hw.Pin) (*Mux, error) {
	for _, pin := range lines {
		if err := io.PinMode(pin, hw.ModeOutput); err != nil {
			return nil, errors.Wrapf(err, "failed to set mux line %d to output", pin)
		}
	}
	return &Mux{
		io:    io,
		lines: lines,
	}, nil
}

func (m *Mux) Lines() [4]hw.Pin {
	return m.lines
}

// Select routes channel to the common pin.
func (m *Mux) Select(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return errors.Wrapf(ErrChannelOutOfRange, "channel %d", channel)
	}
	for i, pin := range m.lines {
		level := hw.Low
		if channel&(1<<uint(i)) != 0 {
			level = hw.High
		}
		if err := m.io.DigitalWrite(pin, level); err != nil {
			return errors.Wrapf(err, "failed to write mux line %d", pin)
		}
	}
	return nil
}
