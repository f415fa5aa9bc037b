// Package hw defines the hardware capability that the device packages drive.  Everything that
// actually touches a bus or a pin goes through IO; the devices never open files themselves.
package hw

import "fmt"

type Pin int

type Mode uint8

const (
	ModeInput Mode = iota
	ModeOutput
	ModeAnalog
	ModePWM
	ModeServo
)

func (m Mode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	case ModeAnalog:
		return "analog"
	case ModePWM:
		return "pwm"
	case ModeServo:
		return "servo"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

// Subscription is returned by a recurring read.  Stop removes the callback; it is safe to call
// from inside the callback itself.
type Subscription interface {
	Stop()
}

type IO interface {
	PinMode(pin Pin, mode Mode) error
	DigitalWrite(pin Pin, level Level) error

	// AnalogRead calls fn with every new sample on pin until the subscription is stopped.
	// Samples are in the converter's native 10-bit range, 0-1023.
	AnalogRead(pin Pin, fn func(value int)) (Subscription, error)

	// PWMWrite writes a device-domain value (degrees for servo-mode pins, duty for PWM pins).
	PWMWrite(pin Pin, value float64) error

	I2CWrite(addr uint8, data []byte) error
	// I2CRead reads n bytes starting at reg and hands them to fn.
	I2CRead(addr uint8, reg byte, n int, fn func(data []byte)) error
}
