// Package esc drives electronic speed controllers.  An ESC never jumps straight to a new speed:
// Speed ramps the output one unit per interval on the board's scheduler, writing each step
// through the controller's output (a direct PWM pin or a PCA9685 channel).
//
// ESC methods must be called from the scheduler's goroutine (see loop.Loop.Do).
package esc

import (
	"fmt"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/pca9685"
)

const DefaultInterval = 10 * time.Millisecond

// Env is what an ESC needs from the board it lives on.
type Env interface {
	IO() hw.IO
	Scheduler() loop.Scheduler
	PCA9685() *pca9685.Drivers
	ESCs() *Registry
	Logger() golog.Logger
}

// Controller selects how values reach the hardware.
type Controller int

const (
	Default Controller = iota
	PCA9685
)

func (c Controller) String() string {
	switch c {
	case Default:
		return "DEFAULT"
	case PCA9685:
		return "PCA9685"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

func ParseController(s string) (Controller, error) {
	switch strings.ToUpper(s) {
	case "", "DEFAULT":
		return Default, nil
	case "PCA9685":
		return PCA9685, nil
	}
	return 0, errors.Errorf("unknown ESC controller %q", s)
}

// Device selects the direction semantics.
type Device int

const (
	Unidirectional Device = iota
	ForwardReverse
)

func (d Device) String() string {
	switch d {
	case Unidirectional:
		return "DEFAULT"
	case ForwardReverse:
		return "FORWARD_REVERSE"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

func ParseDevice(s string) (Device, error) {
	switch strings.ToUpper(s) {
	case "", "DEFAULT":
		return Unidirectional, nil
	case "FORWARD_REVERSE":
		return ForwardReverse, nil
	}
	return 0, errors.Errorf("unknown ESC device %q", s)
}

// Range is an inclusive [low, high] pair.
type Range [2]float64

func (r Range) IsZero() bool {
	return r[0] == 0 && r[1] == 0
}

var DefaultRange = Range{0, 100}

type Config struct {
	ID         string
	Pin        hw.Pin
	Controller Controller
	Device     Device

	// Range bounds the values accepted by Speed.  Defaults to DefaultRange.
	Range Range
	// PWMRange is the device-domain range the speed range maps onto.  Defaults to the
	// controller's native range.
	PWMRange Range

	// Address is the PCA9685 I2C address.  Defaults to pca9685.DefaultAddr.
	Address uint8
	// Interval between ramp steps.  Defaults to DefaultInterval.
	Interval time.Duration

	// StartAt, if set, is passed to Speed during construction.
	StartAt *float64
	// Neutral is the stopped value; required for ForwardReverse devices.
	Neutral *float64
}

// Float returns a pointer to v, for the optional Config fields.
func Float(v float64) *float64 {
	return &v
}

type ConfigurationError struct {
	ID     string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ESC %q misconfigured: %s", e.ID, e.Reason)
}

// Committed is the last speed passed to Speed and the last device value written for it.
type Committed struct {
	Speed float64
	Value float64
}

type ESC struct {
	id       string
	pin      hw.Pin
	device   Device
	rng      Range
	pwmRange Range
	neutral  float64
	interval time.Duration

	out    writeFunc
	sched  loop.Scheduler
	logger golog.Logger

	value  float64
	target float64
	last   *Committed
	ramp   *loop.Task
}

// New creates an ESC, registers it with env.ESCs() and, if StartAt is set (or the device is
// ForwardReverse), starts it moving.
func New(env Env, cfg Config) (*ESC, error) {
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("esc-%d", cfg.Pin)
	}
	out, ok := outputs[cfg.Controller]
	if !ok {
		return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("unknown controller %v", cfg.Controller)}
	}
	if cfg.Range.IsZero() {
		cfg.Range = DefaultRange
	}
	if cfg.PWMRange.IsZero() {
		cfg.PWMRange = out.pwmRange
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Range[0] > cfg.Range[1] {
		return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("inverted range %v", cfg.Range)}
	}
	if cfg.PWMRange[0] > cfg.PWMRange[1] {
		return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("inverted PWM range %v", cfg.PWMRange)}
	}
	if cfg.Interval < 0 {
		return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("negative interval %v", cfg.Interval)}
	}

	neutral := cfg.Range[0]
	switch cfg.Device {
	case Unidirectional:
		if cfg.Neutral != nil {
			neutral = *cfg.Neutral
		}
	case ForwardReverse:
		if cfg.Neutral == nil {
			return nil, &ConfigurationError{ID: cfg.ID, Reason: "FORWARD_REVERSE device requires a neutral value"}
		}
		neutral = *cfg.Neutral
		if cfg.StartAt == nil {
			cfg.StartAt = Float(neutral)
		}
	default:
		return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("unknown device %v", cfg.Device)}
	}
	if neutral < cfg.Range[0] || neutral > cfg.Range[1] {
		return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("neutral %v outside range %v", neutral, cfg.Range)}
	}

	e := &ESC{
		id:       cfg.ID,
		pin:      cfg.Pin,
		device:   cfg.Device,
		rng:      cfg.Range,
		pwmRange: cfg.PWMRange,
		neutral:  neutral,
		interval: cfg.Interval,
		value:    cfg.Range[0],
		target:   cfg.Range[0],
		sched:    env.Scheduler(),
		logger:   env.Logger().Named(cfg.ID),
	}
	write, err := out.open(env, cfg)
	if err != nil {
		return nil, err
	}
	e.out = write

	env.ESCs().add(e)
	e.logger.Debugw("created", "pin", cfg.Pin, "controller", cfg.Controller, "device", cfg.Device,
		"range", cfg.Range, "pwmRange", cfg.PWMRange)

	if cfg.StartAt != nil {
		e.Speed(*cfg.StartAt)
	}
	return e, nil
}

func (e *ESC) ID() string {
	return e.id
}

func (e *ESC) Pin() hw.Pin {
	return e.pin
}

func (e *ESC) Range() Range {
	return e.rng
}

func (e *ESC) PWMRange() Range {
	return e.pwmRange
}

func (e *ESC) Neutral() float64 {
	return e.neutral
}

// Value is the speed most recently written to the hardware.
func (e *ESC) Value() float64 {
	return e.value
}

// Target is the speed the ESC is ramping towards, or Value when idle.
func (e *ESC) Target() float64 {
	return e.target
}

// Last returns the last committed speed, or nil if Speed has never been called.
func (e *ESC) Last() *Committed {
	if e.last == nil {
		return nil
	}
	c := *e.last
	return &c
}

// Ramp returns the active ramp task, or nil when idle.
func (e *ESC) Ramp() *loop.Task {
	return e.ramp
}

func (e *ESC) Ramping() bool {
	return e.ramp != nil
}

func (e *ESC) Device() Device {
	return e.device
}
