// Package joystick samples dual-axis joysticks and reports their position.
//
// Handlers run on the board's scheduler goroutine, as do all reads of the joystick's state.
package joystick

import (
	"fmt"
	"io"
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
)

// Env is what a joystick needs from the board it lives on.
type Env interface {
	IO() hw.IO
	Scheduler() loop.Scheduler
	Logger() golog.Logger
}

type Config struct {
	ID         string
	Controller Controller

	// Pins are the x and y analog pins.  Only used by Analog.
	Pins [2]hw.Pin
	// SharedPin is the analog pin behind the Esplora multiplexer.  Defaults to EsploraPin.
	SharedPin *hw.Pin
	// Zero is the calibration offset per axis.  Its magnitude is added to every reading.
	Zero [2]float64

	// Device is the Linux joystick device for Gamepad.  Defaults to DefaultDevice.
	Device string
	// Source, if set, replaces Device as the event stream.
	Source io.ReadCloser
	// Axes are the gamepad axis numbers used for x and y.  Defaults to the left stick.
	Axes [2]uint8

	// Strategy replaces the controller's sampling strategy.
	Strategy *Strategy
	// ToAxis replaces the strategy's transform.
	ToAxis func(raw float64) float64
}

type EventType uint8

const (
	// EventData is raised for every complete sample.
	EventData EventType = iota + 1
	// EventChange is raised when a sample differs from the one before.
	EventChange
)

func (e EventType) String() string {
	switch e {
	case EventData:
		return "data"
	case EventChange:
		return "change"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// Event carries the transformed position and the calibrated raw values behind it.
type Event struct {
	X, Y float64
	Raw  Sample
}

type Handler func(Event)

type axisState struct {
	value    float64
	previous float64
	zero     float64
}

var axisNames = [2]string{"x", "y"}

type Joystick struct {
	id         string
	controller Controller
	toAxis     func(float64) float64
	logger     golog.Logger

	state    [2]axisState
	handlers map[EventType][]Handler
	stop     func()
	closed   bool
}

func New(env Env, cfg Config) (*Joystick, error) {
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("joystick-%s", cfg.Controller)
	}
	var strategy Strategy
	if cfg.Strategy != nil {
		strategy = *cfg.Strategy
	} else {
		var ok bool
		if strategy, ok = strategies[cfg.Controller]; !ok {
			return nil, errors.Errorf("joystick %q: unknown controller %v", cfg.ID, cfg.Controller)
		}
	}
	toAxis := strategy.ToAxis
	if cfg.ToAxis != nil {
		toAxis = cfg.ToAxis
	}
	if toAxis == nil {
		toAxis = func(raw float64) float64 { return raw }
	}

	j := &Joystick{
		id:         cfg.ID,
		controller: cfg.Controller,
		toAxis:     toAxis,
		logger:     env.Logger().Named(cfg.ID),
		handlers:   map[EventType][]Handler{},
	}
	for i := range j.state {
		j.state[i].zero = cfg.Zero[i]
	}

	if strategy.Initialize != nil {
		stop, err := strategy.Initialize(env, cfg, j.process)
		if err != nil {
			return nil, err
		}
		j.stop = stop
	}
	j.logger.Debugw("created", "controller", cfg.Controller, "pins", cfg.Pins, "zero", cfg.Zero)
	return j, nil
}

func (j *Joystick) ID() string {
	return j.id
}

// On registers h for events of type t.  Handlers run in registration order.
func (j *Joystick) On(t EventType, h Handler) {
	j.handlers[t] = append(j.handlers[t], h)
}

func (j *Joystick) X() float64 {
	return j.toAxis(j.state[0].value)
}

func (j *Joystick) Y() float64 {
	return j.toAxis(j.state[1].value)
}

// Raw returns the calibrated readings for both axes.
func (j *Joystick) Raw() Sample {
	return Sample{j.state[0].value, j.state[1].value}
}

// HasAxis reports whether the joystick has an axis with the given name ("x" or "y").
func (j *Joystick) HasAxis(name string) bool {
	for _, n := range axisNames {
		if n == name {
			return true
		}
	}
	return false
}

// Close stops sampling.  No events are raised afterwards.
func (j *Joystick) Close() error {
	if j.closed {
		return nil
	}
	j.closed = true
	if j.stop != nil {
		j.stop()
	}
	return nil
}

func (j *Joystick) process(s Sample) {
	if j.closed {
		return
	}
	changed := false
	for i := range j.state {
		st := &j.state[i]
		v := s[i] + math.Abs(st.zero)
		st.previous = st.value
		st.value = v
		if st.value != st.previous {
			changed = true
		}
	}

	ev := Event{X: j.X(), Y: j.Y(), Raw: j.Raw()}
	j.emit(EventData, ev)
	if changed {
		j.logger.Debugw("change", "x", ev.X, "y", ev.Y)
		j.emit(EventChange, ev)
	}
}

func (j *Joystick) emit(t EventType, ev Event) {
	for _, h := range j.handlers[t] {
		h(ev)
	}
}
