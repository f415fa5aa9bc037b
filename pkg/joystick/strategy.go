package joystick

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/mux"
)

// Controller selects how the two axes are sampled.
type Controller int

const (
	Analog Controller = iota
	Esplora
	Gamepad
)

func (c Controller) String() string {
	switch c {
	case Analog:
		return "ANALOG"
	case Esplora:
		return "ESPLORA"
	case Gamepad:
		return "GAMEPAD"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

func ParseController(s string) (Controller, error) {
	switch strings.ToUpper(s) {
	case "", "ANALOG":
		return Analog, nil
	case "ESPLORA":
		return Esplora, nil
	case "GAMEPAD":
		return Gamepad, nil
	}
	return 0, errors.Errorf("unknown joystick controller %q", s)
}

// Sample is one raw reading per axis, x first.
type Sample [2]float64

// Strategy is a sampling method plus the transform from raw readings to [-1, 1].
//
// Initialize starts sampling and calls emit with every complete sample, on the scheduler's
// goroutine.  The returned function stops sampling.
type Strategy struct {
	Initialize func(env Env, cfg Config, emit func(Sample)) (stop func(), err error)
	ToAxis     func(raw float64) float64
}

var strategies = map[Controller]Strategy{
	Analog:  {Initialize: initAnalog, ToAxis: ToAxis},
	Esplora: {Initialize: initEsplora, ToAxis: ToAxis},
	Gamepad: {Initialize: initGamepad, ToAxis: ToAxis},
}

// ToAxis maps a 10-bit reading centred on 512 onto [-1, 1].
func ToAxis(raw float64) float64 {
	return mathx.Scale(raw-512, -512, 512, -1, 1)
}

// round combines per-axis readings.  A sample is complete once both axes have reported since
// the last complete sample; a second reading from the same axis replaces the first.
type round struct {
	sample   Sample
	reported [2]bool
}

func (r *round) report(axis int, value float64) (Sample, bool) {
	r.sample[axis] = value
	r.reported[axis] = true
	if !r.reported[0] || !r.reported[1] {
		return Sample{}, false
	}
	r.reported = [2]bool{}
	return r.sample, true
}

func initAnalog(env Env, cfg Config, emit func(Sample)) (func(), error) {
	io := env.IO()
	var r round
	var subs []hw.Subscription
	stop := func() {
		for _, s := range subs {
			s.Stop()
		}
	}
	for i, pin := range cfg.Pins {
		axis := i
		if err := io.PinMode(pin, hw.ModeAnalog); err != nil {
			stop()
			return nil, errors.Wrapf(err, "failed to set pin %d to analog", pin)
		}
		sub, err := io.AnalogRead(pin, func(value int) {
			if s, ok := r.report(axis, float64(value)); ok {
				emit(s)
			}
		})
		if err != nil {
			stop()
			return nil, errors.Wrapf(err, "failed to read pin %d", pin)
		}
		subs = append(subs, sub)
	}
	return stop, nil
}

var (
	EsploraMuxLines = [4]hw.Pin{18, 19, 20, 21}
	EsploraChannels = [2]int{11, 12}
)

const (
	// EsploraPin is the Esplora's own analog input.  It is past the ADS1115's four channels, so
	// boards reading through one must set Config.SharedPin.
	EsploraPin  hw.Pin = 4
	SettleDelay        = 10 * time.Millisecond
)

// esplora reads both axes through one analog pin, switching the multiplexer between reads and
// giving it SettleDelay to settle.
type esplora struct {
	io     hw.IO
	sched  loop.Scheduler
	mux    *mux.Mux
	pin    hw.Pin
	env    Env
	emit   func(Sample)
	index  int
	round  round
	sub    hw.Subscription
	next   *loop.Task
	closed bool
}

func initEsplora(env Env, cfg Config, emit func(Sample)) (func(), error) {
	m, err := mux.New(env.IO(), EsploraMuxLines)
	if err != nil {
		return nil, err
	}
	pin := EsploraPin
	if cfg.SharedPin != nil {
		pin = *cfg.SharedPin
	}
	if err := env.IO().PinMode(pin, hw.ModeAnalog); err != nil {
		return nil, errors.Wrapf(err, "failed to set pin %d to analog", pin)
	}
	e := &esplora{
		io:    env.IO(),
		sched: env.Scheduler(),
		mux:   m,
		pin:   pin,
		env:   env,
		emit:  emit,
		index: 1,
	}
	if err := e.read(); err != nil {
		return nil, err
	}
	return e.stop, nil
}

func (e *esplora) read() error {
	e.next = nil
	e.index ^= 1
	if err := e.mux.Select(EsploraChannels[e.index]); err != nil {
		return err
	}
	sub, err := e.io.AnalogRead(e.pin, e.handle)
	if err != nil {
		return errors.Wrapf(err, "failed to read pin %d", e.pin)
	}
	e.sub = sub
	return nil
}

func (e *esplora) handle(value int) {
	if e.sub == nil {
		return
	}
	e.sub.Stop()
	e.sub = nil
	if s, ok := e.round.report(e.index, float64(value)); ok {
		e.emit(s)
	}
	if !e.closed {
		e.next = e.sched.After(SettleDelay, e.retry)
	}
}

func (e *esplora) retry() {
	if err := e.read(); err != nil {
		e.env.Logger().Warnw("esplora read failed", "error", err)
		e.next = e.sched.After(SettleDelay, e.retry)
	}
}

func (e *esplora) stop() {
	e.closed = true
	if e.sub != nil {
		e.sub.Stop()
		e.sub = nil
	}
	if e.next != nil {
		e.next.Stop()
		e.next = nil
	}
}
