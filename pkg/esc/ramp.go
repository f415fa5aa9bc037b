package esc

import (
	"math"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"
)

// Speed moves the ESC towards target, clamped into the configured range.  Repeating the last
// committed speed does nothing, so an in-flight ramp is never restarted by a duplicate command.
// Any other target replaces the active ramp before the next step can run.  NaN is ignored.
func (e *ESC) Speed(target float64) {
	if math.IsNaN(target) {
		e.logger.Warnw("ignoring NaN speed", "value", e.value)
		return
	}
	target = mathx.Clamp(target, e.rng[0], e.rng[1])
	if e.last != nil && e.last.Speed == target {
		return
	}
	e.cancelRamp()
	e.target = target

	// The very first command, and any move of a single unit or less, goes straight out.
	if e.last == nil || math.Abs(target-e.value) <= 1 {
		e.last = &Committed{Speed: target}
		e.write(target)
		return
	}

	e.last = &Committed{Speed: target, Value: e.last.Value}
	e.logger.Debugw("ramping", "from", e.value, "to", target)
	e.ramp = e.sched.Every(e.interval, e.step)
}

func (e *ESC) step() {
	next := e.target
	if d := e.target - e.value; d > 1 {
		next = e.value + 1
	} else if d < -1 {
		next = e.value - 1
	}
	e.write(next)
	if e.value == e.target {
		e.logger.Debugw("ramp done", "value", e.value)
		e.cancelRamp()
	}
}

func (e *ESC) write(v float64) {
	e.value = v
	pwm := e.toPWM(v)
	e.last.Value = pwm
	if err := e.out(pwm); err != nil {
		e.logger.Warnw("failed to write ESC value", "value", v, "pwm", pwm, "error", err)
	}
}

// toPWM converts a 0-100 speed into the device domain.  Fractions are kept.
func (e *ESC) toPWM(v float64) float64 {
	return e.pwmRange[0] + v*(e.pwmRange[1]-e.pwmRange[0])/100
}

func (e *ESC) cancelRamp() {
	if e.ramp != nil {
		e.ramp.Stop()
		e.ramp = nil
	}
}

// Stop abandons any ramp, leaving the output at its current value.
func (e *ESC) Stop() {
	e.cancelRamp()
	e.target = e.value
	if e.last != nil {
		e.last.Speed = e.value
	}
}
