package esc

import "github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"

// Forward runs at s percent of the span between neutral and the top of the range.
func (e *ESC) Forward(s float64) {
	s = mathx.Clamp(s, 0, 100)
	if s == 0 {
		e.Speed(e.neutral)
		return
	}
	e.Speed(e.neutral + s*(e.rng[1]-e.neutral)/100)
}

// Reverse runs at s percent of the span between neutral and the bottom of the range.
func (e *ESC) Reverse(s float64) {
	s = mathx.Clamp(s, 0, 100)
	if s == 0 {
		e.Speed(e.neutral)
		return
	}
	e.Speed(e.neutral - s*(e.neutral-e.rng[0])/100)
}

// Brake writes neutral immediately, skipping the ramp.
func (e *ESC) Brake() error {
	e.cancelRamp()
	e.value = e.neutral
	e.target = e.neutral
	pwm := e.toPWM(e.neutral)
	e.last = &Committed{Speed: e.neutral, Value: pwm}
	e.logger.Debugw("brake", "pwm", pwm)
	return e.out(pwm)
}
