package esc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/pca9685"
)

// writeFunc puts one device-domain value on the wire.
type writeFunc func(value float64) error

type output struct {
	// pwmRange is the default device-domain range.
	pwmRange Range
	open     func(env Env, cfg Config) (writeFunc, error)
}

var outputs = map[Controller]output{
	Default: {
		pwmRange: Range{0, 180},
		open: func(env Env, cfg Config) (writeFunc, error) {
			io := env.IO()
			if err := io.PinMode(cfg.Pin, hw.ModeServo); err != nil {
				return nil, errors.Wrapf(err, "failed to set pin %d to servo mode", cfg.Pin)
			}
			return func(value float64) error {
				return io.PWMWrite(cfg.Pin, value)
			}, nil
		},
	},
	PCA9685: {
		pwmRange: Range{pca9685.PulseMin, pca9685.PulseMax},
		open: func(env Env, cfg Config) (writeFunc, error) {
			channel := int(cfg.Pin)
			if channel < 0 || channel >= pca9685.NumChannels {
				return nil, &ConfigurationError{ID: cfg.ID, Reason: fmt.Sprintf("PCA9685 channel %d out of range", channel)}
			}
			addr := cfg.Address
			if addr == 0 {
				addr = pca9685.DefaultAddr
			}
			d, err := env.PCA9685().Get(addr)
			if err != nil {
				return nil, err
			}
			return func(value float64) error {
				return d.SetPulse(channel, value)
			}, nil
		},
	},
}
