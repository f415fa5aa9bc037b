// Package config loads the board description from YAML and builds the devices it names.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/ads1115"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/board"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/esc"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/linuxio"
)

const DefaultPath = "/cfg/escstick.yaml"

type Config struct {
	I2CBus     string        `yaml:"i2c_bus,omitempty"`
	ADCAddress uint8         `yaml:"adc_address,omitempty"`
	PollEvery  time.Duration `yaml:"poll_interval,omitempty"`

	ESCs      []ESC      `yaml:"escs"`
	Joysticks []Joystick `yaml:"joysticks"`
}

type ESC struct {
	ID         string        `yaml:"id,omitempty"`
	Pin        int           `yaml:"pin"`
	Controller string        `yaml:"controller,omitempty"`
	Address    uint8         `yaml:"address,omitempty"`
	Device     string        `yaml:"device,omitempty"`
	Neutral    *float64      `yaml:"neutral,omitempty"`
	Range      []float64     `yaml:"range,omitempty,flow"`
	PWMRange   []float64     `yaml:"pwm_range,omitempty,flow"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	StartAt    *float64      `yaml:"start_at,omitempty"`
}

type Joystick struct {
	ID         string    `yaml:"id,omitempty"`
	Controller string    `yaml:"controller,omitempty"`
	Pins       []int     `yaml:"pins,omitempty,flow"`
	SharedPin  *int      `yaml:"shared_pin,omitempty"`
	Zero       []float64 `yaml:"zero,omitempty,flow"`
	Device     string    `yaml:"device,omitempty"`
	Axes       []int     `yaml:"axes,omitempty,flow"`
}

// Env holds the environment overrides.
type Env struct {
	ConfigPath     string `env:"ESCSTICK_CONFIG" envDefault:"/cfg/escstick.yaml"`
	I2CBus         string `env:"ESCSTICK_I2C_BUS"`
	Dummy          bool   `env:"ESCSTICK_DUMMY"`
	JoystickDevice string `env:"JOYSTICK_DEVICE"`
}

func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, errors.Wrap(err, "failed to parse environment")
	}
	return e, nil
}

// Parse decodes YAML.  Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return &c, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnv overrides the file's settings with any set in e.
func (c *Config) ApplyEnv(e Env) {
	if e.I2CBus != "" {
		c.I2CBus = e.I2CBus
	}
	if e.JoystickDevice != "" {
		for i := range c.Joysticks {
			if c.Joysticks[i].Device == "" {
				c.Joysticks[i].Device = e.JoystickDevice
			}
		}
	}
}

func (c *Config) BoardOptions(dummy bool) board.Options {
	return board.Options{
		Dummy: dummy,
		Hardware: linuxio.Config{
			I2CBus:       c.I2CBus,
			ADCAddress:   c.ADCAddress,
			ADCGain:      ads1115.Gain4V,
			PollInterval: c.PollEvery,
		},
	}
}

func toRange(name string, v []float64) (esc.Range, error) {
	switch len(v) {
	case 0:
		return esc.Range{}, nil
	case 2:
		return esc.Range{v[0], v[1]}, nil
	}
	return esc.Range{}, errors.Errorf("%s needs two values, got %v", name, v)
}

func (e ESC) Config() (esc.Config, error) {
	controller, err := esc.ParseController(e.Controller)
	if err != nil {
		return esc.Config{}, err
	}
	device, err := esc.ParseDevice(e.Device)
	if err != nil {
		return esc.Config{}, err
	}
	rng, err := toRange("range", e.Range)
	if err != nil {
		return esc.Config{}, err
	}
	pwmRange, err := toRange("pwm_range", e.PWMRange)
	if err != nil {
		return esc.Config{}, err
	}
	return esc.Config{
		ID:         e.ID,
		Pin:        hw.Pin(e.Pin),
		Controller: controller,
		Device:     device,
		Range:      rng,
		PWMRange:   pwmRange,
		Address:    e.Address,
		Interval:   e.Interval,
		StartAt:    e.StartAt,
		Neutral:    e.Neutral,
	}, nil
}

func (j Joystick) Config() (joystick.Config, error) {
	controller, err := joystick.ParseController(j.Controller)
	if err != nil {
		return joystick.Config{}, err
	}
	cfg := joystick.Config{
		ID:         j.ID,
		Controller: controller,
		Device:     j.Device,
	}
	switch {
	case len(j.Pins) == 2:
		cfg.Pins = [2]hw.Pin{hw.Pin(j.Pins[0]), hw.Pin(j.Pins[1])}
	case len(j.Pins) != 0 || controller == joystick.Analog:
		return joystick.Config{}, errors.Errorf("joystick needs two pins, got %v", j.Pins)
	}
	if j.SharedPin != nil {
		pin := hw.Pin(*j.SharedPin)
		cfg.SharedPin = &pin
	}
	switch len(j.Zero) {
	case 0:
	case 2:
		cfg.Zero = [2]float64{j.Zero[0], j.Zero[1]}
	default:
		return joystick.Config{}, errors.Errorf("zero needs two values, got %v", j.Zero)
	}
	switch len(j.Axes) {
	case 0:
	case 2:
		cfg.Axes = [2]uint8{uint8(j.Axes[0]), uint8(j.Axes[1])}
	default:
		return joystick.Config{}, errors.Errorf("axes needs two values, got %v", j.Axes)
	}
	return cfg, nil
}

// Devices are the devices built from a Config, in file order.
type Devices struct {
	ESCs      []*esc.ESC
	Joysticks []*joystick.Joystick
}

func (d *Devices) ESC(id string) (*esc.ESC, bool) {
	for _, e := range d.ESCs {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

func (d *Devices) Joystick(id string) (*joystick.Joystick, bool) {
	for _, j := range d.Joysticks {
		if j.ID() == id {
			return j, true
		}
	}
	return nil, false
}

// Build creates every device in c against b.  It must run on b's loop.  Joysticks are closed
// when the board shuts down.  On error, joysticks already created are closed.
func Build(b *board.Board, c *Config) (*Devices, error) {
	d := &Devices{}
	fail := func(err error) (*Devices, error) {
		for _, j := range d.Joysticks {
			err = multierr.Append(err, j.Close())
		}
		return nil, err
	}
	for i, ec := range c.ESCs {
		cfg, err := ec.Config()
		if err != nil {
			return fail(errors.Wrapf(err, "escs[%d]", i))
		}
		e, err := esc.New(b, cfg)
		if err != nil {
			return fail(errors.Wrapf(err, "escs[%d]", i))
		}
		d.ESCs = append(d.ESCs, e)
	}
	for i, jc := range c.Joysticks {
		cfg, err := jc.Config()
		if err != nil {
			return fail(errors.Wrapf(err, "joysticks[%d]", i))
		}
		j, err := joystick.New(b, cfg)
		if err != nil {
			return fail(errors.Wrapf(err, "joysticks[%d]", i))
		}
		d.Joysticks = append(d.Joysticks, j)
	}
	for _, j := range d.Joysticks {
		b.OnShutdown(j)
	}
	b.Logger().Infow("devices built", "escs", len(d.ESCs), "joysticks", len(d.Joysticks))
	return d, nil
}

func (d *Devices) String() string {
	return fmt.Sprintf("%d ESCs, %d joysticks", len(d.ESCs), len(d.Joysticks))
}
