// Package linuxio implements hw.IO on a Linux single-board computer: GPIO through periph, I2C
// through the kernel's i2c-dev interface, and analog inputs through an ADS1115 on the same bus.
//
// Like the devices it serves, IO must only be used from the board's scheduler goroutine.
package linuxio

import (
	"fmt"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/io/i2c"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/ads1115"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"
)

const (
	DefaultI2CBus = "/dev/i2c-1"

	// DefaultPollInterval is the pause between analog conversions.
	DefaultPollInterval = 5 * time.Millisecond

	ServoFrequency = 50 * physic.Hertz
	PWMFrequency   = 1000 * physic.Hertz

	servoPeriodMicros = 20000
	servoMinMicros    = 544
	servoMaxMicros    = 2400
)

type Config struct {
	I2CBus       string
	ADCAddress   uint8
	ADCGain      ads1115.Gain
	PollInterval time.Duration
}

// IO talks to real hardware.  Analog pins 0-3 are the ADS1115 inputs.
type IO struct {
	cfg    Config
	sched  loop.Scheduler
	logger golog.Logger

	pins  map[hw.Pin]gpio.PinIO
	modes map[hw.Pin]hw.Mode

	i2cLock sync.Mutex
	devs    map[uint8]*i2c.Device

	adc     *ads1115.ADS1115
	analog  map[hw.Pin][]*analogSub
	order   []hw.Pin
	next    int
	polling bool
	poll    *loop.Task
}

var _ hw.IO = (*IO)(nil)

func Open(cfg Config, sched loop.Scheduler, logger golog.Logger) (*IO, error) {
	if cfg.I2CBus == "" {
		cfg.I2CBus = DefaultI2CBus
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph host drivers")
	}
	l := newIO(cfg, sched, logger)
	logger.Infow("hardware opened", "i2c", cfg.I2CBus, "adc", fmt.Sprintf("0x%02x", l.adc.Addr()))
	return l, nil
}

func newIO(cfg Config, sched loop.Scheduler, logger golog.Logger) *IO {
	l := &IO{
		cfg:    cfg,
		sched:  sched,
		logger: logger,
		pins:   map[hw.Pin]gpio.PinIO{},
		modes:  map[hw.Pin]hw.Mode{},
		devs:   map[uint8]*i2c.Device{},
		analog: map[hw.Pin][]*analogSub{},
	}
	l.adc = ads1115.New(l, cfg.ADCAddress, cfg.ADCGain)
	return l
}

func (l *IO) pin(pin hw.Pin) (gpio.PinIO, error) {
	if p, ok := l.pins[pin]; ok {
		return p, nil
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("unknown GPIO %s", name)
	}
	l.pins[pin] = p
	return p, nil
}

func (l *IO) PinMode(pin hw.Pin, mode hw.Mode) error {
	l.modes[pin] = mode
	switch mode {
	case hw.ModeAnalog:
		if pin < 0 || int(pin) >= ads1115.NumChannels {
			return errors.Errorf("pin %d is not an analog input", pin)
		}
		return nil
	case hw.ModeInput:
		p, err := l.pin(pin)
		if err != nil {
			return err
		}
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	case hw.ModeOutput, hw.ModePWM, hw.ModeServo:
		p, err := l.pin(pin)
		if err != nil {
			return err
		}
		return p.Out(gpio.Low)
	}
	return errors.Errorf("unsupported pin mode %v", mode)
}

func (l *IO) DigitalWrite(pin hw.Pin, level hw.Level) error {
	p, err := l.pin(pin)
	if err != nil {
		return err
	}
	out := gpio.Low
	if level == hw.High {
		out = gpio.High
	}
	return p.Out(out)
}

// PWMWrite takes degrees (0-180) on servo pins and an 8-bit duty (0-255) on PWM pins.
func (l *IO) PWMWrite(pin hw.Pin, value float64) error {
	p, err := l.pin(pin)
	if err != nil {
		return err
	}
	if l.modes[pin] == hw.ModeServo {
		micros := mathx.Scale(mathx.Clamp(value, 0, 180), 0, 180, servoMinMicros, servoMaxMicros)
		return p.PWM(gpio.Duty(micros/servoPeriodMicros*float64(gpio.DutyMax)), ServoFrequency)
	}
	duty := mathx.Clamp(value, 0, 255) / 255
	return p.PWM(gpio.Duty(duty*float64(gpio.DutyMax)), PWMFrequency)
}

func (l *IO) device(addr uint8) (*i2c.Device, error) {
	if dev, ok := l.devs[addr]; ok {
		return dev, nil
	}
	dev, err := i2c.Open(&i2c.Devfs{Dev: l.cfg.I2CBus}, int(addr))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C device 0x%02x on %s", addr, l.cfg.I2CBus)
	}
	l.devs[addr] = dev
	return dev, nil
}

func (l *IO) I2CWrite(addr uint8, data []byte) error {
	l.i2cLock.Lock()
	defer l.i2cLock.Unlock()
	dev, err := l.device(addr)
	if err != nil {
		return err
	}
	return dev.Write(data)
}

func (l *IO) I2CRead(addr uint8, reg byte, n int, fn func(data []byte)) error {
	l.i2cLock.Lock()
	dev, err := l.device(addr)
	if err != nil {
		l.i2cLock.Unlock()
		return err
	}
	buf := make([]byte, n)
	err = dev.ReadReg(reg, buf)
	l.i2cLock.Unlock()
	if err != nil {
		return err
	}
	fn(buf)
	return nil
}

// Close releases every open I2C device.
func (l *IO) Close() error {
	if l.poll != nil {
		l.poll.Stop()
		l.poll = nil
	}
	l.polling = false
	l.i2cLock.Lock()
	defer l.i2cLock.Unlock()
	var err error
	for addr, dev := range l.devs {
		err = multierr.Append(err, errors.Wrapf(dev.Close(), "closing I2C device 0x%02x", addr))
		delete(l.devs, addr)
	}
	return err
}
