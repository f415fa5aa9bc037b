package joystick

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"
)

// Button and pad mappings for a PS4 pad on the Linux joystick interface:
//
// Axes
//
//    L stick u/d = 1 (up = -32767; down = +32767)
//            l/r = 0 (left = -32767; right = +32767)
//    R stick u/d = 4 (up = -32767; down = +32767)
//            l/r = 3 (left = -32767; right = +32767)
//    D-pad   u/d = 7
//            l/r = 6
//    L2          = 2 (unpressed = -32767; fully-pressed = 32767)
//    R2          = 5

const DefaultDevice = "/dev/input/js0"

type InputType uint8

const (
	InputButton InputType = 1
	InputAxis   InputType = 2
)

const (
	ButtonCross    = 0
	ButtonCircle   = 1
	ButtonTriangle = 2
	ButtonSquare   = 3
	ButtonL1       = 4
	ButtonR1       = 5
	ButtonL2       = 6
	ButtonR2       = 7
	ButtonShare    = 8
	ButtonOptions  = 9
	ButtonPS       = 10

	AxisLStickX = 0
	AxisLStickY = 1
	AxisRStickX = 3
	AxisRStickY = 4
	AxisDPadX   = 6
	AxisDPadY   = 7

	axisMax = 32767
)

func (e InputType) String() string {
	switch e {
	case InputAxis:
		return "axis"
	case InputButton:
		return "button"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// Device reads events from a Linux joystick device file.
type Device struct {
	r io.ReadCloser

	deviceEpoch    uint32
	wallclockEpoch time.Time
}

type rawEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

type InputEvent struct {
	Time   time.Time
	Value  int16
	Type   InputType
	Number uint8
}

func (e *InputEvent) String() string {
	return fmt.Sprintf("%v(%v)=%v", e.Type, e.Number, e.Value)
}

func OpenDevice(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open joystick device %s", path)
	}
	return NewDevice(f), nil
}

func NewDevice(r io.ReadCloser) *Device {
	return &Device{r: r}
}

func (d *Device) ReadEvent() (*InputEvent, error) {
	var raw rawEvent
	if err := binary.Read(d.r, binary.LittleEndian, &raw); err != nil {
		return nil, err
	}

	if d.deviceEpoch == 0 {
		d.deviceEpoch = raw.Time
		d.wallclockEpoch = time.Now()
	}

	// The top bit of Type flags the synthetic events sent when the device is opened.
	return &InputEvent{
		Time:   d.wallclockEpoch.Add(time.Duration(raw.Time-d.deviceEpoch) * time.Millisecond),
		Value:  raw.Value,
		Type:   InputType(raw.Type & 0x7f),
		Number: raw.Number,
	}, nil
}

func (d *Device) Close() error {
	return d.r.Close()
}

// fromGamepad maps a stick position onto the 10-bit range the analog joysticks report.
func fromGamepad(v int16) float64 {
	return mathx.Scale(float64(v), -axisMax, axisMax, 0, 1024)
}

func initGamepad(env Env, cfg Config, emit func(Sample)) (func(), error) {
	var dev *Device
	if cfg.Source != nil {
		dev = NewDevice(cfg.Source)
	} else {
		path := cfg.Device
		if path == "" {
			path = DefaultDevice
		}
		var err error
		if dev, err = OpenDevice(path); err != nil {
			return nil, err
		}
	}
	axes := cfg.Axes
	if axes == [2]uint8{} {
		axes = [2]uint8{AxisLStickX, AxisLStickY}
	}

	sched := env.Scheduler()
	logger := env.Logger()
	var r round
	var closed int32
	go func() {
		for {
			ev, err := dev.ReadEvent()
			if err != nil {
				if atomic.LoadInt32(&closed) == 0 && !errors.Is(err, io.EOF) {
					logger.Warnw("gamepad read failed", "error", err)
				}
				return
			}
			if ev.Type != InputAxis {
				continue
			}
			for i, n := range axes {
				if ev.Number != n {
					continue
				}
				axis, value := i, fromGamepad(ev.Value)
				sched.Post(func() {
					if s, ok := r.report(axis, value); ok {
						emit(s)
					}
				})
			}
		}
	}()

	return func() {
		atomic.StoreInt32(&closed, 1)
		if err := dev.Close(); err != nil {
			logger.Debugw("closing gamepad", "error", err)
		}
	}, nil
}
