package hw

import (
	"fmt"
	"sync"

	"github.com/edaniels/golog"
)

// Op is one recorded call against a Fake.
type Op struct {
	Kind  string // "mode", "digital", "pwm", "i2c-write", "i2c-read"
	Pin   Pin
	Mode  Mode
	Level Level
	Value float64
	Addr  uint8
	Data  []byte
}

func (o Op) String() string {
	switch o.Kind {
	case "mode":
		return fmt.Sprintf("mode(%d)=%v", o.Pin, o.Mode)
	case "digital":
		return fmt.Sprintf("digital(%d)=%d", o.Pin, o.Level)
	case "pwm":
		return fmt.Sprintf("pwm(%d)=%v", o.Pin, o.Value)
	case "i2c-write", "i2c-read":
		return fmt.Sprintf("%s(0x%02x)=%v", o.Kind, o.Addr, o.Data)
	default:
		return o.Kind
	}
}

// Fake is an IO that records everything written to it and lets the caller inject analog
// samples.  It is used by the tests and by the --dummy mode of the command line tools.
type Fake struct {
	lock   sync.Mutex
	logger golog.Logger

	ops     []Op
	readers map[Pin][]*fakeSub
	nextSub int

	// Err, if set, is returned from every write.
	Err error
	// I2CData is handed back from I2CRead, keyed by address.
	I2CData map[uint8][]byte
}

func NewFake(logger golog.Logger) *Fake {
	return &Fake{
		logger:  logger,
		readers: map[Pin][]*fakeSub{},
		I2CData: map[uint8][]byte{},
	}
}

var _ IO = (*Fake)(nil)

type fakeSub struct {
	f       *Fake
	id      int
	pin     Pin
	fn      func(int)
	stopped bool
}

func (s *fakeSub) Stop() {
	s.f.lock.Lock()
	defer s.f.lock.Unlock()
	s.stopped = true
	subs := s.f.readers[s.pin]
	for i, other := range subs {
		if other == s {
			s.f.readers[s.pin] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

func (f *Fake) record(op Op) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.ops = append(f.ops, op)
	if f.logger != nil {
		f.logger.Debugf("DHW: %v", op)
	}
	return f.Err
}

func (f *Fake) PinMode(pin Pin, mode Mode) error {
	return f.record(Op{Kind: "mode", Pin: pin, Mode: mode})
}

func (f *Fake) DigitalWrite(pin Pin, level Level) error {
	return f.record(Op{Kind: "digital", Pin: pin, Level: level})
}

func (f *Fake) PWMWrite(pin Pin, value float64) error {
	return f.record(Op{Kind: "pwm", Pin: pin, Value: value})
}

func (f *Fake) I2CWrite(addr uint8, data []byte) error {
	return f.record(Op{Kind: "i2c-write", Addr: addr, Data: append([]byte(nil), data...)})
}

func (f *Fake) I2CRead(addr uint8, reg byte, n int, fn func(data []byte)) error {
	if err := f.record(Op{Kind: "i2c-read", Addr: addr, Data: []byte{reg}}); err != nil {
		return err
	}
	f.lock.Lock()
	buf := make([]byte, n)
	copy(buf, f.I2CData[addr])
	f.lock.Unlock()
	fn(buf)
	return nil
}

func (f *Fake) AnalogRead(pin Pin, fn func(value int)) (Subscription, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.nextSub++
	s := &fakeSub{f: f, id: f.nextSub, pin: pin, fn: fn}
	f.readers[pin] = append(f.readers[pin], s)
	return s, nil
}

// EmitAnalog delivers value to every reader currently subscribed to pin, in subscription order.
// Readers that subscribe during delivery only see later samples.
func (f *Fake) EmitAnalog(pin Pin, value int) {
	f.lock.Lock()
	subs := append([]*fakeSub(nil), f.readers[pin]...)
	f.lock.Unlock()
	for _, s := range subs {
		f.lock.Lock()
		stopped := s.stopped
		f.lock.Unlock()
		if !stopped {
			s.fn(value)
		}
	}
}

// Readers returns the number of live analog subscriptions on pin.
func (f *Fake) Readers(pin Pin) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.readers[pin])
}

// Ops returns a copy of everything recorded so far.
func (f *Fake) Ops() []Op {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]Op(nil), f.ops...)
}

// OpsOfKind filters Ops by kind.
func (f *Fake) OpsOfKind(kind string) []Op {
	var out []Op
	for _, op := range f.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (f *Fake) Reset() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.ops = nil
}
