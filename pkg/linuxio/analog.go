package linuxio

import (
	"github.com/tigerbot-team/tigerbot/escstick/pkg/ads1115"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
)

type analogSub struct {
	l       *IO
	pin     hw.Pin
	fn      func(int)
	stopped bool
}

func (s *analogSub) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	subs := s.l.analog[s.pin]
	for i, other := range subs {
		if other == s {
			s.l.analog[s.pin] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.l.analog[s.pin]) == 0 {
		delete(s.l.analog, s.pin)
		s.l.reorder()
	}
}

// AnalogRead subscribes to the ADS1115 channel for pin.  Subscribed channels are converted in
// turn, one at a time, for as long as anyone is listening.
func (l *IO) AnalogRead(pin hw.Pin, fn func(value int)) (hw.Subscription, error) {
	if pin < 0 || int(pin) >= ads1115.NumChannels {
		return nil, ads1115.ErrChannelOutOfRange
	}
	s := &analogSub{l: l, pin: pin, fn: fn}
	if _, ok := l.analog[pin]; !ok {
		defer l.reorder()
	}
	l.analog[pin] = append(l.analog[pin], s)
	if !l.polling {
		l.polling = true
		l.poll = l.sched.After(0, l.convert)
	}
	return s, nil
}

func (l *IO) reorder() {
	l.order = l.order[:0]
	for ch := 0; ch < ads1115.NumChannels; ch++ {
		if _, ok := l.analog[hw.Pin(ch)]; ok {
			l.order = append(l.order, hw.Pin(ch))
		}
	}
}

// convert starts a conversion on the next subscribed channel and collects it ConversionTime
// later.
func (l *IO) convert() {
	l.poll = nil
	if len(l.order) == 0 {
		l.polling = false
		return
	}
	pin := l.order[l.next%len(l.order)]
	l.next++
	if err := l.adc.StartConversion(int(pin)); err != nil {
		l.logger.Warnw("failed to start analog conversion", "pin", pin, "error", err)
		l.poll = l.sched.After(l.cfg.PollInterval, l.convert)
		return
	}
	l.poll = l.sched.After(ads1115.ConversionTime, func() {
		err := l.adc.ReadConversion(func(raw int16) {
			value := ads1115.TenBit(raw)
			for _, s := range append([]*analogSub(nil), l.analog[pin]...) {
				if !s.stopped {
					s.fn(value)
				}
			}
		})
		if err != nil {
			l.logger.Warnw("failed to read analog conversion", "pin", pin, "error", err)
		}
		l.poll = l.sched.After(l.cfg.PollInterval, l.convert)
	})
}
