package esc

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
)

// Registry remembers every ESC created on a board, in creation order.
type Registry struct {
	lock sync.Mutex
	escs []*ESC
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(e *ESC) {
	r.lock.Lock()
	r.escs = append(r.escs, e)
	r.lock.Unlock()
}

func (r *Registry) All() []*ESC {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*ESC(nil), r.escs...)
}

func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.escs)
}

// ByPin returns the first registered ESC on pin.
func (r *Registry) ByPin(pin hw.Pin) (*ESC, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, e := range r.escs {
		if e.pin == pin {
			return e, true
		}
	}
	return nil, false
}

func (r *Registry) ByID(id string) (*ESC, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, e := range r.escs {
		if e.id == id {
			return e, true
		}
	}
	return nil, false
}

// Purge forgets every ESC.  The ESCs themselves keep running.
func (r *Registry) Purge() {
	r.lock.Lock()
	r.escs = nil
	r.lock.Unlock()
}

// Group fans calls out to several ESCs in order.  It does not own them.
type Group struct {
	escs []*ESC
}

// NewGroup returns a group of every ESC currently in reg.
func NewGroup(reg *Registry) *Group {
	return &Group{escs: reg.All()}
}

// GroupByPins resolves pins against reg.
func GroupByPins(reg *Registry, pins ...hw.Pin) (*Group, error) {
	g := &Group{}
	for _, pin := range pins {
		e, ok := reg.ByPin(pin)
		if !ok {
			return nil, errors.Errorf("no ESC on pin %d", pin)
		}
		g.escs = append(g.escs, e)
	}
	return g, nil
}

func GroupOf(escs ...*ESC) *Group {
	return &Group{escs: append([]*ESC(nil), escs...)}
}

func (g *Group) Len() int {
	return len(g.escs)
}

func (g *Group) At(i int) *ESC {
	return g.escs[i]
}

func (g *Group) Each(fn func(e *ESC)) *Group {
	for _, e := range g.escs {
		fn(e)
	}
	return g
}

func (g *Group) Speed(v float64) *Group {
	return g.Each(func(e *ESC) { e.Speed(v) })
}

func (g *Group) Forward(v float64) *Group {
	return g.Each(func(e *ESC) { e.Forward(v) })
}

func (g *Group) Reverse(v float64) *Group {
	return g.Each(func(e *ESC) { e.Reverse(v) })
}

func (g *Group) Stop() *Group {
	return g.Each(func(e *ESC) { e.Stop() })
}

// Brake brakes every member, even if an earlier one fails.  The errors are combined.
func (g *Group) Brake() (*Group, error) {
	var err error
	for _, e := range g.escs {
		if brakeErr := e.Brake(); brakeErr != nil {
			err = multierr.Append(err, errors.Wrapf(brakeErr, "ESC %s", e.id))
		}
	}
	return g, err
}
