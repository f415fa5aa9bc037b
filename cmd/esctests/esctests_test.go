package main

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/board"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/esc"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
)

func newTestBoard(t *testing.T) (*board.Board, *loop.Manual) {
	sched := loop.NewManual()
	b := board.New(hw.NewFake(nil), sched, golog.NewTestLogger(t))
	_, err := esc.New(b, esc.Config{ID: "a", Pin: 3, Device: esc.ForwardReverse, Neutral: esc.Float(50)})
	require.NoError(t, err)
	_, err = esc.New(b, esc.Config{ID: "b", Pin: 5})
	require.NoError(t, err)
	return b, sched
}

func commandNamed(name string) escCommand {
	for _, ec := range escCommands {
		if ec.name == name {
			return ec
		}
	}
	panic(name)
}

func TestRunESC(t *testing.T) {
	b, sched := newTestBoard(t)

	out, err := runESC(b, commandNamed("forward"), []string{"a", "100"})
	require.NoError(t, err)
	assert.Contains(t, out, "target=100.0")
	assert.Contains(t, out, "ramping=true")

	sched.Advance(esc.DefaultInterval * 10)
	out, err = runESC(b, commandNamed("brake"), []string{"a"})
	require.NoError(t, err)
	assert.Contains(t, out, "value=50.0")
	assert.Contains(t, out, "ramping=false")

	_, err = runESC(b, commandNamed("speed"), []string{"a"})
	assert.EqualError(t, err, "not enough parameters")
	_, err = runESC(b, commandNamed("speed"), []string{"a", "fast"})
	assert.Error(t, err)
	_, err = runESC(b, commandNamed("stop"), []string{"z"})
	assert.EqualError(t, err, `no ESC "z"`)
}

func TestRunGroup(t *testing.T) {
	b, _ := newTestBoard(t)

	out, err := runGroup(b, []string{"speed", "10"})
	require.NoError(t, err)
	assert.Contains(t, out, "a ")
	assert.Contains(t, out, "b ")

	a, _ := b.ESCs().ByID("a")
	bb, _ := b.ESCs().ByID("b")
	assert.Equal(t, 10.0, a.Target())
	assert.Equal(t, 10.0, bb.Target())

	_, err = runGroup(b, []string{"brake"})
	require.NoError(t, err)
	assert.Equal(t, 50.0, a.Value())
	assert.Equal(t, 0.0, bb.Value())

	_, err = runGroup(b, []string{"jump"})
	assert.Error(t, err)
	_, err = runGroup(b, nil)
	assert.Error(t, err)
}
