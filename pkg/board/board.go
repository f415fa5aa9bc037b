// Package board ties one hardware connection to the loop its devices run on.  It owns the
// PCA9685 drivers and the ESC registry shared by every device created against it.
package board

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/esc"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/linuxio"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/pca9685"
)

type Options struct {
	// Dummy swaps the hardware for a recording fake that logs every write.
	Dummy    bool
	Hardware linuxio.Config
	// Clock drives the loop's timers.  Defaults to the wall clock.
	Clock clock.Clock
}

type Board struct {
	io     hw.IO
	sched  loop.Scheduler
	loop   *loop.Loop
	logger golog.Logger

	pca  *pca9685.Drivers
	escs *esc.Registry

	closers []io.Closer
	cancel  context.CancelFunc
}

var (
	_ esc.Env      = (*Board)(nil)
	_ joystick.Env = (*Board)(nil)
)

// New wraps an existing IO and scheduler.  The caller is responsible for running the scheduler.
func New(hwio hw.IO, sched loop.Scheduler, logger golog.Logger) *Board {
	return &Board{
		io:     hwio,
		sched:  sched,
		logger: logger,
		pca:    pca9685.NewDrivers(hwio, logger.Named("pca9685")),
		escs:   esc.NewRegistry(),
	}
}

// Open creates a loop and connects to the hardware described by opts.  Call Start to run the
// loop.
func Open(opts Options, logger golog.Logger) (*Board, error) {
	l := loop.New(opts.Clock, logger.Named("loop"))
	if opts.Dummy {
		logger.Info("using dummy hardware")
		b := New(hw.NewFake(logger.Named("dummy")), l, logger)
		b.loop = l
		return b, nil
	}
	lio, err := linuxio.Open(opts.Hardware, l, logger.Named("io"))
	if err != nil {
		return nil, err
	}
	b := New(lio, l, logger)
	b.loop = l
	b.closers = append(b.closers, lio)
	return b, nil
}

func (b *Board) IO() hw.IO { return b.io }
func (b *Board) Scheduler() loop.Scheduler { return b.sched }
func (b *Board) PCA9685() *pca9685.Drivers { return b.pca }
func (b *Board) ESCs() *esc.Registry { return b.escs }
func (b *Board) Logger() golog.Logger { return b.logger }

// Start runs the loop in the background.  It is a no-op for boards created with New.  The loop
// keeps the values of ctx but not its cancellation: it only stops in Shutdown, after every ESC has
// been braked.
func (b *Board) Start(ctx context.Context) {
	if b.loop == nil {
		return
	}
	ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go b.loop.Run(ctx)
	b.logger.Info("board started")
}

// Do runs fn on the loop and waits for it.  Boards created with New run fn directly.
func (b *Board) Do(fn func()) {
	if b.loop == nil {
		fn()
		return
	}
	b.loop.Do(fn)
}

// OnShutdown registers c to be closed by Shutdown, in reverse order of registration.
func (b *Board) OnShutdown(c io.Closer) {
	b.closers = append(b.closers, c)
}

// Shutdown brakes every ESC, closes everything registered with OnShutdown and stops the loop.
func (b *Board) Shutdown() error {
	var err error
	b.Do(func() {
		g := esc.NewGroup(b.escs)
		g.Stop()
		_, brakeErr := g.Brake()
		err = multierr.Append(err, brakeErr)
		for i := len(b.closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, b.closers[i].Close())
		}
		b.closers = nil
	})
	if b.cancel != nil {
		b.cancel()
		<-b.loop.Done()
		b.cancel = nil
	}
	b.logger.Infow("board shut down", "escs", b.escs.Len())
	return err
}
