package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/board"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/config"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/esc"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/mathx"
)

func main() {
	app := &cli.App{
		Name:  "escstick",
		Usage: "drive a pair of ESCs from a joystick",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE`"},
			&cli.BoolFlag{Name: "dummy", Usage: "log hardware writes instead of doing them"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "disable logging"},
			&cli.StringFlag{Name: "left", Value: "left", Usage: "ID of the left ESC"},
			&cli.StringFlag{Name: "right", Value: "right", Usage: "ID of the right ESC"},
			&cli.StringFlag{Name: "stick", Value: "stick", Usage: "ID of the joystick"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	var logger golog.Logger
	switch {
	case c.Bool("quiet"):
		logger = zap.NewNop().Sugar()
	case c.Bool("debug"):
		logger = golog.NewDebugLogger("escstick")
	default:
		logger = golog.NewDevelopmentLogger("escstick")
	}

	envCfg, err := config.ParseEnv()
	if err != nil {
		return err
	}
	path := envCfg.ConfigPath
	if c.IsSet("config") {
		path = c.String("config")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(envCfg)

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Hook Ctrl-C etc.
	registerSignalHandlers(logger, cancel)

	b, err := board.Open(cfg.BoardOptions(envCfg.Dummy || c.Bool("dummy")), logger)
	if err != nil {
		return err
	}
	b.Start(ctx)
	defer func() {
		logger.Info("zeroing motors for shut down")
		if err := b.Shutdown(); err != nil {
			logger.Errorw("shutdown failed", "error", err)
		}
	}()

	var setupErr error
	b.Do(func() {
		setupErr = setup(b, cfg, c.String("left"), c.String("right"), c.String("stick"))
	})
	if setupErr != nil {
		return setupErr
	}

	logger.Info("---- escstick ready ----")
	<-ctx.Done()
	return nil
}

func setup(b *board.Board, cfg *config.Config, leftID, rightID, stickID string) error {
	devs, err := config.Build(b, cfg)
	if err != nil {
		return err
	}
	left, ok := devs.ESC(leftID)
	if !ok {
		return errors.Errorf("no ESC %q in config", leftID)
	}
	right, ok := devs.ESC(rightID)
	if !ok {
		return errors.Errorf("no ESC %q in config", rightID)
	}
	stick, ok := devs.Joystick(stickID)
	if !ok {
		return errors.Errorf("no joystick %q in config", stickID)
	}

	motors := esc.GroupOf(left, right)
	stick.On(joystick.EventChange, func(ev joystick.Event) {
		l, r := mix(ev.X, ev.Y)
		drive(left, l)
		drive(right, r)
	})
	b.Logger().Infow("driving", "left", left.ID(), "right", right.ID(), "stick", stick.ID(), "escs", motors.Len())
	_, err = motors.Brake()
	return err
}

// deadband is the stick travel around centre that counts as centred.
const deadband = 0.05

// mix turns a stick position into left and right track speeds in [-1, 1].  Pushing the stick
// up (negative y) drives forwards.
func mix(x, y float64) (left, right float64) {
	if mathx.Abs(x) < deadband {
		x = 0
	}
	if mathx.Abs(y) < deadband {
		y = 0
	}
	throttle := -y
	return mathx.Clamp(throttle+x, -1, 1), mathx.Clamp(throttle-x, -1, 1)
}

func drive(e *esc.ESC, v float64) {
	if v < 0 {
		e.Reverse(-v * 100)
		return
	}
	e.Forward(v * 100)
}

func registerSignalHandlers(logger golog.Logger, cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		logger.Infow("signal", "signal", s)
		cancelFunc()
	}()
}
