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

	"github.com/tigerbot-team/tigerbot/escstick/pkg/board"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/config"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/joystick"
)

func main() {
	app := &cli.App{
		Name:  "joytests",
		Usage: "print joystick events",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "controller", Value: "ANALOG", Usage: "ANALOG, ESPLORA or GAMEPAD"},
			&cli.IntSliceFlag{Name: "pins", Value: cli.NewIntSlice(0, 1), Usage: "x and y analog pins"},
			&cli.StringFlag{Name: "device", EnvVars: []string{"JOYSTICK_DEVICE"}, Usage: "gamepad device"},
			&cli.BoolFlag{Name: "changes", Usage: "only print changes"},
			&cli.BoolFlag{Name: "dummy", EnvVars: []string{"ESCSTICK_DUMMY"}, Usage: "use dummy hardware"},
			&cli.StringFlag{Name: "i2c-bus", EnvVars: []string{"ESCSTICK_I2C_BUS"}, Usage: "I2C bus for the ADC"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := golog.NewDevelopmentLogger("joytests")

	jc := config.Joystick{
		Controller: c.String("controller"),
		Device:     c.String("device"),
	}
	controller, err := joystick.ParseController(jc.Controller)
	if err != nil {
		return err
	}
	if controller == joystick.Analog {
		jc.Pins = c.IntSlice("pins")
	}
	cfg := &config.Config{
		I2CBus:    c.String("i2c-bus"),
		Joysticks: []config.Joystick{jc},
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Hook Ctrl-C etc.
	registerSignalHandlers(logger, cancel)

	b, err := board.Open(cfg.BoardOptions(c.Bool("dummy")), logger)
	if err != nil {
		return err
	}
	b.Start(ctx)
	defer func() {
		if err := b.Shutdown(); err != nil {
			logger.Errorw("shutdown failed", "error", err)
		}
	}()

	var buildErr error
	b.Do(func() {
		var devs *config.Devices
		if devs, buildErr = config.Build(b, cfg); buildErr != nil {
			return
		}
		watch(devs.Joysticks[0], c.Bool("changes"), func(line string) { fmt.Println(line) })
	})
	if buildErr != nil {
		return errors.Wrap(buildErr, "failed to open joystick")
	}

	<-ctx.Done()
	return nil
}

func watch(j *joystick.Joystick, changesOnly bool, out func(string)) {
	show := func(t joystick.EventType) joystick.Handler {
		return func(ev joystick.Event) {
			out(fmt.Sprintf("%-6v x=%+.3f y=%+.3f raw=%v", t, ev.X, ev.Y, ev.Raw))
		}
	}
	if !changesOnly {
		j.On(joystick.EventData, show(joystick.EventData))
	}
	j.On(joystick.EventChange, show(joystick.EventChange))
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
