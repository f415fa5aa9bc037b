package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/board"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/config"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/esc"
)

func main() {
	logger := golog.NewDevelopmentLogger("esctests")
	envCfg, err := config.ParseEnv()
	if err != nil {
		fmt.Println("Failed to read environment:", err)
		os.Exit(1)
	}
	cfg, err := config.Load(envCfg.ConfigPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(envCfg)

	b, err := board.Open(cfg.BoardOptions(envCfg.Dummy), logger)
	if err != nil {
		fmt.Println("Failed to open board:", err)
		os.Exit(1)
	}
	b.Start(context.Background())
	defer func() {
		if err := b.Shutdown(); err != nil {
			fmt.Println("Shutdown failed:", err)
		}
	}()

	b.Do(func() { _, err = config.Build(b, cfg) })
	if err != nil {
		fmt.Println("Failed to create devices:", err)
		return
	}

	shell := ishell.New()
	shell.Println("ESC test shell")
	for _, cmd := range commands(b) {
		shell.AddCmd(cmd)
	}
	shell.Start()
}

type escCommand struct {
	name, help string
	// args is the number of numeric arguments after the ESC ID.
	args int
	run  func(e *esc.ESC, v float64) error
}

var escCommands = []escCommand{
	{"speed", "speed <id> <0-100>       # Ramp to a speed", 1, func(e *esc.ESC, v float64) error { e.Speed(v); return nil }},
	{"forward", "forward <id> <0-100>     # Forward at a percentage", 1, func(e *esc.ESC, v float64) error { e.Forward(v); return nil }},
	{"reverse", "reverse <id> <0-100>     # Reverse at a percentage", 1, func(e *esc.ESC, v float64) error { e.Reverse(v); return nil }},
	{"stop", "stop <id>                # Abandon the ramp", 0, func(e *esc.ESC, _ float64) error { e.Stop(); return nil }},
	{"brake", "brake <id>               # Write neutral immediately", 0, func(e *esc.ESC, _ float64) error { return e.Brake() }},
}

func commands(b *board.Board) []*ishell.Cmd {
	var cmds []*ishell.Cmd
	for _, ec := range escCommands {
		ec := ec
		cmds = append(cmds, &ishell.Cmd{
			Name: ec.name,
			Help: ec.help,
			Func: func(c *ishell.Context) {
				out, err := runESC(b, ec, c.Args)
				if err != nil {
					c.Println(err)
					return
				}
				c.Println(out)
			},
		})
	}
	cmds = append(cmds,
		&ishell.Cmd{
			Name: "group",
			Help: "group <speed|forward|reverse|stop|brake> [0-100]  # Every ESC at once",
			Func: func(c *ishell.Context) {
				out, err := runGroup(b, c.Args)
				if err != nil {
					c.Println(err)
					return
				}
				c.Println(out)
			},
		},
		&ishell.Cmd{
			Name: "list",
			Help: "list                     # Show every ESC",
			Func: func(c *ishell.Context) {
				c.Println(list(b))
			},
		},
	)
	return cmds
}

func parseValue(args []string, i int) (float64, error) {
	if len(args) <= i {
		return 0, errors.New("not enough parameters")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(args[i]), 64)
	if err != nil {
		return 0, errors.Errorf("expected number, not %q", args[i])
	}
	return v, nil
}

func runESC(b *board.Board, ec escCommand, args []string) (string, error) {
	if len(args) < 1+ec.args {
		return "", errors.New("not enough parameters")
	}
	var v float64
	if ec.args > 0 {
		var err error
		if v, err = parseValue(args, 1); err != nil {
			return "", err
		}
	}
	var out string
	var err error
	b.Do(func() {
		e, ok := b.ESCs().ByID(args[0])
		if !ok {
			err = errors.Errorf("no ESC %q", args[0])
			return
		}
		if err = ec.run(e, v); err == nil {
			out = describe(e)
		}
	})
	return out, err
}

func runGroup(b *board.Board, args []string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("not enough parameters")
	}
	var v float64
	switch args[0] {
	case "speed", "forward", "reverse":
		var err error
		if v, err = parseValue(args, 1); err != nil {
			return "", err
		}
	case "stop", "brake":
	default:
		return "", errors.Errorf("unknown group command %q", args[0])
	}
	var err error
	b.Do(func() {
		g := esc.NewGroup(b.ESCs())
		switch args[0] {
		case "speed":
			g.Speed(v)
		case "forward":
			g.Forward(v)
		case "reverse":
			g.Reverse(v)
		case "stop":
			g.Stop()
		case "brake":
			_, err = g.Brake()
		}
	})
	if err != nil {
		return "", err
	}
	return list(b), nil
}

func list(b *board.Board) string {
	var lines []string
	b.Do(func() {
		for _, e := range b.ESCs().All() {
			lines = append(lines, describe(e))
		}
	})
	if len(lines) == 0 {
		return "no ESCs configured"
	}
	return strings.Join(lines, "\n")
}

func describe(e *esc.ESC) string {
	last := "-"
	if l := e.Last(); l != nil {
		last = fmt.Sprintf("%v (pwm %.1f)", l.Speed, l.Value)
	}
	return fmt.Sprintf("%-10s pin=%-3d value=%-6.1f target=%-6.1f last=%s ramping=%v",
		e.ID(), e.Pin(), e.Value(), e.Target(), last, e.Ramping())
}
