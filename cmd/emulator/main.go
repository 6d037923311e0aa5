package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/configuration"
	"github.com/bartossh/Courier/emulator"
	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/logo"
	"github.com/bartossh/Courier/stdoutwriter"
)

func main() {
	logo.Display()

	var file string
	var port int
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Default(), nil
		}
		return configuration.Read(file)
	}

	app := &cli.App{
		Name:  "emulator",
		Usage: "Emulates chain node REST and websocket API for local wallet runs.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`, emulator defaults are used when not set",
				Destination: &file,
			},
			&cli.IntFlag{
				Name:        "port",
				Aliases:     []string{"p"},
				Usage:       "Overrides emulator `PORT`",
				Destination: &port,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Emulator.Port = port
			}
			return run(cfg.Emulator)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg emulator.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	log := logging.New(func(err error) { fmt.Println("error with logger: ", err) }, nil, stdoutwriter.Logger{}).WithComponent("emulator")
	defer log.Wait()

	pterm.Info.Printfln("emulating %s node on port %d", cfg.Network, cfg.Port)
	if err := emulator.Run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
