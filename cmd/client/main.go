package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/batch"
	"github.com/bartossh/Courier/bootstrap"
	"github.com/bartossh/Courier/configuration"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/logo"
	"github.com/bartossh/Courier/natsclient"
	"github.com/bartossh/Courier/telemetry"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/walletapi"
)

const usage = `Client runs wallet API service that serves as a middleware between your application and the chain node.
Wallet signs transactions with the AES sealed wallet, queues them for offline use and follows the node connection.`

func main() {
	logo.Display()

	var file, env string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		return configuration.FromEnv(cfg, env)
	}

	app := &cli.App{
		Name:  "client",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "env",
				Aliases:     []string{"e"},
				Usage:       "Override configuration with dotenv `FILE`",
				Value:       ".env",
				Destination: &env,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg configuration.Configuration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	callbackOnErr := func(err error) {
		fmt.Println("error with logger: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("error with logger: %s", err))
	}

	log, err := bootstrap.NewLogger(cfg, callbackOnErr, callbackOnFatal)
	if err != nil {
		return err
	}
	defer log.Wait()

	w, err := bootstrap.LoadWallet(cfg)
	if err != nil {
		log.Warn(fmt.Sprintf("wallet not loaded, signing is unavailable: %s", err))
	}

	s, err := bootstrap.Build(cfg, w, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Nats.Address != "" {
		pub, err := natsclient.PublisherConnect(cfg.Nats)
		if err != nil {
			log.Error(fmt.Sprintf("nats publisher not connected: %s", err))
		} else {
			defer pub.Disconnect()
			go forwardTransitions(ctx, s, pub, log)
			s.Submitter = batch.New(s.Manager, cfg.Batch, log,
				batch.WithMeasurements(s.Measurements),
				batch.WithUpdates(func(queuedID string, st txmanager.TransactionStatus) {
					if err := pub.PublishTransactionStatus(queuedID, st); err != nil {
						log.Error(fmt.Sprintf("nats publish of %s status failed: %s", st.Hash, err))
					}
				}))
		}
	}

	if cfg.MetricsPort != 0 {
		if err := telemetry.Run(ctx, cancel, cfg.MetricsPort, s.Measurements); err != nil {
			return err
		}
	}

	s.Monitor.Start(ctx)
	defer s.Monitor.Stop()

	return walletapi.Run(ctx, cfg.Client, s.Services(), log)
}

func forwardTransitions(ctx context.Context, s *bootstrap.Stack, pub *natsclient.Publisher, log logger.Logger) {
	sub := s.Monitor.Subscribe()
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := pub.PublishConnectionState(s.Monitor.NodeURL(), t); err != nil {
				log.Error(fmt.Sprintf("nats publish of connection state failed: %s", err))
			}
		}
	}
}
