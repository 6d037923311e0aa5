package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/bootstrap"
	"github.com/bartossh/Courier/connmonitor"
	"github.com/bartossh/Courier/listener"
	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/natsclient"
)

func monitorCommand(s *session) *cli.Command {
	var publish, events bool
	return &cli.Command{
		Name:  "monitor",
		Usage: "Follows the node connection state and the wallet account events until interrupted.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "publish", Usage: "Publish connection transitions to the configured nats server", Destination: &publish},
			&cli.BoolFlag{Name: "events", Usage: "Print confirmed transactions and statuses of the wallet account", Value: true, Destination: &events},
		},
		Action: func(_ *cli.Context) error {
			st, err := s.open(false)
			if err != nil {
				return err
			}
			ctx, cancel := interruptible()
			defer cancel()

			var pub *natsclient.Publisher
			if publish {
				if pub, err = natsclient.PublisherConnect(st.Config.Nats); err != nil {
					return err
				}
				defer pub.Disconnect()
			}

			sub := st.Monitor.Subscribe()
			defer sub.Cancel()
			st.Monitor.Start(ctx)
			defer st.Monitor.Stop()

			if events && st.Wallet != nil {
				stop, err := followAccount(ctx, st, s.log)
				if err != nil {
					pterm.Warning.Printfln("account events unavailable: %s", err)
				} else {
					defer stop()
				}
			}

			pterm.Info.Printfln("monitoring %s, press Ctrl+C to stop", st.Monitor.NodeURL())
			for {
				select {
				case <-ctx.Done():
					return nil
				case t, ok := <-sub.Channel():
					if !ok {
						return nil
					}
					printTransition(t)
					if pub == nil {
						continue
					}
					if err := pub.PublishConnectionState(st.Monitor.NodeURL(), t); err != nil {
						pterm.Warning.Printfln("nats publish failed: %s", err)
					}
				}
			}
		},
	}
}

func printTransition(t connmonitor.Transition) {
	title, body := connmonitor.StateMessage(t.New)
	line := fmt.Sprintf("%s: %s", title, body)
	if t.Status.ErrorMessage != "" {
		line += " " + t.Status.ErrorMessage
	}
	switch t.New {
	case connmonitor.Online:
		pterm.Success.Println(line)
	case connmonitor.Unknown:
		pterm.Info.Println(line)
	default:
		if !t.Status.LastOnlineTime.IsZero() {
			line += fmt.Sprintf(" Last online %s.", humanize.Time(t.Status.LastOnlineTime))
		}
		pterm.Warning.Println(line)
	}
}

// followAccount prints websocket events of the wallet account, stop closes the connection.
func followAccount(ctx context.Context, st *bootstrap.Stack, log logger.Logger) (func(), error) {
	addr, err := st.Wallet.Address()
	if err != nil {
		return nil, err
	}
	l := listener.New(st.Config.Listener, log)
	if err := l.Connect(ctx); err != nil {
		return nil, err
	}
	for _, ch := range []string{listener.ChannelConfirmedAdded, listener.ChannelStatus, listener.ChannelPartialAdded} {
		if err := l.Subscribe(ch, addr.Pretty()); err != nil {
			l.Stop()
			return nil, err
		}
	}
	sub := l.Events()
	go func() {
		for ev := range sub.Channel() {
			switch ev.Channel {
			case listener.ChannelStatus:
				pterm.Error.Printfln("%s %s %s", time.Now().Format(time.TimeOnly), ev.Hash, ev.Code)
			default:
				pterm.Info.Printfln("%s %s %s", time.Now().Format(time.TimeOnly), ev.Channel, ev.Hash)
			}
		}
	}()
	return func() {
		sub.Cancel()
		l.Stop()
	}, nil
}
