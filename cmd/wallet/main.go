package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/bootstrap"
	"github.com/bartossh/Courier/configuration"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/logging"
	"github.com/bartossh/Courier/logo"
	"github.com/bartossh/Courier/stdoutwriter"
	"github.com/bartossh/Courier/wallet"
)

const usage = `Wallet CLI tool signs and announces transfers to the chain node, keeps an offline queue of transfers,
coordinates multisig accounts and follows the node connection.
The wallet is kept in an AES encrypted GOBINARY file, PEM export is available for moving keys between tools.`

// session lazily reads the configuration and wires the components for a single command.
type session struct {
	file    string
	env     string
	verbose bool
	log     logging.Helper
	stack   *bootstrap.Stack
}

func (s *session) config() (configuration.Configuration, error) {
	cfg := configuration.Default()
	if s.file != "" {
		var err error
		if cfg, err = configuration.Read(s.file); err != nil {
			return cfg, err
		}
	}
	return configuration.FromEnv(cfg, s.env)
}

// open builds the stack, the wallet is required for commands that sign.
func (s *session) open(needWallet bool) (*bootstrap.Stack, error) {
	if s.stack != nil {
		return s.stack, nil
	}
	cfg, err := s.config()
	if err != nil {
		return nil, err
	}
	level := logging.LevelWarn
	if s.verbose {
		level = logging.LevelDebug
	}
	s.log = logging.New(func(err error) { fmt.Println("error with logger: ", err) }, nil, stdoutwriter.Logger{}).WithLevel(level)

	w, err := bootstrap.LoadWallet(cfg)
	if err != nil && (needWallet || !errors.Is(err, bootstrap.ErrNoWallet)) {
		return nil, err
	}
	s.stack, err = bootstrap.Build(cfg, w, s.log)
	return s.stack, err
}

// target opens the stack and resolves the address argument, falling back to the wallet address.
func (s *session) target(addr string) (*bootstrap.Stack, string, error) {
	st, err := s.open(addr == "")
	if err != nil || addr != "" {
		return st, addr, err
	}
	a, err := st.Wallet.Address()
	if err != nil {
		return nil, "", err
	}
	return st, a.Pretty(), nil
}

func (s *session) close() {
	if s.stack != nil {
		s.stack.Close()
		s.log.Wait()
	}
}

func main() {
	logo.Display()

	s := &session{}
	defer s.close()

	app := &cli.App{
		Name:  "wallet",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`, defaults are used when not set",
				Destination: &s.file,
			},
			&cli.StringFlag{
				Name:        "env",
				Aliases:     []string{"e"},
				Usage:       "Override configuration with dotenv `FILE`",
				Value:       ".env",
				Destination: &s.env,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "Print debug logs",
				Destination: &s.verbose,
			},
		},
		Commands: []*cli.Command{
			walletCommands(s),
			addressCommand(s),
			estimateCommand(s),
			sendCommand(s),
			statusCommand(s),
			queueCommands(s),
			multisigCommands(s),
			monitorCommand(s),
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(httpclient.UserMessage(err))
		s.close()
		os.Exit(1)
	}
}

func success() {
	pterm.Info.Println("----------")
	pterm.Info.Println(" SUCCESS !")
	pterm.Info.Println("----------")
}

func walletCommands(s *session) *cli.Command {
	var pem string
	pemFlag := &cli.StringFlag{
		Name:        "pem",
		Aliases:     []string{"p"},
		Usage:       "PEM `FILE` path. Your path shall look like that 'path/to/wallet' and the files are 'wallet' and 'wallet.pub'.",
		Destination: &pem,
	}
	return &cli.Command{
		Name:  "keys",
		Usage: "Creates the wallet and moves it between GOBINARY and PEM formats.",
		Subcommands: []*cli.Command{
			{
				Name:    "new",
				Aliases: []string{"n"},
				Usage:   "Creates new wallet and saves it to encrypted GOBINARY file and optionally to PEM format.",
				Flags:   []cli.Flag{pemFlag},
				Action: func(_ *cli.Context) error {
					cfg, err := s.config()
					if err != nil {
						return err
					}
					n, err := cfg.NetworkDescriptor()
					if err != nil {
						return err
					}
					fo := bootstrap.WalletFiles(cfg)
					if fo.WalletExists() {
						return fmt.Errorf("wallet file %s already exists", cfg.FileOperator.WalletPath)
					}
					w, err := wallet.New(n)
					if err != nil {
						return err
					}
					defer w.Flush()
					if err := fo.SaveWallet(w); err != nil {
						return err
					}
					if pem != "" {
						if err := w.SaveToPem(pem); err != nil {
							return err
						}
					}
					addr, err := w.Address()
					if err != nil {
						return err
					}
					pterm.Info.Printfln("wallet address %s", addr.Pretty())
					success()
					return nil
				},
			},
			{
				Name:    "topem",
				Aliases: []string{"tp"},
				Usage:   "Reads GOBINARY and saves it to PEM file format.",
				Flags:   []cli.Flag{pemFlag},
				Action: func(_ *cli.Context) error {
					cfg, err := s.config()
					if err != nil {
						return err
					}
					w, err := bootstrap.LoadWallet(cfg)
					if err != nil {
						return err
					}
					defer w.Flush()
					if err := w.SaveToPem(pem); err != nil {
						return err
					}
					success()
					return nil
				},
			},
			{
				Name:    "togob",
				Aliases: []string{"tg"},
				Usage:   "Reads PEM file format and saves it to GOBINARY encrypted file format.",
				Flags:   []cli.Flag{pemFlag},
				Action: func(_ *cli.Context) error {
					cfg, err := s.config()
					if err != nil {
						return err
					}
					n, err := cfg.NetworkDescriptor()
					if err != nil {
						return err
					}
					w, err := wallet.ReadFromPem(n, pem)
					if err != nil {
						return err
					}
					defer w.Flush()
					if err := bootstrap.WalletFiles(cfg).SaveWallet(w); err != nil {
						return err
					}
					success()
					return nil
				},
			},
		},
	}
}

func addressCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:    "address",
		Aliases: []string{"a"},
		Usage:   "Prints the wallet address and public key.",
		Action: func(_ *cli.Context) error {
			st, err := s.open(true)
			if err != nil {
				return err
			}
			addr, err := st.Wallet.Address()
			if err != nil {
				return err
			}
			pub, err := st.Wallet.PublicKey()
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"network", st.Network.Name},
				{"address", addr.Pretty()},
				{"public key", pub.String()},
			}).Render()
		},
	}
}
