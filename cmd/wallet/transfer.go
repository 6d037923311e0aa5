package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/transaction"
	"github.com/bartossh/Courier/txmanager"
)

const currencyDivisibility = 6

type transferFlags struct {
	to           string
	amount       string
	mosaic       string
	divisibility uint
	message      string
}

func (f *transferFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "to", Aliases: []string{"t"}, Usage: "Recipient `ADDRESS`", Required: true, Destination: &f.to},
		&cli.StringFlag{Name: "amount", Usage: "Human readable `AMOUNT` such as 1.5", Required: true, Destination: &f.amount},
		&cli.StringFlag{Name: "mosaic", Usage: "Mosaic `ID` in hex, network currency when not set", Destination: &f.mosaic},
		&cli.UintFlag{Name: "divisibility", Usage: "Mosaic `DIVISIBILITY`", Value: currencyDivisibility, Destination: &f.divisibility},
		&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Plain `TEXT` message", Destination: &f.message},
	}
}

// input turns the flags in to the transfer input with the amount in atomic units.
func (f *transferFlags) input(n transaction.Network) (normalizer.TransferInput, error) {
	if f.divisibility > 6 {
		return normalizer.TransferInput{}, fmt.Errorf("divisibility %d exceeds 6", f.divisibility)
	}
	amount, err := normalizer.NormalizeHumanAmount(f.amount, uint8(f.divisibility))
	if err != nil {
		return normalizer.TransferInput{}, err
	}
	var mosaic any = n.CurrencyMosaicID
	if f.mosaic != "" {
		mosaic = f.mosaic
	}
	return normalizer.TransferInput{
		Recipient: f.to,
		Mosaics:   []normalizer.MosaicInput{{MosaicID: mosaic, Amount: amount}},
		Message:   f.message,
	}, nil
}

func formatFee(fee uint64) string {
	return fmt.Sprintf("%s (%s micro units)", normalizer.FormatAmount(int64(fee), currencyDivisibility), humanize.Comma(int64(fee)))
}

// interruptible returns a context canceled on interrupt signal.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func estimateCommand(s *session) *cli.Command {
	var f transferFlags
	return &cli.Command{
		Name:    "estimate",
		Aliases: []string{"e"},
		Usage:   "Estimates the transfer fee.",
		Flags:   f.flags(),
		Action: func(_ *cli.Context) error {
			st, err := s.open(true)
			if err != nil {
				return err
			}
			in, err := f.input(st.Network)
			if err != nil {
				return err
			}
			fee, err := st.Manager.EstimateFee(in)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("estimated fee %s", formatFee(fee))
			return nil
		},
	}
}

func sendCommand(s *session) *cli.Command {
	var f transferFlags
	var wait bool
	return &cli.Command{
		Name:    "send",
		Aliases: []string{"s"},
		Usage:   "Signs and announces the transfer.",
		Flags: append(f.flags(), &cli.BoolFlag{
			Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the transaction to be confirmed or failed", Destination: &wait,
		}),
		Action: func(_ *cli.Context) error {
			st, err := s.open(true)
			if err != nil {
				return err
			}
			in, err := f.input(st.Network)
			if err != nil {
				return err
			}
			ctx, cancel := interruptible()
			defer cancel()

			fee, err := st.Manager.EstimateFee(in)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("fee %s", formatFee(fee))
			res, err := st.Manager.CreateSignAndAnnounce(ctx, in)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("announced %s", res.Hash)
			if !wait {
				return nil
			}
			return follow(ctx, st.Manager, res.Hash)
		},
	}
}

// follow polls the status showing every change until the transaction is final.
func follow(ctx context.Context, tm *txmanager.Manager, hash string) error {
	spinner, _ := pterm.DefaultSpinner.Start("waiting for " + hash)
	t0 := time.Now()
	st, err := tm.WaitForConfirmation(ctx, hash, func(st txmanager.TransactionStatus) {
		spinner.UpdateText(fmt.Sprintf("%s %s", st.Group, st.Code))
	})
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	msg := fmt.Sprintf("%s %s at height %s after %s", st.Group, st.Code, st.Height, humanize.RelTime(t0, time.Now(), "", ""))
	if st.Group == txmanager.GroupConfirmed {
		spinner.Success(msg)
		return nil
	}
	spinner.Fail(msg)
	return nil
}

func statusCommand(s *session) *cli.Command {
	var wait bool
	return &cli.Command{
		Name:      "status",
		Usage:     "Prints the transaction status.",
		ArgsUsage: "HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the final status", Destination: &wait},
		},
		Action: func(c *cli.Context) error {
			st, err := s.open(false)
			if err != nil {
				return err
			}
			ctx, cancel := interruptible()
			defer cancel()
			if wait {
				return follow(ctx, st.Manager, c.Args().First())
			}
			status, err := st.Manager.TransactionStatus(ctx, c.Args().First())
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"hash", status.Hash},
				{"group", status.Group},
				{"code", status.Code},
				{"height", status.Height},
			}).Render()
		},
	}
}
