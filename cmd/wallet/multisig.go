package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/multisig"
)

func multisigCommands(s *session) *cli.Command {
	var (
		cosigners   cli.StringSlice
		minApproval int
		minRemoval  int
		wait        bool
	)
	waitFlag := &cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the final status", Destination: &wait}

	return &cli.Command{
		Name:    "multisig",
		Aliases: []string{"m"},
		Usage:   "Converts the wallet account in to multisig account and cosigns partial transactions.",
		Subcommands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Prints multisig relations of the account, the wallet account when no address is given.",
				ArgsUsage: "[ADDRESS]",
				Action: func(c *cli.Context) error {
					st, addr, err := s.target(c.Args().First())
					if err != nil {
						return err
					}
					ctx, cancel := interruptible()
					defer cancel()
					info, err := st.Multisig.GetAccountInfo(ctx, addr)
					if err != nil {
						return err
					}
					if info == nil {
						pterm.Info.Printfln("%s has no multisig relations", addr)
						return nil
					}
					return pterm.DefaultTable.WithData(pterm.TableData{
						{"account", info.AccountAddress},
						{"min approval", fmt.Sprint(info.MinApproval)},
						{"min removal", fmt.Sprint(info.MinRemoval)},
						{"cosigners", strings.Join(info.CosignatoryAddresses, "\n")},
						{"cosigner of", strings.Join(info.MultisigAddresses, "\n")},
					}).Render()
				},
			},
			{
				Name:  "convert",
				Usage: "Converts the wallet account in to multisig account, cosigners approve with the cosign command.",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "cosigner", Usage: "Cosigner `ADDRESS`, repeat for every cosigner", Required: true, Destination: &cosigners},
					&cli.IntFlag{Name: "min-approval", Usage: "Approval `THRESHOLD`", Value: 1, Destination: &minApproval},
					&cli.IntFlag{Name: "min-removal", Usage: "Removal `THRESHOLD`", Value: 1, Destination: &minRemoval},
					waitFlag,
				},
				Action: func(_ *cli.Context) error {
					st, err := s.open(true)
					if err != nil {
						return err
					}
					ctx, cancel := interruptible()
					defer cancel()
					res, err := st.Multisig.ConvertToMultisig(ctx, multisig.ConvertRequest{
						Cosigners:   cosigners.Value(),
						MinApproval: minApproval,
						MinRemoval:  minRemoval,
					})
					if err != nil {
						return err
					}
					if res.Bonded {
						pterm.Info.Printfln("hash lock %s confirmed", res.LockHash)
					}
					pterm.Success.Printfln("conversion %s announced", res.Hash)
					if !wait {
						return nil
					}
					return follow(ctx, st.Manager, res.Hash)
				},
			},
			{
				Name:      "cosign",
				Usage:     "Cosigns the partial transaction with the wallet key.",
				ArgsUsage: "HASH",
				Flags:     []cli.Flag{waitFlag},
				Action: func(c *cli.Context) error {
					st, err := s.open(true)
					if err != nil {
						return err
					}
					ctx, cancel := interruptible()
					defer cancel()
					res, err := st.Multisig.CosignPartialTransaction(ctx, c.Args().First())
					if err != nil {
						return err
					}
					pterm.Success.Printfln("cosignature for %s announced", res.Hash)
					if !wait {
						return nil
					}
					return follow(ctx, st.Manager, res.Hash)
				},
			},
			{
				Name:      "partial",
				Usage:     "Lists partial transactions waiting for cosignatures, the wallet account when no address is given.",
				ArgsUsage: "[ADDRESS]",
				Action: func(c *cli.Context) error {
					st, addr, err := s.target(c.Args().First())
					if err != nil {
						return err
					}
					ctx, cancel := interruptible()
					defer cancel()
					partials, err := st.Multisig.FetchPartialTransactions(ctx, addr)
					if err != nil {
						return err
					}
					if len(partials) == 0 {
						pterm.Info.Printfln("no partial transactions for %s", addr)
						return nil
					}
					var pub string
					if st.Wallet != nil {
						if k, err := st.Wallet.PublicKey(); err == nil {
							pub = k.String()
						}
					}
					data := pterm.TableData{{"hash", "signer", "cosignatures", "signed by wallet"}}
					for _, p := range partials {
						data = append(data, []string{
							p.Meta.Hash,
							p.Transaction.SignerPublicKey,
							fmt.Sprint(len(p.Transaction.Cosignatures)),
							fmt.Sprint(p.CosignedBy(pub)),
						})
					}
					return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
				},
			},
		},
	}
}
