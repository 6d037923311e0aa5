package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Courier/batch"
	"github.com/bartossh/Courier/httpclient"
	"github.com/bartossh/Courier/normalizer"
	"github.com/bartossh/Courier/txmanager"
	"github.com/bartossh/Courier/walletapi"
)

func queueCommands(s *session) *cli.Command {
	var f transferFlags
	return &cli.Command{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Keeps transfers prepared offline and submits them in one batch.",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Validates the transfer, estimates its fee and adds it to the queue.",
				Flags: f.flags(),
				Action: func(_ *cli.Context) error {
					st, err := s.open(true)
					if err != nil {
						return err
					}
					in, err := f.input(st.Network)
					if err != nil {
						return err
					}
					tx, err := walletapi.Enqueueable(st.Manager, in)
					if err != nil {
						return err
					}
					id, err := st.Queue.Add(tx)
					if err != nil {
						return err
					}
					pterm.Success.Printfln("queued %s with fee %s", id, formatFee(tx.EstimatedFee))
					return nil
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "Lists queued transfers.",
				Action: func(_ *cli.Context) error {
					st, err := s.open(false)
					if err != nil {
						return err
					}
					txs := st.Queue.GetAll()
					if len(txs) == 0 {
						pterm.Info.Println("queue is empty")
						return nil
					}
					data := pterm.TableData{{"id", "recipient", "mosaics", "message", "fee", "created"}}
					for _, tx := range txs {
						mosaics := make([]string, 0, len(tx.Mosaics))
						for _, m := range tx.Mosaics {
							mosaics = append(mosaics, fmt.Sprintf("%s:%s", m.HexID(), humanize.Comma(m.Amount)))
						}
						data = append(data, []string{
							tx.ID, tx.Recipient, strings.Join(mosaics, " "), tx.Message,
							humanize.Comma(int64(tx.EstimatedFee)), humanize.Time(tx.CreatedAt),
						})
					}
					if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
						return err
					}
					pterm.Info.Printfln("%d transfers, total fee %s", len(txs), formatFee(st.Queue.TotalEstimatedFee()))
					return nil
				},
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Removes the transfer from the queue.",
				ArgsUsage: "ID",
				Action: func(c *cli.Context) error {
					st, err := s.open(false)
					if err != nil {
						return err
					}
					ok, err := st.Queue.Remove(c.Args().First())
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("transfer %q is not queued", c.Args().First())
					}
					success()
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Removes every queued transfer.",
				Action: func(_ *cli.Context) error {
					st, err := s.open(false)
					if err != nil {
						return err
					}
					n, err := st.Queue.Clear()
					if err != nil {
						return err
					}
					pterm.Info.Printfln("removed %d transfers", n)
					return nil
				},
			},
			{
				Name:      "reorder",
				Usage:     "Sets the submission order, every queued id must be listed once.",
				ArgsUsage: "ID...",
				Action: func(c *cli.Context) error {
					st, err := s.open(false)
					if err != nil {
						return err
					}
					ok, err := st.Queue.Reorder(c.Args().Slice())
					if err != nil {
						return err
					}
					if !ok {
						return &normalizer.ValidationError{Field: "ids", Reason: "ids must list every queued transfer once"}
					}
					success()
					return nil
				},
			},
			{
				Name:  "submit",
				Usage: "Announces every queued transfer and waits for the final statuses.",
				Action: func(_ *cli.Context) error {
					st, err := s.open(true)
					if err != nil {
						return err
					}
					ctx, cancel := interruptible()
					defer cancel()

					area, _ := pterm.DefaultArea.Start()
					var mux sync.Mutex
					progress := make(map[string]string)
					var order []string
					sub := batch.New(st.Manager, st.Config.Batch, s.log,
						batch.WithMeasurements(st.Measurements),
						batch.WithUpdates(func(id string, ts txmanager.TransactionStatus) {
							mux.Lock()
							defer mux.Unlock()
							if _, ok := progress[id]; !ok {
								order = append(order, id)
							}
							progress[id] = fmt.Sprintf("%s %s %s", id, ts.Group, ts.Code)
							lines := make([]string, 0, len(order))
							for _, id := range order {
								lines = append(lines, progress[id])
							}
							area.Update(strings.Join(lines, "\n"))
						}))
					results, err := sub.SubmitAll(ctx, st.Queue)
					area.Stop()
					if errors.Is(err, batch.ErrEmptyQueue) {
						pterm.Info.Println("queue is empty")
						return nil
					}
					if err != nil {
						return err
					}
					return printResults(results)
				},
			},
		},
	}
}

func printResults(results []batch.Result) error {
	data := pterm.TableData{{"id", "hash", "status", "error"}}
	for _, r := range results {
		status, msg := r.Status.Group, ""
		if r.Err != nil {
			msg = httpclient.UserMessage(r.Err)
			if r.Requeued {
				msg += " (requeued)"
			}
		}
		data = append(data, []string{r.QueuedID, r.Hash, status, msg})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Info.Printfln("%d of %d transfers confirmed", batch.Confirmed(results), len(results))
	return nil
}
