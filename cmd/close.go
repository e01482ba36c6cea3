package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/events"
	"signal-core/internal/journal"
	"signal-core/internal/order"
)

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close [all|SYMBOL]",
		Short: "List open positions and close all of them or one symbol",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.Execution.DryRun {
				return errors.New("paper positions live inside the running engine; use POST /api/positions/close")
			}
			target := "all"
			if len(args) == 1 && !strings.EqualFold(args[0], "all") {
				target = strings.ToUpper(args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Engine.ExecutionTimeout)
			defer cancel()

			cl := newClients(cfg, log)
			cl.futures.StartTimeSync(ctx)
			w, err := newWallet(cfg, cl, nil, events.NewBus(), nil, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			before, err := w.accounts.Account(ctx)
			if err != nil {
				return err
			}
			if err := writePositions(out, before); err != nil {
				return err
			}
			if len(before.Positions) == 0 {
				return nil
			}

			var results []order.CloseResult
			if target == "all" {
				results, err = w.trader.CloseAll(ctx)
			} else {
				var res *order.CloseResult
				res, err = w.trader.Close(ctx, target)
				if res != nil {
					results = append(results, *res)
				}
			}
			for _, r := range results {
				fmt.Fprintf(out, "closed %s %s %.6g @ %.2f\n", r.Symbol, r.Side, r.Quantity, r.ClosePrice)
			}
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintf(out, "no open position for %s\n", target)
				return nil
			}

			after, err := w.accounts.Account(ctx)
			if err != nil {
				return fmt.Errorf("closed, but reading the new balance failed: %w", err)
			}
			pnl := after.Balance - before.Balance
			fmt.Fprintf(out, "balance %.2f USDT (%+.2f)\n", after.Balance, pnl)

			jr, err := journal.Open(cfg.DBPath, cfg.Symbol, log)
			if err != nil {
				log.Warn().Err(err).Msg("journal unavailable; close not recorded")
				return nil
			}
			defer jr.Close()
			return jr.Log(ctx, journal.Entry{
				Decision:     decision.Decision{Action: decision.ActionClose, Comment: "manual close from cli"},
				ClosePrice:   journal.Float(results[0].ClosePrice),
				PositionSize: journal.Float(results[0].Quantity),
				PnL:          journal.Float(pnl),
				Equity:       journal.Float(after.Balance),
				Note:         fmt.Sprintf("cli close %s", target),
			})
		},
	}
}

func writePositions(out io.Writer, acct balance.Account) error {
	fmt.Fprintf(out, "balance %.2f USDT, unrealized %.2f\n", acct.Balance, acct.UnrealizedPnL)
	if len(acct.Positions) == 0 {
		fmt.Fprintln(out, "no open positions")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tSIZE\tENTRY\tUPNL\tLEVERAGE")
	for _, p := range acct.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%.6g\t%.2f\t%.2f\t%dx\n",
			p.Symbol, p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL, p.Leverage)
	}
	return tw.Flush()
}
