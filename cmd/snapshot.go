package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"signal-core/internal/data"
	"signal-core/internal/indicators"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
)

func newSnapshotCmd() *cobra.Command {
	var fromRedis, follow bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the multi-timeframe indicator table once, without trading",
		Long: `snapshot fetches every configured timeframe and prints one row per
timeframe. With --from-redis it prints the last cycle a running engine
published instead; --follow keeps printing new cycles as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if fromRedis || follow {
				return printPublished(ctx, cfg, cmd.OutOrStdout(), follow)
			}

			cl := newClients(cfg, log)
			agg := indicators.NewAggregator(data.NewCandleService(cl.public, cfg.Symbol), timeframes(cfg), cfg.Engine.FetchTimeout, log)
			return writeTable(cmd.OutOrStdout(), cfg.Symbol, agg.Run(ctx))
		},
	}
	cmd.Flags().BoolVar(&fromRedis, "from-redis", false, "read the last published cycle from redis")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream published cycles from redis until interrupted")
	return cmd
}

func writeTable(out io.Writer, symbol string, mtf indicators.MultiTimeframe) error {
	fmt.Fprintf(out, "%s multi-timeframe\n\n", symbol)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TF\tCLOSE\tTREND\tRSI14\tMACD\tBB\tSTOCH K\tMOMENTUM\tVOL RATIO")
	for _, r := range mtf.Results {
		if r.Summary == nil {
			fmt.Fprintf(tw, "%s\terror: %s\t\t\t\t\t\t\t\n", r.Label, r.Err)
			continue
		}
		s := r.Summary
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Label, s.Close, s.Trend, optional(s.RSI14), s.MACDCross, s.BBPosition,
			optional(s.StochRSIK), s.Momentum, optional(s.VolRatio))
	}
	return tw.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func printPublished(ctx context.Context, cfg *config.Config, out io.Writer, follow bool) error {
	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr is not configured")
	}
	pub, err := cache.NewRedisPublisher(ctx, cache.RedisConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		Prefix:      cfg.Redis.Prefix,
		DialTimeout: cfg.Redis.DialLimit,
	}, cfg.Symbol)
	if err != nil {
		return err
	}
	defer pub.Close()

	if !follow {
		var raw json.RawMessage
		if err := pub.Latest(ctx, &raw); err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				return fmt.Errorf("nothing published under %s yet", pub.SnapshotKey())
			}
			return err
		}
		return printJSON(out, raw)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	stream, err := pub.Follow(ctx)
	if err != nil {
		return err
	}
	for payload := range stream {
		if err := printJSON(out, payload); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(out io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("decode published cycle: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
