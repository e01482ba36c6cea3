package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"signal-core/internal/api"
	"signal-core/internal/data"
	"signal-core/internal/decision"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/journal"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
	"signal-core/pkg/logger"
	marketbinance "signal-core/pkg/market/binance"
)

func newRunCmd() *cobra.Command {
	var keepPositions bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine: stream, decide, execute, serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if keepPositions {
				cfg.Engine.CloseOnShutdown = false
			}
			return run(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().BoolVar(&keepPositions, "keep-positions", false, "leave open positions on shutdown")
	return cmd
}

func run(parent context.Context, cfg *config.Config, log zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// first signal stops gracefully, the second one exits at once
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			log.Warn().Str("signal", s.String()).Msg("shutting down; send again to force exit")
			cancel()
		case <-ctx.Done():
			return
		}
		<-sigCh
		log.Error().Msg("forced exit")
		os.Exit(1)
	}()

	log.Info().
		Str("version", version).
		Str("base", cfg.BaseInterval).
		Bool("dry_run", cfg.Execution.DryRun).
		Bool("testnet", cfg.Binance.Testnet).
		Str("decision", cfg.Decision.Transport).
		Msg("starting signal engine")

	metrics := monitor.NewMetrics()
	bus := events.NewBus()
	cl := newClients(cfg, log)
	if !cfg.Execution.DryRun {
		cl.futures.StartTimeSync(ctx)
	}

	feed := market.NewStreamFeed(market.StreamConfig{
		Symbol:         cfg.Symbol,
		Intervals:      cfg.Stream.Intervals,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		PingInterval:   cfg.Stream.PingInterval,
		PongTimeout:    cfg.Stream.PongTimeout,
		TradeBuffer:    cfg.Stream.TradeBuffer,
		FlowWindow:     cfg.Stream.FlowWindow,
	}, marketbinance.NewStreamClient(cfg.Binance.WSBaseURL, cfg.Binance.Testnet), log)
	feed.SetObserver(metrics)
	feed.Start(ctx)
	defer feed.Stop()
	waitConnected(ctx, feed, cfg.Stream.ConnectWait, log)

	candles := data.NewCandleService(cl.public, cfg.Symbol)
	agg := indicators.NewAggregator(candles, timeframes(cfg), cfg.Engine.FetchTimeout, log)
	sentiment := market.NewSentimentService(cl.public, cfg.Symbol, log)

	w, err := newWallet(cfg, cl, lastPrice{stream: feed, rest: cl.futures, symbol: cfg.Symbol}, bus, metrics, log)
	if err != nil {
		return err
	}
	actx, acancel := context.WithTimeout(ctx, cfg.Engine.FetchTimeout)
	acct, err := w.accounts.Account(actx)
	acancel()
	if err != nil {
		return err
	}
	gate := risk.NewGate(acct.Balance, risk.LimitsFromConfig(cfg.Risk))
	log.Info().Float64("balance", acct.Balance).Int("positions", len(acct.Positions)).Str("venue", w.venue).Msg("starting balance")

	decider, err := newDecider(cfg, log)
	if err != nil {
		return err
	}
	defer decider.Close()

	jr, err := journal.Open(cfg.DBPath, cfg.Symbol, log)
	if err != nil {
		return err
	}
	defer jr.Close()

	var publisher engine.Publisher
	if cfg.Redis.Addr != "" {
		pub, err := cache.NewRedisPublisher(ctx, cache.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Prefix:      cfg.Redis.Prefix,
			TTL:         cfg.Redis.TTL,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialLimit,
		}, cfg.Symbol)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; cycle fan-out disabled")
		} else {
			defer pub.Close()
			publisher = pub
			log.Info().Str("key", pub.SnapshotKey()).Str("channel", pub.Channel()).Msg("publishing cycles to redis")
		}
	}

	eng, err := engine.New(engine.Deps{
		Feed:       feed,
		Aggregator: agg,
		Candles:    candles,
		Sentiment:  sentiment,
		Accounts:   w.accounts,
		Decider:    decider,
		Gate:       gate,
		Trader:     w.trader,
		Journal:    jr,
		Memory:     decision.NewMemory(cfg.Decision.MemorySize),
		Metrics:    metrics,
		Bus:        bus,
		Publisher:  publisher,
	}, engine.Config{
		Symbol:           cfg.Symbol,
		BaseInterval:     cfg.BaseInterval,
		QuickInterval:    cfg.QuickInterval,
		CandleLimit:      cfg.CandleLimit,
		RecentTrades:     cfg.Engine.RecentTrades,
		QuickCheck:       cfg.Engine.QuickCheck,
		FlowWindow:       cfg.Stream.FlowWindow,
		Heartbeat:        cfg.Engine.Heartbeat,
		ErrorDelay:       cfg.Engine.ErrorDelay,
		FetchTimeout:     cfg.Engine.FetchTimeout,
		DecisionTimeout:  cfg.Decision.Timeout,
		ExecutionTimeout: cfg.Engine.ExecutionTimeout,
	}, logger.Component(log, "engine"))
	if err != nil {
		return err
	}

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: log}, Log: log}
	mon.Start(ctx)

	var wg sync.WaitGroup
	if cfg.API.Enabled {
		srv := api.NewServer(api.Options{
			Engine:    eng,
			Feed:      feed,
			Journal:   jr,
			Bus:       bus,
			Metrics:   metrics,
			JWTSecret: cfg.API.JWTSecret,
			Timeout:   cfg.API.Timeout,
			Meta: api.SystemMeta{
				DryRun:       cfg.Execution.DryRun,
				Venue:        w.venue,
				Symbol:       cfg.Symbol,
				BaseInterval: cfg.BaseInterval,
				Version:      version,
			},
			Log: log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, ":"+cfg.API.Port); err != nil {
				log.Error().Err(err).Msg("control api stopped")
			}
		}()
	}

	err = eng.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	cancel()

	if cfg.Engine.CloseOnShutdown {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Engine.ExecutionTimeout)
		results, cerr := eng.CloseManual(sctx, "all", "shutdown")
		scancel()
		if cerr != nil {
			log.Error().Err(cerr).Msg("closing positions on shutdown failed")
		} else {
			log.Info().Int("closed", len(results)).Msg("positions closed on shutdown")
		}
	} else {
		log.Warn().Msg("leaving positions open")
	}

	wg.Wait()
	log.Info().Int64("cycles", eng.Cycles()).Msg("engine stopped")
	return err
}

// waitConnected gives the stream a moment before the first cycle. A feed
// that is still connecting is not fatal; it keeps retrying in the
// background.
func waitConnected(ctx context.Context, feed *market.StreamFeed, wait time.Duration, log zerolog.Logger) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for !feed.Connected() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.Warn().Dur("waited", wait).Msg("stream not connected yet; continuing")
			return
		case <-tick.C:
		}
	}
	log.Info().Msg("stream connected")
}
