package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/pkg/config"
	"signal-core/pkg/exchanges/binance/futures_usdt"
	"signal-core/pkg/logger"
	marketbinance "signal-core/pkg/market/binance"
)

type clients struct {
	public  *marketbinance.Client
	futures *futures_usdt.Client
}

func newClients(cfg *config.Config, log zerolog.Logger) clients {
	return clients{
		public: marketbinance.NewClient(cfg.Binance.RESTBaseURL, cfg.Binance.Testnet, cfg.Binance.HTTPTimeout, cfg.Binance.RateLimit),
		futures: futures_usdt.NewClient(futures_usdt.Config{
			APIKey:     cfg.Binance.APIKey,
			APISecret:  cfg.Binance.APISecret,
			Testnet:    cfg.Binance.Testnet,
			BaseURL:    cfg.Binance.RESTBaseURL,
			RecvWindow: cfg.Binance.RecvWindow,
			Timeout:    cfg.Binance.HTTPTimeout,
			RateLimit:  cfg.Binance.RateLimit,
		}, logger.Component(log, "futures_client")),
	}
}

func timeframes(cfg *config.Config) []indicators.Timeframe {
	out := make([]indicators.Timeframe, 0, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		out = append(out, indicators.Timeframe{Label: tf.Label, Interval: tf.Interval, Limit: tf.Limit})
	}
	return out
}

// lastPrice prefers the streamed price and falls back to the ticker.
type lastPrice struct {
	stream interface{ Price() (float64, int64) }
	rest   *futures_usdt.Client
	symbol string
}

func (p lastPrice) CurrentPrice(ctx context.Context) (float64, error) {
	if p.stream != nil {
		if px, _ := p.stream.Price(); px > 0 {
			return px, nil
		}
	}
	return p.rest.GetPrice(ctx, p.symbol)
}

// wallet is the account view and trader pair for the configured mode.
type wallet struct {
	accounts engine.AccountSource
	trader   order.Trader
	venue    string
}

func newWallet(cfg *config.Config, cl clients, prices order.PriceSource, bus *events.Bus, metrics *monitor.Metrics, log zerolog.Logger) (wallet, error) {
	if cfg.Execution.DryRun {
		paper := order.NewPaperExecutor(cfg.Symbol, prices, order.PaperConfig{
			InitialBalance: cfg.Execution.InitialBalance,
			FeeRate:        cfg.Execution.FeeRate,
			SlippageBps:    cfg.Execution.SlippageBps,
		}, bus, log)
		return wallet{accounts: paper, trader: paper, venue: "paper"}, nil
	}

	if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
		return wallet{}, errors.New("live trading needs BINANCE_API_KEY and BINANCE_API_SECRET (or set execution.dry_run)")
	}
	svc := balance.NewService(cl.futures, cfg.Symbol, logger.Component(log, "balance"))
	exec := order.NewExecutor(cl.futures, svc, bus, cfg.Symbol, cfg.Execution.MaxAttempts, log)
	exec.Observer = metrics
	venue := "binance-usdtfut"
	if cfg.Binance.Testnet {
		venue += "-testnet"
	}
	return wallet{accounts: svc, trader: exec, venue: venue}, nil
}

func newDecider(cfg *config.Config, log zerolog.Logger) (decision.Client, error) {
	switch cfg.Decision.Transport {
	case "grpc":
		c, err := decision.NewGRPCClient(cfg.Decision.GRPCAddr, log)
		if err != nil {
			return nil, fmt.Errorf("decision grpc client: %w", err)
		}
		return c, nil
	default:
		return decision.NewHTTPClient(decision.HTTPConfig{
			Endpoint:   cfg.Decision.Endpoint,
			Timeout:    cfg.Decision.Timeout,
			MaxRetries: cfg.Decision.MaxRetries,
		}, log), nil
	}
}
