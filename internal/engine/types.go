package engine

import (
	"context"
	"time"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/journal"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/risk"
)

// Feed is the live market view the loop waits on.
type Feed interface {
	Closes() <-chan string
	IsCandleClosed(interval string) bool
	AckCandleClose(interval string)
	Book() market.OrderBookSnapshot
	Flow(window time.Duration) market.FlowStats
	Snapshot() market.FeedSnapshot
}

type Aggregator interface {
	Run(ctx context.Context) indicators.MultiTimeframe
}

type SentimentSource interface {
	Fetch(ctx context.Context) market.Sentiment
}

// AccountSource is the live or simulated wallet.
type AccountSource interface {
	Account(ctx context.Context) (balance.Account, error)
	RecentTrades(ctx context.Context, limit int) ([]balance.Trade, error)
	CurrentPrice(ctx context.Context) (float64, error)
}

type Journal interface {
	Log(ctx context.Context, e journal.Entry) error
}

// Publisher fans a finished cycle out to external readers.
type Publisher interface {
	PublishCycle(ctx context.Context, cycleID string, report any) error
}

// protector is implemented by traders that simulate exchange-side stops.
type protector interface {
	CheckProtection(ctx context.Context) (*order.CloseResult, error)
}

// Deps wires the engine. Sentiment, Journal, Metrics, Bus and Publisher
// are optional.
type Deps struct {
	Feed       Feed
	Aggregator Aggregator
	Candles    indicators.CandleSource
	Sentiment  SentimentSource
	Accounts   AccountSource
	Decider    decision.Client
	Gate       *risk.Gate
	Trader     order.Trader
	Journal    Journal
	Memory     *decision.Memory
	Metrics    *monitor.Metrics
	Bus        *events.Bus
	Publisher  Publisher
}

type Config struct {
	Symbol           string
	BaseInterval     string
	QuickInterval    string
	CandleLimit      int
	RecentTrades     int
	QuickCheck       bool
	FlowWindow       time.Duration
	Heartbeat        time.Duration
	ErrorDelay       time.Duration
	FetchTimeout     time.Duration
	DecisionTimeout  time.Duration
	ExecutionTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Symbol == "" {
		c.Symbol = "BTCUSDT"
	}
	if c.BaseInterval == "" {
		c.BaseInterval = "5m"
	}
	if c.QuickInterval == "" {
		c.QuickInterval = "1m"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 200
	}
	if c.RecentTrades <= 0 {
		c.RecentTrades = 5
	}
	if c.FlowWindow <= 0 {
		c.FlowWindow = market.DefaultFlowWindow
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = 10 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 5 * time.Minute
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30 * time.Second
	}
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeNoDecision Outcome = "no_decision"
	OutcomeRejected   Outcome = "rejected"
	OutcomeHold       Outcome = "hold"
	OutcomeClosed     Outcome = "closed"
	OutcomeNoPosition Outcome = "no_position"
	OutcomeOpened     Outcome = "opened"
	OutcomeAddSkipped Outcome = "add_skipped"
	OutcomeError      Outcome = "error"
)

// CycleReport is what one cycle saw and did. The last one is served by the
// control API and published to redis.
type CycleReport struct {
	ID         string                     `json:"id"`
	Kind       string                     `json:"kind"` // full or quick_check
	Started    time.Time                  `json:"started"`
	DurationMS int64                      `json:"duration_ms"`
	Outcome    Outcome                    `json:"outcome"`
	Balance    float64                    `json:"balance"`
	Price      float64                    `json:"price,omitempty"`
	Indicators *indicators.Snapshot       `json:"indicators,omitempty"`
	Timeframes *indicators.MultiTimeframe `json:"timeframes,omitempty"`
	Sentiment  *market.Sentiment          `json:"market_sentiment,omitempty"`
	Decision   *decision.Decision         `json:"decision,omitempty"`
	Verdict    *risk.Verdict              `json:"verdict,omitempty"`
	Opened     *order.OpenResult          `json:"opened,omitempty"`
	Closed     *order.CloseResult         `json:"closed,omitempty"`
	PnL        *float64                   `json:"pnl,omitempty"`
	Error      string                     `json:"error,omitempty"`
}
