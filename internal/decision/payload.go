package decision

import (
	"encoding/json"
	"time"

	"signal-core/internal/balance"
	"signal-core/internal/indicators"
	"signal-core/internal/market"
)

// CompactCandle encodes as [open_time, open, high, low, close, volume].
type CompactCandle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

func (c CompactCandle) MarshalJSON() ([]byte, error) {
	ts := time.UnixMilli(c.OpenTime).UTC().Format("2006-01-02 15:04:05")
	return json.Marshal([]any{ts, c.Open, c.High, c.Low, c.Close, c.Volume})
}

// CompactCandles rounds prices to 2 and volume to 4 places.
func CompactCandles(candles []indicators.Candle) []CompactCandle {
	out := make([]CompactCandle, len(candles))
	for i, c := range candles {
		out[i] = CompactCandle{
			OpenTime: c.OpenTime,
			Open:     round(c.Open, 2),
			High:     round(c.High, 2),
			Low:      round(c.Low, 2),
			Close:    round(c.Close, 2),
			Volume:   round(c.Volume, 4),
		}
	}
	return out
}

// Payload is the full-cycle request sent to the decision maker.
type Payload struct {
	Symbol             string                     `json:"symbol"`
	Timeframe          string                     `json:"timeframe"`
	Balance            float64                    `json:"balance"`
	OpenPositions      []balance.Position         `json:"open_positions"`
	UnrealizedPnL      float64                    `json:"unrealized_pnl"`
	RecentTrades       []balance.Trade            `json:"recent_trades"`
	CurrentPrice       float64                    `json:"current_price"`
	Candles            []CompactCandle            `json:"candles"`
	Indicators         indicators.Snapshot        `json:"indicators"`
	MarketSentiment    *market.Sentiment          `json:"market_sentiment,omitempty"`
	Timeframes         *indicators.MultiTimeframe `json:"timeframes,omitempty"`
	YourTradeHistory   []MemoryEntry              `json:"your_trade_history,omitempty"`
	PerformanceSummary *PerformanceSummary        `json:"performance_summary,omitempty"`
}

// NewPayload assembles the mandatory part of a request. The current price
// is the last candle close.
func NewPayload(symbol, timeframe string, acct balance.Account, trades []balance.Trade, candles []indicators.Candle, snap indicators.Snapshot) Payload {
	p := Payload{
		Symbol:        symbol,
		Timeframe:     timeframe,
		Balance:       acct.Balance,
		OpenPositions: acct.Positions,
		UnrealizedPnL: acct.UnrealizedPnL,
		RecentTrades:  trades,
		Candles:       CompactCandles(candles),
		Indicators:    snap.Rounded(),
	}
	if p.OpenPositions == nil {
		p.OpenPositions = []balance.Position{}
	}
	if p.RecentTrades == nil {
		p.RecentTrades = []balance.Trade{}
	}
	if n := len(candles); n > 0 {
		p.CurrentPrice = round(candles[n-1].Close, 2)
	}
	return p
}

// AttachMemory adds the trade history and performance summary when the
// memory is not empty.
func (p *Payload) AttachMemory(m *Memory) {
	if m == nil || m.Len() == 0 {
		return
	}
	p.YourTradeHistory = m.Entries()
	s := m.Summary()
	p.PerformanceSummary = &s
}

// QuickCheckPayload asks whether an open position should be closed early.
type QuickCheckPayload struct {
	Mode               string              `json:"mode"`
	OpenPosition       balance.Position    `json:"open_position"`
	Indicators1m       indicators.Snapshot `json:"indicators_1m"`
	Indicators5m       indicators.Snapshot `json:"indicators_5m"`
	PerformanceSummary *PerformanceSummary `json:"performance_summary,omitempty"`
}

func NewQuickCheckPayload(pos balance.Position, fast, base indicators.Snapshot, m *Memory) QuickCheckPayload {
	q := QuickCheckPayload{
		Mode:         "quick_check",
		OpenPosition: pos,
		Indicators1m: fast.Rounded(),
		Indicators5m: base.Rounded(),
	}
	if m != nil && m.Len() > 0 {
		s := m.Summary()
		q.PerformanceSummary = &s
	}
	return q
}
