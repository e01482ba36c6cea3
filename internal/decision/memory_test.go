package decision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/balance"
	"signal-core/internal/indicators"
)

func TestMemoryCapacity(t *testing.T) {
	m := NewMemory(3)
	for i := 0; i < 5; i++ {
		m.Record(Decision{Action: ActionHold, Confidence: float64(i)}, Outcome{})
	}
	entries := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, 2.0, entries[0].Confidence)
	assert.Equal(t, 4.0, entries[2].Confidence)
}

func TestSummaryEmpty(t *testing.T) {
	m := NewMemory(0)
	m.Record(Decision{Action: ActionHold}, Outcome{})

	raw, err := json.Marshal(m.Summary())
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_trades":0}`, string(raw))
}

func TestSummaryStats(t *testing.T) {
	m := NewMemory(0)
	m.Record(Decision{Action: ActionBuy, Confidence: 0.8}, Outcome{PnL: Float(30), Fees: Float(1)})
	m.Record(Decision{Action: ActionHold}, Outcome{})
	m.Record(Decision{Action: ActionSell, Confidence: 0.6}, Outcome{PnL: Float(-10), Fees: Float(0.5)})
	m.Record(Decision{Action: ActionBuy, Confidence: 0.55}, Outcome{PnL: Float(0)})

	s := m.Summary()
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 2, s.Losses, "zero pnl counts as a loss")
	assert.Equal(t, 33.3, s.WinRate)
	assert.Equal(t, 20.0, s.TotalPnL)
	assert.Equal(t, 1.5, s.TotalFeesPaid)
	assert.Equal(t, 30.0, s.AvgWin)
	assert.Equal(t, -5.0, s.AvgLoss)
	assert.Equal(t, -2, s.CurrentStreak)
	assert.Equal(t, []string{"SELL (confidence=0.6, pnl=-10.0)", "BUY (confidence=0.55, pnl=0.0)"}, s.RecentLosingTrades)
	assert.NotEmpty(t, s.Lesson)
}

func TestStreakEndsAtFirstWin(t *testing.T) {
	m := NewMemory(0)
	m.Record(Decision{Action: ActionBuy}, Outcome{PnL: Float(-1)})
	m.Record(Decision{Action: ActionBuy}, Outcome{PnL: Float(5)})
	m.Record(Decision{Action: ActionBuy}, Outcome{PnL: Float(7)})
	assert.Equal(t, 1, m.Summary().CurrentStreak)
}

func TestPayloadJSON(t *testing.T) {
	candles := []indicators.Candle{
		{OpenTime: 0, Open: 100.123, High: 101.456, Low: 99.001, Close: 100.556, Volume: 1.234567},
	}
	acct := balance.Account{Balance: 1000}
	p := NewPayload("BTCUSDT", "5m", acct, nil, candles, indicators.Compute(candles))

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []any{"1970-01-01 00:00:00", 100.12, 101.46, 99.0, 100.56, 1.2346}, got["candles"].([]any)[0])
	assert.Equal(t, 100.56, got["current_price"])
	assert.Equal(t, []any{}, got["open_positions"])
	assert.NotContains(t, got, "your_trade_history")
	assert.NotContains(t, got, "market_sentiment")

	m := NewMemory(0)
	m.Record(Decision{Action: ActionHold}, Outcome{})
	p.AttachMemory(m)
	raw, err = json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"performance_summary":{"total_trades":0}`)
}

func TestQuickCheckPayload(t *testing.T) {
	q := NewQuickCheckPayload(balance.Position{Symbol: "BTCUSDT", Side: balance.SideLong}, indicators.Snapshot{}, indicators.Snapshot{}, nil)
	raw, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mode":"quick_check"`)
	assert.NotContains(t, string(raw), "performance_summary")
}
