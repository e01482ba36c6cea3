package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/pkg/exchanges/binance/futures_usdt"
)

type fakeExchange struct {
	info   *futures_usdt.FuturesAccountInfo
	trades []futures_usdt.UserTrade
	price  float64
	err    error
}

func (f *fakeExchange) GetAccountInfo(context.Context) (*futures_usdt.FuturesAccountInfo, error) {
	return f.info, f.err
}

func (f *fakeExchange) GetUserTrades(context.Context, string, int) ([]futures_usdt.UserTrade, error) {
	return f.trades, f.err
}

func (f *fakeExchange) GetPrice(context.Context, string) (float64, error) {
	return f.price, f.err
}

func TestAccountKeepsNonZeroPositions(t *testing.T) {
	ex := &fakeExchange{info: &futures_usdt.FuturesAccountInfo{
		Assets: []futures_usdt.AccountAsset{
			{Asset: "BNB", WalletBalance: "3"},
			{Asset: "USDT", WalletBalance: "1000.5"},
		},
		Positions: []futures_usdt.AccountPosition{
			{Symbol: "BTCUSDT", PositionAmt: "-0.010", EntryPrice: "60000", UnrealizedProfit: "-4.5", Leverage: "10"},
			{Symbol: "ETHUSDT", PositionAmt: "0.000", EntryPrice: "0", UnrealizedProfit: "0", Leverage: "20"},
			{Symbol: "SOLUSDT", PositionAmt: "2", EntryPrice: "150", UnrealizedProfit: "1.5", Leverage: "5"},
		},
	}}
	svc := NewService(ex, "BTCUSDT", zerolog.Nop())

	acct, err := svc.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.5, acct.Balance)
	require.Len(t, acct.Positions, 2)
	assert.Equal(t, SideShort, acct.Positions[0].Side)
	assert.Equal(t, 0.01, acct.Positions[0].Size)
	assert.Equal(t, 10, acct.Positions[0].Leverage)
	assert.InDelta(t, -3.0, acct.UnrealizedPnL, 1e-9)

	p, ok := acct.Position("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, SideLong, p.Side)

	cached, at := svc.Cached()
	assert.Equal(t, acct, cached)
	assert.False(t, at.IsZero())
}

func TestRecentTradesAndPrice(t *testing.T) {
	ex := &fakeExchange{
		trades: []futures_usdt.UserTrade{{Time: 5, Side: "SELL", Price: "61000", Qty: "0.01", RealizedPnl: "10", Commission: "0.24"}},
		price:  61000.1,
	}
	svc := NewService(ex, "BTCUSDT", zerolog.Nop())

	trades, err := svc.RecentTrades(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 10.0, trades[0].RealizedPnL)

	price, err := svc.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 61000.1, price)
}

func TestAccountErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&fakeExchange{err: boom}, "BTCUSDT", zerolog.Nop())
	_, err := svc.Account(context.Background())
	assert.ErrorIs(t, err, boom)
}
