package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	market "signal-core/pkg/market/binance"
)

type fakeKlines struct {
	klines []market.Kline
	err    error
	got    [3]any
}

func (f *fakeKlines) GetKlines(_ context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	f.got = [3]any{symbol, interval, limit}
	return f.klines, f.err
}

func TestCandlesMapsKlines(t *testing.T) {
	src := &fakeKlines{klines: []market.Kline{
		{OpenTime: 0, CloseTime: 299_999, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, TakerBuyBaseVolume: 4},
		{OpenTime: 300_000, CloseTime: 599_999, Open: 1.5, High: 1.6, Low: 1.4, Close: 1.55, Volume: 3, TakerBuyBaseVolume: 1},
	}}
	svc := NewCandleService(src, "BTCUSDT")
	svc.now = func() time.Time { return time.UnixMilli(400_000) }

	candles, err := svc.Candles(context.Background(), "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, [3]any{"BTCUSDT", "5m", 2}, src.got)
	assert.Equal(t, 4.0, candles[0].TakerBuyVolume)
	assert.True(t, candles[0].Closed)
	assert.False(t, candles[1].Closed, "forming candle")
}

func TestCandlesWrapsError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewCandleService(&fakeKlines{err: boom}, "ETHUSDT").Candles(context.Background(), "1h", 50)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "ETHUSDT 1h")
}
