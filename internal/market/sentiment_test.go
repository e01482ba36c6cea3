package market

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	binance "signal-core/pkg/market/binance"
)

type fakeSentimentSource struct {
	failFunding, failOI, failLS, failDepth bool
}

var errDown = errors.New("endpoint down")

func (f fakeSentimentSource) PremiumIndex(context.Context, string) (binance.PremiumIndex, error) {
	if f.failFunding {
		return binance.PremiumIndex{}, errDown
	}
	return binance.PremiumIndex{MarkPrice: 60000, IndexPrice: 59990, LastFundingRate: 0.000123456, NextFundingTime: 42}, nil
}

func (f fakeSentimentSource) OpenInterest(context.Context, string) (binance.OpenInterest, error) {
	if f.failOI {
		return binance.OpenInterest{}, errDown
	}
	return binance.OpenInterest{OpenInterest: 1234.567}, nil
}

func (f fakeSentimentSource) TopLongShortAccountRatio(context.Context, string, string) (binance.LongShortRatio, error) {
	if f.failLS {
		return binance.LongShortRatio{}, binance.ErrNoData
	}
	return binance.LongShortRatio{LongAccount: 0.6123, ShortAccount: 0.3877, LongShortRatio: 1.57931}, nil
}

func (f fakeSentimentSource) Depth(context.Context, string, int) (binance.OrderBook, error) {
	if f.failDepth {
		return binance.OrderBook{}, errDown
	}
	return binance.OrderBook{
		Bids: [][2]float64{{100, 1}, {99, 5}, {98, 2}},
		Asks: [][2]float64{{101, 1}, {102, 1}},
	}, nil
}

func TestSentimentFetch(t *testing.T) {
	s := NewSentimentService(fakeSentimentSource{}, "BTCUSDT", zerolog.Nop()).Fetch(context.Background())

	assert.Equal(t, 0.0123, s.FundingRate.FundingRate)
	assert.Equal(t, int64(42), s.FundingRate.NextFundingTime)
	assert.Equal(t, 1234.57, s.OpenInterest.OpenInterest)
	assert.Equal(t, 61.2, s.LongShortRatio.LongAccountPct)
	assert.Equal(t, 1.579, s.LongShortRatio.LongShortRatio)
	assert.Equal(t, Level{Price: 99, Size: 5}, s.OrderBook.StrongestBid)
	assert.Equal(t, Level{Price: 101, Size: 1}, s.OrderBook.StrongestAsk)
	assert.Equal(t, PressureBuy, s.OrderBook.Pressure)
	assert.Nil(t, s.RealtimeFlow)
}

func TestSentimentDegradesPerEndpoint(t *testing.T) {
	src := fakeSentimentSource{failFunding: true, failLS: true, failDepth: true}
	s := NewSentimentService(src, "BTCUSDT", zerolog.Nop()).Fetch(context.Background())

	def := DefaultSentiment()
	assert.Equal(t, def.FundingRate, s.FundingRate)
	assert.Equal(t, def.LongShortRatio, s.LongShortRatio)
	assert.Equal(t, def.OrderBook, s.OrderBook)
	assert.Equal(t, 1234.57, s.OpenInterest.OpenInterest)
}

func TestSentimentWithLive(t *testing.T) {
	rest := DefaultSentiment()
	rest.OrderBook = SummarizeBook([][2]float64{{1, 1}}, [][2]float64{{2, 1}})

	empty := rest.WithLive(EmptyBook(), FlowStats{Flow: PressureNeutral, BuyPercent: 50})
	assert.Equal(t, rest.OrderBook, empty.OrderBook, "empty live book keeps the REST book")
	if assert.NotNil(t, empty.RealtimeFlow) {
		assert.Equal(t, 50.0, empty.RealtimeFlow.BuyPercent)
	}

	live := SummarizeBook([][2]float64{{100, 3}}, [][2]float64{{101, 1}})
	got := rest.WithLive(live, FlowStats{})
	assert.Equal(t, PressureBuy, got.OrderBook.Pressure)
	assert.Equal(t, 50.0, got.OrderBook.ImbalancePct)
}

func TestSummarizeBookEmpty(t *testing.T) {
	ob := SummarizeBook(nil, nil)
	assert.Equal(t, EmptyBook(), ob)
}
