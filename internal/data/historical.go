package data

import (
	"context"
	"fmt"
	"time"

	"signal-core/internal/indicators"
	market "signal-core/pkg/market/binance"
)

// KlineSource is the public kline endpoint.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// CandleService fetches historical candles for one symbol.
type CandleService struct {
	client KlineSource
	symbol string
	now    func() time.Time
}

var _ indicators.CandleSource = (*CandleService)(nil)

// NewCandleService creates a new service instance.
func NewCandleService(client KlineSource, symbol string) *CandleService {
	return &CandleService{client: client, symbol: symbol, now: time.Now}
}

// Candles fetches the latest limit candles for interval, oldest first. The
// last one is usually still forming.
func (s *CandleService) Candles(ctx context.Context, interval string, limit int) ([]indicators.Candle, error) {
	klines, err := s.client.GetKlines(ctx, s.symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", s.symbol, interval, err)
	}

	nowMS := s.now().UnixMilli()
	candles := make([]indicators.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, indicators.Candle{
			OpenTime:       k.OpenTime,
			Open:           k.Open,
			High:           k.High,
			Low:            k.Low,
			Close:          k.Close,
			Volume:         k.Volume,
			TakerBuyVolume: k.TakerBuyBaseVolume,
			Closed:         k.CloseTime > 0 && k.CloseTime < nowMS,
		})
	}
	return candles, nil
}

// Symbol returns the symbol the service reads.
func (s *CandleService) Symbol() string { return s.symbol }
