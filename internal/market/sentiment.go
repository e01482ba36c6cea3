package market

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	binance "signal-core/pkg/market/binance"
)

// SentimentSource is the public futures REST surface used for sentiment.
type SentimentSource interface {
	PremiumIndex(ctx context.Context, symbol string) (binance.PremiumIndex, error)
	OpenInterest(ctx context.Context, symbol string) (binance.OpenInterest, error)
	TopLongShortAccountRatio(ctx context.Context, symbol, period string) (binance.LongShortRatio, error)
	Depth(ctx context.Context, symbol string, limit int) (binance.OrderBook, error)
}

type FundingInfo struct {
	FundingRate     float64 `json:"funding_rate"` // percent
	MarkPrice       float64 `json:"mark_price"`
	IndexPrice      float64 `json:"index_price"`
	NextFundingTime int64   `json:"next_funding_time"`
}

type OpenInterestInfo struct {
	OpenInterest float64 `json:"open_interest"`
}

type LongShortInfo struct {
	LongAccountPct  float64 `json:"long_account_pct"`
	ShortAccountPct float64 `json:"short_account_pct"`
	LongShortRatio  float64 `json:"long_short_ratio"`
}

// Sentiment is the market context block of a decision request.
type Sentiment struct {
	FundingRate    FundingInfo       `json:"funding_rate"`
	OpenInterest   OpenInterestInfo  `json:"open_interest"`
	LongShortRatio LongShortInfo     `json:"long_short_ratio"`
	OrderBook      OrderBookSnapshot `json:"order_book"`
	RealtimeFlow   *FlowStats        `json:"realtime_flow,omitempty"`
}

// DefaultSentiment is what every block degrades to.
func DefaultSentiment() Sentiment {
	return Sentiment{
		LongShortRatio: LongShortInfo{LongAccountPct: 50, ShortAccountPct: 50, LongShortRatio: 1},
		OrderBook:      EmptyBook(),
	}
}

// SentimentService fetches funding, open interest, account long/short
// ratio and REST depth.
type SentimentService struct {
	src    SentimentSource
	symbol string
	period string
	depth  int
	log    zerolog.Logger
}

func NewSentimentService(src SentimentSource, symbol string, log zerolog.Logger) *SentimentService {
	return &SentimentService{
		src:    src,
		symbol: symbol,
		period: "5m",
		depth:  20,
		log:    log.With().Str("component", "sentiment").Logger(),
	}
}

// Fetch queries the four endpoints concurrently. A failing endpoint leaves
// its block at the default; Fetch itself never fails.
func (s *SentimentService) Fetch(ctx context.Context) Sentiment {
	out := DefaultSentiment()
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		pi, err := s.src.PremiumIndex(ctx, s.symbol)
		if err != nil {
			s.log.Warn().Err(err).Msg("funding rate unavailable")
			return
		}
		out.FundingRate = FundingInfo{
			FundingRate:     round(pi.LastFundingRate*100, 4),
			MarkPrice:       pi.MarkPrice,
			IndexPrice:      pi.IndexPrice,
			NextFundingTime: pi.NextFundingTime,
		}
	}()

	go func() {
		defer wg.Done()
		oi, err := s.src.OpenInterest(ctx, s.symbol)
		if err != nil {
			s.log.Warn().Err(err).Msg("open interest unavailable")
			return
		}
		out.OpenInterest = OpenInterestInfo{OpenInterest: round(oi.OpenInterest, 2)}
	}()

	go func() {
		defer wg.Done()
		ls, err := s.src.TopLongShortAccountRatio(ctx, s.symbol, s.period)
		if err != nil {
			s.log.Warn().Err(err).Msg("long/short ratio unavailable")
			return
		}
		out.LongShortRatio = LongShortInfo{
			LongAccountPct:  round(ls.LongAccount*100, 1),
			ShortAccountPct: round(ls.ShortAccount*100, 1),
			LongShortRatio:  round(ls.LongShortRatio, 3),
		}
	}()

	go func() {
		defer wg.Done()
		ob, err := s.src.Depth(ctx, s.symbol, s.depth)
		if err != nil {
			s.log.Warn().Err(err).Msg("order book unavailable")
			return
		}
		out.OrderBook = SummarizeBook(ob.Bids, ob.Asks).Rounded()
	}()

	wg.Wait()
	return out
}

// WithLive overlays the streamed book (when it has bids) and the live
// trade flow onto a REST sentiment block.
func (s Sentiment) WithLive(book OrderBookSnapshot, flow FlowStats) Sentiment {
	if book.BidVolume > 0 {
		s.OrderBook = book.Rounded()
	}
	f := flow.Rounded()
	s.RealtimeFlow = &f
	return s
}
