package market

// Kline represents a single candlestick with all official Binance fields.
type Kline struct {
	Symbol              string  // trading pair symbol
	Interval            string  // stream only
	OpenTime            int64   // 0: Open time (ms)
	Open                float64 // 1: Open price
	High                float64 // 2: High price
	Low                 float64 // 3: Low price
	Close               float64 // 4: Close price
	Volume              float64 // 5: Base asset volume
	CloseTime           int64   // 6: Close time (ms)
	QuoteVolume         float64 // 7: Quote asset volume
	NumberOfTrades      int     // 8: Number of trades
	TakerBuyBaseVolume  float64 // 9: Taker buy base asset volume
	TakerBuyQuoteVolume float64 // 10: Taker buy quote asset volume
	Closed              bool    // stream "x": candle is final
}

// Trade is one aggregated trade print.
type Trade struct {
	Symbol       string
	Price        float64
	Qty          float64
	Time         int64
	IsBuyerMaker bool
}

// IsBuy reports whether the aggressor was the buyer.
func (t Trade) IsBuy() bool { return !t.IsBuyerMaker }

// DepthUpdate is a partial book snapshot; every message replaces the book.
type DepthUpdate struct {
	Symbol string
	Bids   [][2]float64 // [price, qty], best first
	Asks   [][2]float64 // [price, qty], best first
	Time   int64
}

// PremiumIndex carries funding and mark/index prices.
type PremiumIndex struct {
	Symbol          string
	MarkPrice       float64
	IndexPrice      float64
	LastFundingRate float64
	NextFundingTime int64
}

// OpenInterest is the current open interest in contracts.
type OpenInterest struct {
	Symbol       string
	OpenInterest float64
	Time         int64
}

// LongShortRatio is one point of topLongShortAccountRatio.
type LongShortRatio struct {
	Symbol         string
	LongAccount    float64 // fraction, 0..1
	ShortAccount   float64
	LongShortRatio float64
	Timestamp      int64
}

// OrderBook is a REST depth snapshot.
type OrderBook struct {
	LastUpdateID int64
	Bids         [][2]float64
	Asks         [][2]float64
}
