package indicators

import "math"

// Candle is one OHLCV bar. TakerBuyVolume is the taker-buy base volume.
type Candle struct {
	OpenTime       int64   `json:"open_time"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	TakerBuyVolume float64 `json:"taker_buy_volume"`
	Closed         bool    `json:"closed"`
}

type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendMixed   Trend = "MIXED"
)

type VWAPPosition string

const (
	PriceAbove VWAPPosition = "ABOVE"
	PriceBelow VWAPPosition = "BELOW"
)

type BandPosition string

const (
	BandUpper  BandPosition = "UPPER"
	BandLower  BandPosition = "LOWER"
	BandMiddle BandPosition = "MIDDLE"
)

type Cross string

const (
	CrossBullish Cross = "BULLISH"
	CrossBearish Cross = "BEARISH"
	CrossNone    Cross = "NONE"
)

type Momentum string

const (
	MomentumStrong Momentum = "STRONG"
	MomentumWeak   Momentum = "WEAK"
)

// Snapshot is the indicator suite evaluated at the last candle.
// Pointer fields are nil until their lookback is satisfied.
type Snapshot struct {
	Close        float64  `json:"close"`
	EMA9         float64  `json:"ema9"`
	EMA20        float64  `json:"ema20"`
	EMA50        float64  `json:"ema50"`
	RSI14        *float64 `json:"rsi14"`
	StochRSIK    *float64 `json:"stoch_rsi_k"`
	StochRSID    *float64 `json:"stoch_rsi_d"`
	ATR14        float64  `json:"atr14"`
	VWAP         *float64 `json:"vwap"`
	BBUpper      *float64 `json:"bb_upper"`
	BBMiddle     *float64 `json:"bb_middle"`
	BBLower      *float64 `json:"bb_lower"`
	BBWidth      *float64 `json:"bb_width"`
	MACD         float64  `json:"macd"`
	MACDSignal   float64  `json:"macd_signal"`
	MACDHist     float64  `json:"macd_hist"`
	MACDHistPrev float64  `json:"macd_hist_prev"`
	VolRatio     *float64 `json:"vol_ratio"`
	BuyVolPct    *float64 `json:"buy_vol_pct"`

	Trend       Trend        `json:"trend"`
	PriceVsVWAP VWAPPosition `json:"price_vs_vwap"`
	BBPosition  BandPosition `json:"bb_position"`
	MACDCross   Cross        `json:"macd_cross"`
	Momentum    Momentum     `json:"momentum"`
}

// Rounded returns a copy with values rounded for display and payloads.
func (s Snapshot) Rounded() Snapshot {
	r := s
	r.Close = round(s.Close, 2)
	r.EMA9, r.EMA20, r.EMA50 = round(s.EMA9, 2), round(s.EMA20, 2), round(s.EMA50, 2)
	r.RSI14 = roundPtr(s.RSI14, 2)
	r.StochRSIK, r.StochRSID = roundPtr(s.StochRSIK, 2), roundPtr(s.StochRSID, 2)
	r.ATR14 = round(s.ATR14, 2)
	r.VWAP = roundPtr(s.VWAP, 2)
	r.BBUpper, r.BBMiddle, r.BBLower = roundPtr(s.BBUpper, 2), roundPtr(s.BBMiddle, 2), roundPtr(s.BBLower, 2)
	r.BBWidth = roundPtr(s.BBWidth, 4)
	r.MACD, r.MACDSignal = round(s.MACD, 2), round(s.MACDSignal, 2)
	r.MACDHist, r.MACDHistPrev = round(s.MACDHist, 2), round(s.MACDHistPrev, 2)
	r.VolRatio = roundPtr(s.VolRatio, 2)
	r.BuyVolPct = roundPtr(s.BuyVolPct, 1)
	return r
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, places)
	return &r
}

// ptr returns nil for NaN and infinities.
func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
