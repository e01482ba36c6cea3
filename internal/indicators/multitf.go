package indicators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// CandleSource supplies ordered candle history for an interval.
type CandleSource interface {
	Candles(ctx context.Context, interval string, limit int) ([]Candle, error)
}

// Timeframe is one row of the multi-timeframe view.
type Timeframe struct {
	Label    string
	Interval string
	Limit    int
}

// DefaultTimeframes is 1m through 4h with their history lengths.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Label: "1m", Interval: "1m", Limit: 60},
		{Label: "5m", Interval: "5m", Limit: 100},
		{Label: "15m", Interval: "15m", Limit: 60},
		{Label: "1h", Interval: "1h", Limit: 50},
		{Label: "4h", Interval: "4h", Limit: 50},
	}
}

// Summary is the compact per-timeframe view handed to the decision maker.
type Summary struct {
	Close        float64      `json:"close"`
	EMA9         float64      `json:"ema9"`
	EMA20        float64      `json:"ema20"`
	EMA50        float64      `json:"ema50"`
	RSI14        *float64     `json:"rsi14"`
	ATR14        float64      `json:"atr14"`
	MACDHist     float64      `json:"macd_hist"`
	MACDHistPrev float64      `json:"macd_hist_prev"`
	StochRSIK    *float64     `json:"stoch_rsi_k"`
	BBPosition   BandPosition `json:"bb_position"`
	BBWidth      *float64     `json:"bb_width"`
	VolRatio     *float64     `json:"vol_ratio"`
	BuyVolPct    *float64     `json:"buy_vol_pct"`
	Trend        Trend        `json:"trend"`
	MACDCross    Cross        `json:"macd_cross"`
	Momentum     Momentum     `json:"momentum"`
	Last5Green   int          `json:"last5_green"`
	Last5AvgBody float64      `json:"last5_avg_body"`
}

// Summarize builds a Summary from candles.
func Summarize(candles []Candle) Summary {
	s := Compute(candles).Rounded()
	sum := Summary{
		Close:        s.Close,
		EMA9:         s.EMA9,
		EMA20:        s.EMA20,
		EMA50:        s.EMA50,
		RSI14:        s.RSI14,
		ATR14:        s.ATR14,
		MACDHist:     s.MACDHist,
		MACDHistPrev: s.MACDHistPrev,
		StochRSIK:    s.StochRSIK,
		BBPosition:   s.BBPosition,
		BBWidth:      s.BBWidth,
		VolRatio:     s.VolRatio,
		BuyVolPct:    s.BuyVolPct,
		Trend:        s.Trend,
		MACDCross:    s.MACDCross,
		Momentum:     s.Momentum,
	}
	tail := candles[max(0, len(candles)-5):]
	body := 0.0
	for _, c := range tail {
		if c.Close > c.Open {
			sum.Last5Green++
		}
		body += math.Abs(c.Close - c.Open)
	}
	if len(tail) > 0 {
		sum.Last5AvgBody = round(body/float64(len(tail)), 2)
	}
	return sum
}

// TimeframeResult holds either a Summary or the error that prevented it.
type TimeframeResult struct {
	Label   string
	Summary *Summary
	Err     string
}

func (r TimeframeResult) MarshalJSON() ([]byte, error) {
	if r.Summary == nil {
		return json.Marshal(map[string]string{"error": r.Err})
	}
	return json.Marshal(r.Summary)
}

// MultiTimeframe keeps one result per configured label, in order.
type MultiTimeframe struct {
	Results []TimeframeResult
}

// Get returns the result for label.
func (m MultiTimeframe) Get(label string) (TimeframeResult, bool) {
	for _, r := range m.Results {
		if r.Label == label {
			return r, true
		}
	}
	return TimeframeResult{}, false
}

// MarshalJSON encodes an object keyed by label, preserving order.
func (m MultiTimeframe) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range m.Results {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(r.Label)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Aggregator runs the indicator suite across timeframes.
type Aggregator struct {
	src     CandleSource
	frames  []Timeframe
	timeout time.Duration
	log     zerolog.Logger
}

// NewAggregator builds an aggregator. Each timeframe's fetch gets its own
// timeout; zero leaves the caller's deadline as the only bound.
func NewAggregator(src CandleSource, frames []Timeframe, timeout time.Duration, log zerolog.Logger) *Aggregator {
	if len(frames) == 0 {
		frames = DefaultTimeframes()
	}
	return &Aggregator{src: src, frames: frames, timeout: timeout, log: log}
}

// Run fetches and summarizes every timeframe. A failure in one timeframe
// becomes that label's error marker; Run itself never fails.
func (a *Aggregator) Run(ctx context.Context) MultiTimeframe {
	out := MultiTimeframe{Results: make([]TimeframeResult, 0, len(a.frames))}
	for _, tf := range a.frames {
		res := a.runOne(ctx, tf)
		if res.Summary == nil {
			a.log.Warn().Str("timeframe", tf.Label).Str("error", res.Err).Msg("timeframe unavailable")
		}
		out.Results = append(out.Results, res)
	}
	return out
}

func (a *Aggregator) runOne(ctx context.Context, tf Timeframe) (res TimeframeResult) {
	res.Label = tf.Label
	defer func() {
		if r := recover(); r != nil {
			res.Summary = nil
			res.Err = fmt.Sprintf("panic: %v", r)
		}
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	candles, err := a.src.Candles(ctx, tf.Interval, tf.Limit)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	if len(candles) == 0 {
		res.Err = "no candles"
		return res
	}
	s := Summarize(candles)
	res.Summary = &s
	return res
}
