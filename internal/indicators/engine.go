package indicators

import "math"

const (
	rsiPeriod     = 14
	stochWindow   = 14
	stochSmoothK  = 3
	stochSmoothD  = 3
	atrPeriod     = 14
	bbPeriod      = 20
	bbStdDevs     = 2
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	volumePeriod  = 20
	momentumRatio = 0.1
)

// Compute evaluates the full indicator suite over candles (oldest first)
// and reports values for the last one. Short histories degrade per field.
func Compute(candles []Candle) Snapshot {
	snap := Snapshot{
		Trend:       TrendMixed,
		PriceVsVWAP: PriceBelow,
		BBPosition:  BandMiddle,
		MACDCross:   CrossNone,
		Momentum:    MomentumWeak,
	}
	n := len(candles)
	if n == 0 {
		return snap
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i], highs[i], lows[i], volumes[i] = c.Close, c.High, c.Low, c.Volume
	}
	last := n - 1
	latest := candles[last]
	snap.Close = latest.Close

	snap.EMA9 = EMA(closes, 9)[last]
	snap.EMA20 = EMA(closes, 20)[last]
	snap.EMA50 = EMA(closes, 50)[last]

	rsi := RSI(closes, rsiPeriod)
	snap.RSI14 = ptr(rsi[last])
	k, d := StochRSI(rsi, stochWindow, stochSmoothK, stochSmoothD)
	snap.StochRSIK = ptr(k[last])
	snap.StochRSID = ptr(d[last])

	snap.ATR14 = ATR(highs, lows, closes, atrPeriod)[last]

	var cumVol, cumTPVol float64
	for i := range candles {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumVol += volumes[i]
		cumTPVol += typical * volumes[i]
	}
	if cumVol != 0 {
		snap.VWAP = ptr(cumTPVol / cumVol)
	}

	if mid, ok := SMA(closes, bbPeriod); ok {
		sd, _ := StdDev(closes, bbPeriod)
		upper, lower := mid+bbStdDevs*sd, mid-bbStdDevs*sd
		snap.BBUpper, snap.BBMiddle, snap.BBLower = ptr(upper), ptr(mid), ptr(lower)
		if mid != 0 {
			snap.BBWidth = ptr((upper - lower) / mid * 100)
		}
	}

	fast, slow := EMA(closes, macdFast), EMA(closes, macdSlow)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = fast[i] - slow[i]
	}
	signal := EMA(macd, macdSignal)
	hist := func(i int) float64 { return macd[i] - signal[i] }
	snap.MACD = macd[last]
	snap.MACDSignal = signal[last]
	snap.MACDHist = hist(last)
	snap.MACDHistPrev = snap.MACDHist
	if n > 1 {
		snap.MACDHistPrev = hist(last - 1)
	}

	if avg, ok := SMA(volumes, volumePeriod); ok && avg != 0 {
		snap.VolRatio = ptr(latest.Volume / avg)
	}
	if latest.Volume != 0 {
		snap.BuyVolPct = ptr(latest.TakerBuyVolume / latest.Volume * 100)
	}

	snap.Trend = trendOf(snap.EMA9, snap.EMA20, snap.EMA50)
	if snap.VWAP != nil && latest.Close > *snap.VWAP {
		snap.PriceVsVWAP = PriceAbove
	}
	switch {
	case snap.BBUpper != nil && latest.Close > *snap.BBUpper:
		snap.BBPosition = BandUpper
	case snap.BBLower != nil && latest.Close < *snap.BBLower:
		snap.BBPosition = BandLower
	}
	snap.MACDCross = crossOf(snap.MACDHist, snap.MACDHistPrev)
	if math.Abs(snap.MACDHist) > snap.ATR14*momentumRatio {
		snap.Momentum = MomentumStrong
	}
	return snap
}

func trendOf(ema9, ema20, ema50 float64) Trend {
	switch {
	case ema9 > ema20 && ema20 > ema50:
		return TrendBullish
	case ema9 < ema20 && ema20 < ema50:
		return TrendBearish
	default:
		return TrendMixed
	}
}

func crossOf(cur, prev float64) Cross {
	switch {
	case cur > 0 && prev <= 0:
		return CrossBullish
	case cur < 0 && prev >= 0:
		return CrossBearish
	default:
		return CrossNone
	}
}
