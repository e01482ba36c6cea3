package indicators

import "math"

// RSI returns Wilder's RSI series (alpha = 1/period). Bars before period
// price changes have been observed are NaN. A zero average loss yields 100.
func RSI(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < 2 {
		return out
	}

	alpha := 1 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := math.Max(change, 0), math.Max(-change, 0)
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain += alpha * (gain - avgGain)
			avgLoss += alpha * (loss - avgLoss)
		}
		if i < period {
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+avgGain/avgLoss)
	}
	return out
}

// StochRSI normalizes rsi over a trailing window of up to window defined
// values and smooths it into %K (kSmooth bars) and %D (dSmooth bars of %K).
//
// %K needs kSmooth consecutive defined RSI bars; bars whose window has zero
// range carry no value and are skipped in the mean. The first RSI bar's
// window holds only itself, so requiring every bar to carry a value would
// push the first %K past window+kSmooth bars. %D needs dSmooth consecutive
// %K values.
func StochRSI(rsi []float64, window, kSmooth, dSmooth int) (k, d []float64) {
	n := len(rsi)
	raw := make([]float64, n)
	k = make([]float64, n)
	d = make([]float64, n)
	for i := 0; i < n; i++ {
		raw[i], k[i], d[i] = math.NaN(), math.NaN(), math.NaN()
		if math.IsNaN(rsi[i]) {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for j := max(0, i-window+1); j <= i; j++ {
			if math.IsNaN(rsi[j]) {
				continue
			}
			lo = math.Min(lo, rsi[j])
			hi = math.Max(hi, rsi[j])
		}
		if hi-lo > 0 {
			raw[i] = (rsi[i] - lo) / (hi - lo)
		}
	}

	for i := kSmooth - 1; i < n; i++ {
		sum, cnt, full := 0.0, 0, true
		for j := i - kSmooth + 1; j <= i; j++ {
			if math.IsNaN(rsi[j]) {
				full = false
				break
			}
			if !math.IsNaN(raw[j]) {
				sum += raw[j]
				cnt++
			}
		}
		if full && cnt > 0 {
			k[i] = sum / float64(cnt) * 100
		}
	}

	for i := dSmooth - 1; i < n; i++ {
		sum := 0.0
		ok := true
		for j := i - dSmooth + 1; j <= i; j++ {
			if math.IsNaN(k[j]) {
				ok = false
				break
			}
			sum += k[j]
		}
		if ok {
			d[i] = sum / float64(dSmooth)
		}
	}
	return k, d
}
