package indicators

import "math"

// SMA calculates the simple moving average for the last period values.
// ok is false when there is not enough history.
func SMA(values []float64, period int) (avg float64, ok bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), true
}

// StdDev is the population standard deviation of the last period values.
func StdDev(values []float64, period int) (float64, bool) {
	mean, ok := SMA(values, period)
	if !ok {
		return 0, false
	}
	ss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		d := values[i] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(period)), true
}

// EMA returns the exponential moving average series with alpha = 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	return ewm(values, 2/float64(span+1))
}

func ewm(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = out[i-1] + alpha*(v-out[i-1])
	}
	return out
}

// ATR is the EMA of true range; the first bar's true range is high-low.
func ATR(high, low, close []float64, span int) []float64 {
	tr := make([]float64, len(close))
	for i := range close {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
		}
	}
	return EMA(tr, span)
}
