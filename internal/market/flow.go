package market

import "time"

// DefaultFlowWindow is the trailing window of Flow when none is given.
const DefaultFlowWindow = 10 * time.Second

// flowBias is how much one side must exceed the other to lead the tape.
const flowBias = 1.2

// TradePrint is one entry of the rolling trade buffer. Time is the local
// receive time in milliseconds.
type TradePrint struct {
	Time  int64
	Qty   float64
	IsBuy bool
}

// FlowStats is taker flow over a trailing window.
type FlowStats struct {
	BuyVolume  float64  `json:"buy_volume"`
	SellVolume float64  `json:"sell_volume"`
	BuyPercent float64  `json:"buy_percent"`
	TradeCount int      `json:"trade_count"`
	Flow       Pressure `json:"flow"`
	WindowMS   int64    `json:"window_ms"`
}

// tradeRing keeps the newest prints up to its capacity. Old prints are
// only dropped by overwrite; age filtering happens at query time.
type tradeRing struct {
	buf  []TradePrint
	next int
	full bool
}

func newTradeRing(capacity int) *tradeRing {
	if capacity <= 0 {
		capacity = 500
	}
	return &tradeRing{buf: make([]TradePrint, capacity)}
}

func (r *tradeRing) add(p TradePrint) {
	r.buf[r.next] = p
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *tradeRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// flow scans the buffer for prints newer than now-window.
func (r *tradeRing) flow(now time.Time, window time.Duration) FlowStats {
	if window <= 0 {
		window = DefaultFlowWindow
	}
	cutoff := now.UnixMilli() - window.Milliseconds()
	st := FlowStats{WindowMS: window.Milliseconds()}
	for i := 0; i < r.len(); i++ {
		p := r.buf[i]
		if p.Time < cutoff {
			continue
		}
		st.TradeCount++
		if p.IsBuy {
			st.BuyVolume += p.Qty
		} else {
			st.SellVolume += p.Qty
		}
	}
	return classifyFlow(st)
}

func classifyFlow(st FlowStats) FlowStats {
	st.BuyPercent = 50
	if total := st.BuyVolume + st.SellVolume; total > 0 {
		st.BuyPercent = st.BuyVolume / total * 100
	}
	st.Flow = PressureNeutral
	switch {
	case st.BuyVolume > flowBias*st.SellVolume:
		st.Flow = PressureBuy
	case st.SellVolume > flowBias*st.BuyVolume:
		st.Flow = PressureSell
	}
	return st
}

// Rounded returns the stats with report precision applied.
func (s FlowStats) Rounded() FlowStats {
	s.BuyVolume = round(s.BuyVolume, 4)
	s.SellVolume = round(s.SellVolume, 4)
	s.BuyPercent = round(s.BuyPercent, 1)
	return s
}
