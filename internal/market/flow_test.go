package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlowIgnoresOldTrades(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	r := newTradeRing(10)
	r.add(TradePrint{Time: now.Add(-10001 * time.Millisecond).UnixMilli(), Qty: 5, IsBuy: true})
	r.add(TradePrint{Time: now.Add(-time.Minute).UnixMilli(), Qty: 5, IsBuy: false})

	st := r.flow(now, 10*time.Second)
	assert.Equal(t, 0, st.TradeCount)
	assert.Equal(t, PressureNeutral, st.Flow)
	assert.Equal(t, 50.0, st.BuyPercent)
	assert.Equal(t, 2, r.len(), "old prints are not evicted")
}

func TestFlowClassification(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	tests := []struct {
		name      string
		buy, sell float64
		want      Pressure
	}{
		{"buyers lead", 13, 10, PressureBuy},
		{"sellers lead", 10, 12.5, PressureSell},
		{"within bias", 12, 10, PressureNeutral},
		{"only buys", 1, 0, PressureBuy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTradeRing(10)
			r.add(TradePrint{Time: now.UnixMilli(), Qty: tt.buy, IsBuy: true})
			if tt.sell > 0 {
				r.add(TradePrint{Time: now.UnixMilli(), Qty: tt.sell})
			}
			assert.Equal(t, tt.want, r.flow(now, 0).Flow)
		})
	}
}

func TestTradeRingCapacity(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	r := newTradeRing(3)
	for i := 0; i < 5; i++ {
		r.add(TradePrint{Time: now.UnixMilli(), Qty: float64(i + 1), IsBuy: true})
	}
	st := r.flow(now, time.Second)
	assert.Equal(t, 3, st.TradeCount)
	assert.Equal(t, 12.0, st.BuyVolume) // 3+4+5
}

func TestFlowRounded(t *testing.T) {
	st := classifyFlow(FlowStats{BuyVolume: 1.23456, SellVolume: 2})
	r := st.Rounded()
	assert.Equal(t, 1.2346, r.BuyVolume)
	assert.Equal(t, 38.2, r.BuyPercent)
}
