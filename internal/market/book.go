package market

import "math"

// Pressure classifies which side of the book or tape dominates.
type Pressure string

const (
	PressureBuy     Pressure = "BUY"
	PressureSell    Pressure = "SELL"
	PressureNeutral Pressure = "NEUTRAL"
)

// imbalanceThreshold is the |imbalance_pct| above which the book leans.
const imbalanceThreshold = 10.0

// Level is one price level of the book.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot summarizes the top of the book. Every depth message
// replaces it wholesale.
type OrderBookSnapshot struct {
	BidVolume    float64  `json:"bid_volume"`
	AskVolume    float64  `json:"ask_volume"`
	ImbalancePct float64  `json:"imbalance_pct"`
	Pressure     Pressure `json:"pressure"`
	BestBid      float64  `json:"best_bid"`
	BestAsk      float64  `json:"best_ask"`
	StrongestBid Level    `json:"strongest_bid"`
	StrongestAsk Level    `json:"strongest_ask"`
}

// EmptyBook is the neutral book reported before any depth arrives.
func EmptyBook() OrderBookSnapshot {
	return OrderBookSnapshot{Pressure: PressureNeutral}
}

// SummarizeBook builds a snapshot from [price, qty] levels, best first.
func SummarizeBook(bids, asks [][2]float64) OrderBookSnapshot {
	ob := EmptyBook()
	ob.BidVolume, ob.StrongestBid = sideTotals(bids)
	ob.AskVolume, ob.StrongestAsk = sideTotals(asks)
	if len(bids) > 0 {
		ob.BestBid = bids[0][0]
	}
	if len(asks) > 0 {
		ob.BestAsk = asks[0][0]
	}

	if total := ob.BidVolume + ob.AskVolume; total > 0 {
		ob.ImbalancePct = (ob.BidVolume - ob.AskVolume) / total * 100
	}
	switch {
	case ob.ImbalancePct > imbalanceThreshold:
		ob.Pressure = PressureBuy
	case ob.ImbalancePct < -imbalanceThreshold:
		ob.Pressure = PressureSell
	}
	return ob
}

func sideTotals(levels [][2]float64) (total float64, strongest Level) {
	for _, l := range levels {
		total += l[1]
		if l[1] > strongest.Size {
			strongest = Level{Price: l[0], Size: l[1]}
		}
	}
	return total, strongest
}

// Rounded returns the book with report precision applied.
func (b OrderBookSnapshot) Rounded() OrderBookSnapshot {
	b.BidVolume = round(b.BidVolume, 3)
	b.AskVolume = round(b.AskVolume, 3)
	b.ImbalancePct = round(b.ImbalancePct, 1)
	return b
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
