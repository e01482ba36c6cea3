package order

import (
	"context"
	"math"

	"signal-core/internal/decision"
)

// OpenResult summarizes a filled entry and its protective orders.
type OpenResult struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	OrderID    string  `json:"order_id"`
	// empty when both protective orders were accepted
	ProtectionErr string `json:"protection_error,omitempty"`
}

// CloseResult summarizes a flattened position.
type CloseResult struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	ClosePrice float64 `json:"close_price"`
	Quantity   float64 `json:"quantity"`
}

// Trader opens and closes positions. Executor trades on the exchange,
// PaperExecutor simulates fills.
type Trader interface {
	Open(ctx context.Context, d decision.Decision, balance, price float64) (*OpenResult, error)
	Close(ctx context.Context, symbol string) (*CloseResult, error)
	CloseAll(ctx context.Context) ([]CloseResult, error)
}

// Observer is told about failed exchange calls, by error kind.
type Observer interface {
	ObserveOrderError(kind string)
}

// CalculatePnL computes realized PnL for a position opened on side
// (BUY for long) and flattened at exit.
func CalculatePnL(side string, qty, entry, exit float64, fee float64) float64 {
	q := math.Abs(qty)
	if q == 0 {
		return 0
	}
	var pnl float64
	if side == "BUY" {
		pnl = (exit - entry) * q
	} else {
		pnl = (entry - exit) * q
	}
	return pnl - fee
}

func floorTo(v float64, precision int) float64 {
	f := math.Pow(10, float64(precision))
	return math.Floor(v*f) / f
}

func roundTo(v float64, precision int) float64 {
	f := math.Pow(10, float64(precision))
	return math.Round(v*f) / f
}
