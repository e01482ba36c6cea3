package db

import "time"

// TradeLog is one journaled decision with whatever execution followed it.
// Nil pointers are stored as NULL.
type TradeLog struct {
	ID           int64
	Timestamp    time.Time
	CycleID      string
	Symbol       string
	Action       string
	Decision     string // raw decision JSON
	EntryPrice   *float64
	ClosePrice   *float64
	PositionSize *float64
	Leverage     *int64
	StopLoss     *float64
	TakeProfit   *float64
	PnL          *float64
	Equity       *float64
	Note         string
}

// TradeLogStats aggregates the journal.
type TradeLogStats struct {
	Rows         int
	ClosedTrades int
	Wins         int
	Losses       int
	TotalPnL     float64
	BestPnL      float64
	WorstPnL     float64
	LastEquity   *float64
}
