// Package journal keeps the durable log of every decision and its outcome.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/decision"
	"signal-core/pkg/db"
)

// Entry is one journal row. Unset optional fields are stored as NULL.
type Entry struct {
	CycleID      string
	Decision     decision.Decision
	EntryPrice   *float64
	ClosePrice   *float64
	PositionSize *float64
	Leverage     *int
	StopLoss     *float64
	TakeProfit   *float64
	PnL          *float64
	Equity       *float64
	Note         string
}

// Record is a stored row as served to readers.
type Record struct {
	ID           int64           `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	CycleID      string          `json:"cycle_id,omitempty"`
	Symbol       string          `json:"symbol"`
	Action       string          `json:"action"`
	Decision     json.RawMessage `json:"decision"`
	EntryPrice   *float64        `json:"entry_price"`
	ClosePrice   *float64        `json:"close_price"`
	PositionSize *float64        `json:"position_size"`
	Leverage     *int64          `json:"leverage"`
	StopLoss     *float64        `json:"stop_loss"`
	TakeProfit   *float64        `json:"take_profit"`
	PnL          *float64        `json:"pnl"`
	Equity       *float64        `json:"equity"`
	Note         string          `json:"note,omitempty"`
}

// Stats are session totals over closed trades.
type Stats struct {
	Rows         int      `json:"rows"`
	ClosedTrades int      `json:"closed_trades"`
	Wins         int      `json:"wins"`
	Losses       int      `json:"losses"`
	WinRate      float64  `json:"win_rate"`
	TotalPnL     float64  `json:"total_pnl"`
	BestPnL      float64  `json:"best_pnl"`
	WorstPnL     float64  `json:"worst_pnl"`
	LastEquity   *float64 `json:"last_equity"`
}

type Journal struct {
	db     *db.Database
	symbol string
	log    zerolog.Logger
	now    func() time.Time
}

func New(database *db.Database, symbol string, log zerolog.Logger) *Journal {
	return &Journal{db: database, symbol: symbol, log: log, now: time.Now}
}

// Open creates the database file if needed and migrates it.
func Open(path, symbol string, log zerolog.Logger) (*Journal, error) {
	database, err := db.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return nil, err
	}
	return New(database, symbol, log), nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Log appends e.
func (j *Journal) Log(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e.Decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	var lev *int64
	if e.Leverage != nil {
		v := int64(*e.Leverage)
		lev = &v
	}
	id, err := j.db.InsertTradeLog(ctx, db.TradeLog{
		Timestamp:    j.now(),
		CycleID:      e.CycleID,
		Symbol:       j.symbol,
		Action:       string(e.Decision.Action),
		Decision:     string(raw),
		EntryPrice:   e.EntryPrice,
		ClosePrice:   e.ClosePrice,
		PositionSize: e.PositionSize,
		Leverage:     lev,
		StopLoss:     e.StopLoss,
		TakeProfit:   e.TakeProfit,
		PnL:          e.PnL,
		Equity:       e.Equity,
		Note:         e.Note,
	})
	if err != nil {
		return err
	}
	j.log.Debug().Int64("id", id).Str("cycle_id", e.CycleID).Str("action", string(e.Decision.Action)).Msg("journaled")
	return nil
}

// Recent returns up to limit rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := j.db.RecentTradeLogs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{
			ID:           r.ID,
			Timestamp:    r.Timestamp,
			CycleID:      r.CycleID,
			Symbol:       r.Symbol,
			Action:       r.Action,
			Decision:     json.RawMessage(r.Decision),
			EntryPrice:   r.EntryPrice,
			ClosePrice:   r.ClosePrice,
			PositionSize: r.PositionSize,
			Leverage:     r.Leverage,
			StopLoss:     r.StopLoss,
			TakeProfit:   r.TakeProfit,
			PnL:          r.PnL,
			Equity:       r.Equity,
			Note:         r.Note,
		})
	}
	return out, nil
}

func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	st, err := j.db.TradeLogStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		Rows:         st.Rows,
		ClosedTrades: st.ClosedTrades,
		Wins:         st.Wins,
		Losses:       st.Losses,
		TotalPnL:     st.TotalPnL,
		BestPnL:      st.BestPnL,
		WorstPnL:     st.WorstPnL,
		LastEquity:   st.LastEquity,
	}
	if st.ClosedTrades > 0 {
		out.WinRate = math.Round(float64(st.Wins)/float64(st.ClosedTrades)*1000) / 10
	}
	return out, nil
}

// Float and Int take the address of a value for optional entry fields.
func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
