package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertTradeLog appends a journal row and returns its id.
func (d *Database) InsertTradeLog(ctx context.Context, r TradeLog) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_log (
			timestamp, cycle_id, symbol, action, decision, entry_price, close_price,
			position_size, leverage, stop_loss, take_profit, pnl, equity, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Timestamp.UTC().Format(time.RFC3339Nano), r.CycleID, r.Symbol, r.Action, r.Decision,
		r.EntryPrice, r.ClosePrice, r.PositionSize, r.Leverage, r.StopLoss, r.TakeProfit,
		r.PnL, r.Equity, r.Note,
	)
	if err != nil {
		return 0, fmt.Errorf("insert trade_log: %w", err)
	}
	return res.LastInsertId()
}

// RecentTradeLogs returns the newest rows first.
func (d *Database) RecentTradeLogs(ctx context.Context, limit int) ([]TradeLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, timestamp, cycle_id, symbol, action, decision, entry_price, close_price,
		       position_size, leverage, stop_loss, take_profit, pnl, equity, note
		FROM trade_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade_log: %w", err)
	}
	defer rows.Close()

	var out []TradeLog
	for rows.Next() {
		var (
			r                                        TradeLog
			ts                                       string
			entry, closeP, size, sl, tp, pnl, equity sql.NullFloat64
			lev                                      sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &ts, &r.CycleID, &r.Symbol, &r.Action, &r.Decision,
			&entry, &closeP, &size, &lev, &sl, &tp, &pnl, &equity, &r.Note); err != nil {
			return nil, fmt.Errorf("scan trade_log: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.EntryPrice = nullFloat(entry)
		r.ClosePrice = nullFloat(closeP)
		r.PositionSize = nullFloat(size)
		r.StopLoss = nullFloat(sl)
		r.TakeProfit = nullFloat(tp)
		r.PnL = nullFloat(pnl)
		r.Equity = nullFloat(equity)
		if lev.Valid {
			v := lev.Int64
			r.Leverage = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TradeLogStats counts rows and summarizes realized pnl. Only CLOSE rows
// with a pnl are closed trades.
func (d *Database) TradeLogStats(ctx context.Context) (TradeLogStats, error) {
	var st TradeLogStats
	var best, worst, total sql.NullFloat64
	err := d.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM trade_log),
			COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl <= 0 THEN 1 ELSE 0 END), 0),
			SUM(pnl), MAX(pnl), MIN(pnl)
		FROM trade_log
		WHERE action = 'CLOSE' AND pnl IS NOT NULL
	`).Scan(&st.Rows, &st.ClosedTrades, &st.Wins, &st.Losses, &total, &best, &worst)
	if err != nil {
		return st, fmt.Errorf("trade_log stats: %w", err)
	}
	st.TotalPnL = total.Float64
	st.BestPnL = best.Float64
	st.WorstPnL = worst.Float64

	var eq sql.NullFloat64
	err = d.DB.QueryRowContext(ctx, `
		SELECT equity FROM trade_log WHERE equity IS NOT NULL ORDER BY id DESC LIMIT 1
	`).Scan(&eq)
	if err != nil && err != sql.ErrNoRows {
		return st, fmt.Errorf("trade_log last equity: %w", err)
	}
	st.LastEquity = nullFloat(eq)
	return st, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
