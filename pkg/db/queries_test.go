package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func f(v float64) *float64 { return &v }

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
	ok, err := columnExists(database.DB, "trade_log", "note")
	if err != nil || !ok {
		t.Fatalf("note column missing: %v", err)
	}
}

func TestTradeLogRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	lev := int64(10)
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	id, err := database.InsertTradeLog(ctx, TradeLog{
		Timestamp:    ts,
		CycleID:      "c1",
		Symbol:       "BTCUSDT",
		Action:       "BUY",
		Decision:     `{"action":"BUY"}`,
		EntryPrice:   f(60000),
		PositionSize: f(0.01),
		Leverage:     &lev,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 {
		t.Fatalf("id=%d", id)
	}

	rows, err := database.RecentTradeLogs(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	r := rows[0]
	if !r.Timestamp.Equal(ts) || r.CycleID != "c1" || *r.EntryPrice != 60000 || *r.Leverage != 10 {
		t.Fatalf("unexpected row %+v", r)
	}
	if r.ClosePrice != nil || r.PnL != nil {
		t.Fatalf("expected NULL close/pnl, got %+v", r)
	}
}

func TestTradeLogStats(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	st, err := database.TradeLogStats(ctx)
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if st.Rows != 0 || st.LastEquity != nil {
		t.Fatalf("unexpected empty stats %+v", st)
	}

	for _, r := range []TradeLog{
		{Action: "HOLD", Decision: "{}", Equity: f(1000)},
		{Action: "CLOSE", Decision: "{}", PnL: f(25), Equity: f(1025)},
		{Action: "CLOSE", Decision: "{}", PnL: f(-10), Equity: f(1015)},
		{Action: "BUY", Decision: "{}", PnL: f(60000)},
		{Action: "CLOSE", Decision: "{}", Note: "no position"},
	} {
		if _, err := database.InsertTradeLog(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	st, err = database.TradeLogStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Rows != 5 || st.ClosedTrades != 2 || st.Wins != 1 || st.Losses != 1 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if st.TotalPnL != 15 || st.BestPnL != 25 || st.WorstPnL != -10 {
		t.Fatalf("unexpected pnl %+v", st)
	}
	if st.LastEquity == nil || *st.LastEquity != 1015 {
		t.Fatalf("last equity %v", st.LastEquity)
	}
}
