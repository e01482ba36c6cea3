// Package engine runs the candle-close driven decision loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/decision"
	"signal-core/internal/events"
	"signal-core/internal/journal"
	"signal-core/internal/order"
	"signal-core/internal/risk"
)

var ErrNotConfigured = errors.New("engine dependency missing")

type Engine struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger

	// serializes cycles with manual closes
	execMu sync.Mutex

	mu     sync.RWMutex
	last   *CycleReport
	cycles atomic.Int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, cfg Config, log zerolog.Logger) (*Engine, error) {
	switch {
	case deps.Feed == nil, deps.Aggregator == nil, deps.Candles == nil,
		deps.Accounts == nil, deps.Decider == nil, deps.Gate == nil, deps.Trader == nil:
		return nil, ErrNotConfigured
	}
	if deps.Memory == nil {
		deps.Memory = decision.NewMemory(decision.DefaultMemorySize)
	}
	cfg.setDefaults()
	return &Engine{
		deps:  deps,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run waits for candle closes and runs a cycle for each. It returns when ctx
// is cancelled or the feed's close channel is closed.
func (e *Engine) Run(ctx context.Context) error {
	hb := time.NewTicker(e.cfg.Heartbeat)
	defer hb.Stop()

	e.log.Info().
		Str("symbol", e.cfg.Symbol).
		Str("base", e.cfg.BaseInterval).
		Bool("quick_check", e.cfg.QuickCheck).
		Msg("engine waiting for candle closes")

	closes := e.deps.Feed.Closes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hb.C:
			e.heartbeat(ctx)
		case _, ok := <-closes:
			if !ok {
				return nil
			}
			e.onClose(ctx)
		}
	}
}

// onClose treats the channel as a wake-up only; the flags decide what to run.
func (e *Engine) onClose(ctx context.Context) {
	feed := e.deps.Feed
	base := feed.IsCandleClosed(e.cfg.BaseInterval)
	quick := e.cfg.QuickInterval != e.cfg.BaseInterval && feed.IsCandleClosed(e.cfg.QuickInterval)

	if quick {
		feed.AckCandleClose(e.cfg.QuickInterval)
	}
	if base {
		feed.AckCandleClose(e.cfg.BaseInterval)
		e.deps.Bus.Publish(events.EventCandleClose, "", map[string]string{"interval": e.cfg.BaseInterval})
		e.guard(ctx, "cycle", e.RunCycle)
		return
	}
	if quick && e.cfg.QuickCheck {
		e.guard(ctx, "quick_check", e.QuickCheck)
	}
}

// guard runs fn, turning errors and panics into a log line and a pause.
func (e *Engine) guard(ctx context.Context, name string, fn func(context.Context) (*CycleReport, error)) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				e.log.Error().Str("stack", string(debug.Stack())).Msgf("%s panicked", name)
			}
		}()
		_, err = fn(ctx)
	}()
	if err == nil || ctx.Err() != nil {
		return
	}
	e.log.Error().Err(err).Dur("retry_in", e.cfg.ErrorDelay).Msgf("%s failed", name)
	_ = e.sleep(ctx, e.cfg.ErrorDelay)
}

func (e *Engine) heartbeat(ctx context.Context) {
	snap := e.deps.Feed.Snapshot()
	e.deps.Metrics.SetMarket(snap.Price, snap.Book.ImbalancePct)
	e.log.Info().
		Float64("price", snap.Price).
		Str("book", string(snap.Book.Pressure)).
		Float64("imbalance_pct", snap.Book.ImbalancePct).
		Str("flow", string(snap.Flow.Flow)).
		Float64("buy_pct", snap.Flow.BuyPercent).
		Bool("ws", snap.Connected).
		Msg("heartbeat")

	if p, ok := e.deps.Trader.(protector); ok {
		e.checkProtection(ctx, p)
	}
}

// checkProtection lets a simulated trader fire its stop-loss or take-profit
// and books the result like any other close.
func (e *Engine) checkProtection(ctx context.Context, p protector) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	before, err := e.deps.Accounts.Account(ctx)
	if err != nil {
		return
	}
	res, err := p.CheckProtection(ctx)
	if err != nil || res == nil {
		return
	}
	d := decision.Decision{Action: decision.ActionClose, Comment: "protective order triggered"}
	pnl := e.bookClose(ctx, "", d, before.Balance, res, e.log)
	e.log.Info().Float64("pnl", pnl).Msg("protective order closed position")
}

// LastCycle returns a copy of the most recent cycle report.
func (e *Engine) LastCycle() *CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	cp := *e.last
	return &cp
}

// Cycles is the number of cycles run so far.
func (e *Engine) Cycles() int64 { return e.cycles.Load() }

func (e *Engine) Memory() *decision.Memory { return e.deps.Memory }

func (e *Engine) Gate() *risk.Gate { return e.deps.Gate }

func (e *Engine) finish(ctx context.Context, rep *CycleReport) {
	rep.DurationMS = e.now().Sub(rep.Started).Milliseconds()
	e.cycles.Add(1)

	e.mu.Lock()
	e.last = rep
	e.mu.Unlock()

	e.deps.Metrics.ObserveCycle(string(rep.Outcome), time.Duration(rep.DurationMS)*time.Millisecond)
	st := e.deps.Gate.State()
	e.deps.Metrics.SetRisk(st.ConsecutiveLosses, st.LastDrawdownPct)
	e.deps.Bus.Publish(events.EventCycle, rep.ID, rep)
	if e.deps.Publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.deps.Publisher.PublishCycle(pctx, rep.ID, rep); err != nil {
			e.log.Warn().Err(err).Str("cycle_id", rep.ID).Msg("publish cycle failed")
		}
	}
}

// settle is deferred by every cycle. It converts a panic into the cycle's
// error and finishes the report.
func (e *Engine) settle(ctx context.Context, rep *CycleReport, errp *error) {
	if r := recover(); r != nil {
		*errp = fmt.Errorf("panic: %v", r)
		e.log.Error().Str("cycle_id", rep.ID).Str("stack", string(debug.Stack())).Msg("cycle panicked")
	}
	if *errp != nil {
		rep.Outcome = OutcomeError
		rep.Error = (*errp).Error()
	}
	e.finish(ctx, rep)
}

func (e *Engine) newReport(kind string) (*CycleReport, zerolog.Logger) {
	id := uuid.NewString()
	return &CycleReport{ID: id, Kind: kind, Started: e.now()},
		e.log.With().Str("cycle_id", id).Logger()
}

func (e *Engine) journal(ctx context.Context, log zerolog.Logger, entry journal.Entry) {
	if e.deps.Journal == nil {
		return
	}
	if err := e.deps.Journal.Log(ctx, entry); err != nil {
		log.Error().Err(err).Msg("journal write failed")
	}
}

// CloseManual flattens symbol, or every position when symbol is "all", and
// books the results. Used by the control API, the CLI and shutdown.
func (e *Engine) CloseManual(ctx context.Context, symbol, reason string) ([]order.CloseResult, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	before, err := e.deps.Accounts.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}

	var results []order.CloseResult
	if symbol == "all" {
		results, err = e.deps.Trader.CloseAll(ctx)
	} else {
		var res *order.CloseResult
		res, err = e.deps.Trader.Close(ctx, symbol)
		if res != nil {
			results = append(results, *res)
		}
	}

	d := decision.Decision{Action: decision.ActionClose, Comment: reason}
	for i := range results {
		// one balance delta covers every close
		if i == 0 {
			e.bookClose(ctx, "", d, before.Balance, &results[i], e.log)
			continue
		}
		e.journal(ctx, e.log, journal.Entry{
			Decision:     d,
			ClosePrice:   journal.Float(results[i].ClosePrice),
			PositionSize: journal.Float(results[i].Quantity),
			Note:         reason,
		})
	}
	return results, err
}

// bookClose derives pnl from the balance change and records it with the
// gate, memory and journal.
func (e *Engine) bookClose(ctx context.Context, cycleID string, d decision.Decision, before float64, res *order.CloseResult, log zerolog.Logger) float64 {
	entry := journal.Entry{
		CycleID:      cycleID,
		Decision:     d,
		ClosePrice:   journal.Float(res.ClosePrice),
		PositionSize: journal.Float(res.Quantity),
	}
	after, err := e.deps.Accounts.Account(ctx)
	if err != nil {
		log.Error().Err(err).Msg("balance after close unavailable; pnl not recorded")
		entry.Note = "pnl unknown"
		e.deps.Memory.Record(d, decision.Outcome{})
		e.journal(ctx, log, entry)
		return 0
	}
	pnl := after.Balance - before
	e.deps.Gate.RecordTradeResult(pnl)
	e.deps.Memory.Record(d, decision.Outcome{PnL: decision.Float(pnl)})
	entry.PnL = journal.Float(pnl)
	entry.Equity = journal.Float(after.Balance)
	e.journal(ctx, log, entry)
	return pnl
}
