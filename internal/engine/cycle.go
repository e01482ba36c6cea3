package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/journal"
	"signal-core/internal/market"
	"signal-core/internal/risk"
)

func (e *Engine) fetchCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.FetchTimeout)
}

// RunCycle gathers market and account context, asks for a decision, checks
// it against the risk gate and executes it.
func (e *Engine) RunCycle(ctx context.Context) (rep *CycleReport, err error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	rep, log := e.newReport("full")
	defer e.settle(ctx, rep, &err)
	log.Info().Str("interval", e.cfg.BaseInterval).Msg("candle closed, cycle started")

	// each timeframe bounds its own fetch
	mtf := e.deps.Aggregator.Run(ctx)
	rep.Timeframes = &mtf
	for _, r := range mtf.Results {
		if r.Summary != nil {
			log.Debug().Str("tf", r.Label).Str("trend", string(r.Summary.Trend)).Msg("timeframe")
		}
	}

	fctx, cancel := e.fetchCtx(ctx)
	candles, err := e.deps.Candles.Candles(fctx, e.cfg.BaseInterval, e.cfg.CandleLimit)
	cancel()
	if err != nil {
		return rep, fmt.Errorf("base candles: %w", err)
	}
	if len(candles) == 0 {
		return rep, fmt.Errorf("base candles: empty history")
	}
	snap := indicators.Compute(candles)
	rep.Indicators = &snap
	rep.Price = candles[len(candles)-1].Close

	sentiment := e.sentiment(ctx)
	rep.Sentiment = &sentiment

	fctx, cancel = e.fetchCtx(ctx)
	acct, err := e.deps.Accounts.Account(fctx)
	cancel()
	if err != nil {
		return rep, fmt.Errorf("account: %w", err)
	}
	rep.Balance = acct.Balance

	fctx, cancel = e.fetchCtx(ctx)
	trades, terr := e.deps.Accounts.RecentTrades(fctx, e.cfg.RecentTrades)
	cancel()
	if terr != nil {
		log.Warn().Err(terr).Msg("recent trades unavailable")
	}
	log.Info().
		Float64("balance", acct.Balance).
		Int("positions", len(acct.Positions)).
		Float64("upnl", acct.UnrealizedPnL).
		Msg("account")

	payload := decision.NewPayload(e.cfg.Symbol, e.cfg.BaseInterval, acct, trades, candles, snap)
	payload.MarketSentiment = &sentiment
	payload.Timeframes = &mtf
	payload.AttachMemory(e.deps.Memory)

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	d, err := e.deps.Decider.Decide(dctx, payload)
	cancel()
	if err != nil || d == nil {
		log.Warn().Err(err).Msg("no valid decision, skipping cycle")
		rep.Outcome = OutcomeNoDecision
		return rep, nil
	}
	rep.Decision = d
	e.deps.Metrics.ObserveDecision(string(d.Action))
	e.deps.Bus.Publish(events.EventDecision, rep.ID, d)
	log.Info().
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Float64("leverage", d.Leverage).
		Float64("size_pct", d.PositionSizePercent).
		Str("direction", d.MarketDirection).
		Str("comment", d.Comment).
		Msg("decision")

	return rep, e.execute(ctx, rep, log, *d, acct)
}

func (e *Engine) sentiment(ctx context.Context) market.Sentiment {
	s := market.DefaultSentiment()
	if e.deps.Sentiment != nil {
		fctx, cancel := e.fetchCtx(ctx)
		s = e.deps.Sentiment.Fetch(fctx)
		cancel()
	}
	return s.WithLive(e.deps.Feed.Book(), e.deps.Feed.Flow(e.cfg.FlowWindow))
}

// execute validates d and carries it out. Caller holds execMu.
func (e *Engine) execute(ctx context.Context, rep *CycleReport, log zerolog.Logger, d decision.Decision, acct balance.Account) error {
	v := e.deps.Gate.Validate(d, acct.Balance, acct.Positions)
	rep.Verdict = &v
	log.Info().Str("check", string(v.Check)).Msg(v.Reason)

	if !v.Allowed {
		rep.Outcome = OutcomeRejected
		e.deps.Metrics.ObserveRejection(string(v.Check))
		e.deps.Bus.Publish(events.EventRiskRejected, rep.ID, struct {
			Decision decision.Decision `json:"decision"`
			Verdict  risk.Verdict      `json:"verdict"`
		}{d, v})
		e.journal(ctx, log, journal.Entry{CycleID: rep.ID, Decision: d, Equity: journal.Float(acct.Balance), Note: v.Reason})
		return nil
	}

	xctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	switch d.Action {
	case decision.ActionHold:
		rep.Outcome = OutcomeHold
		e.journal(ctx, log, journal.Entry{CycleID: rep.ID, Decision: d, Equity: journal.Float(acct.Balance)})
		e.deps.Memory.Record(d, decision.Outcome{})

	case decision.ActionClose:
		res, err := e.deps.Trader.Close(xctx, e.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("close: %w", err)
		}
		if res == nil {
			log.Info().Msg("no position to close")
			rep.Outcome = OutcomeNoPosition
			e.journal(ctx, log, journal.Entry{CycleID: rep.ID, Decision: d, Equity: journal.Float(acct.Balance), Note: "no position"})
			e.deps.Memory.Record(d, decision.Outcome{})
			return nil
		}
		rep.Outcome = OutcomeClosed
		rep.Closed = res
		pnl := e.bookClose(ctx, rep.ID, d, acct.Balance, res, log)
		rep.PnL = &pnl
		log.Info().Float64("close_price", res.ClosePrice).Float64("qty", res.Quantity).Float64("pnl", pnl).Msg("position closed")

	case decision.ActionBuy, decision.ActionSell:
		price, err := e.deps.Accounts.CurrentPrice(xctx)
		if err != nil {
			return fmt.Errorf("current price: %w", err)
		}
		res, err := e.deps.Trader.Open(xctx, d, acct.Balance, price)
		if err != nil {
			return fmt.Errorf("open %s: %w", d.Action, err)
		}
		rep.Outcome = OutcomeOpened
		rep.Opened = res
		e.journal(ctx, log, journal.Entry{
			CycleID:      rep.ID,
			Decision:     d,
			EntryPrice:   journal.Float(res.EntryPrice),
			PositionSize: journal.Float(res.Quantity),
			Leverage:     journal.Int(res.Leverage),
			StopLoss:     journal.Float(res.StopLoss),
			TakeProfit:   journal.Float(res.TakeProfit),
			Equity:       journal.Float(acct.Balance),
			Note:         res.ProtectionErr,
		})
		e.deps.Memory.Record(d, decision.Outcome{EntryPrice: decision.Float(res.EntryPrice)})

	case decision.ActionAdd:
		// pyramiding would bypass the single-position check, so it is not executed
		log.Warn().Msg("ADD is not executed")
		rep.Outcome = OutcomeAddSkipped
		e.journal(ctx, log, journal.Entry{CycleID: rep.ID, Decision: d, Equity: journal.Float(acct.Balance), Note: "ADD not executed"})
		e.deps.Memory.Record(d, decision.Outcome{})
	}
	return nil
}

// QuickCheck asks whether an open position should be closed before the next
// base close. It does nothing without a position.
func (e *Engine) QuickCheck(ctx context.Context) (rep *CycleReport, err error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	fctx, cancel := e.fetchCtx(ctx)
	acct, err := e.deps.Accounts.Account(fctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	pos, ok := acct.Position(e.cfg.Symbol)
	if !ok {
		return nil, nil
	}

	rep, log := e.newReport("quick_check")
	rep.Balance = acct.Balance
	defer e.settle(ctx, rep, &err)

	fast, err := e.snapshot(ctx, e.cfg.QuickInterval)
	if err != nil {
		return rep, err
	}
	base, err := e.snapshot(ctx, e.cfg.BaseInterval)
	if err != nil {
		return rep, err
	}
	rep.Indicators = &fast

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	d, qerr := e.deps.Decider.QuickCheck(dctx, decision.NewQuickCheckPayload(pos, fast, base, e.deps.Memory))
	cancel()
	if qerr != nil || d == nil {
		log.Warn().Err(qerr).Msg("no valid quick check decision")
		rep.Outcome = OutcomeNoDecision
		return rep, nil
	}
	rep.Decision = d
	e.deps.Metrics.ObserveDecision(string(d.Action))
	e.deps.Bus.Publish(events.EventDecision, rep.ID, d)

	if d.Action == decision.ActionHold {
		log.Debug().Str("side", pos.Side).Float64("upnl", pos.UnrealizedPnL).Msg("quick check: hold")
		rep.Outcome = OutcomeHold
		return rep, nil
	}
	log.Info().Str("comment", d.Comment).Msg("quick check: close")
	err = e.execute(ctx, rep, log, *d, acct)
	return rep, err
}

func (e *Engine) snapshot(ctx context.Context, interval string) (indicators.Snapshot, error) {
	fctx, cancel := e.fetchCtx(ctx)
	defer cancel()
	candles, err := e.deps.Candles.Candles(fctx, interval, e.cfg.CandleLimit)
	if err != nil {
		return indicators.Snapshot{}, fmt.Errorf("%s candles: %w", interval, err)
	}
	return indicators.Compute(candles), nil
}
