package risk

import (
	"fmt"
	"sync"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
)

// Gate validates decisions against fixed limits and the process-lifetime
// risk state. Safe for concurrent use.
type Gate struct {
	mu      sync.RWMutex
	limits  Limits
	metrics State
}

// NewGate fixes the starting balance for drawdown checks.
func NewGate(startingBalance float64, limits Limits) *Gate {
	return &Gate{
		limits:  limits,
		metrics: State{StartingBalance: startingBalance},
	}
}

// Validate runs the checks in order and stops at the first that decides.
func (g *Gate) Validate(d decision.Decision, currentBalance float64, positions []balance.Position) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.metrics.ChecksTotal++
	v := g.evaluate(d, currentBalance, positions)
	if !v.Allowed {
		g.metrics.RejectionsTotal++
	}
	return v
}

func (g *Gate) evaluate(d decision.Decision, currentBalance float64, positions []balance.Position) Verdict {
	lim := g.limits

	// 1-2. Risk-reducing or idle actions always pass.
	switch d.Action {
	case decision.ActionHold:
		return Verdict{Allowed: true, Reason: "HOLD — no action needed.", Check: CheckHold}
	case decision.ActionClose:
		return Verdict{Allowed: true, Reason: "CLOSE — reducing exposure.", Check: CheckClose}
	}

	// 3. Equity drawdown against the starting balance.
	drawdown := g.drawdownPct(currentBalance)
	g.metrics.LastDrawdownPct = drawdown
	if drawdown >= lim.MaxDrawdownPct {
		return reject(CheckDrawdown, "equity drawdown %.1f%% >= %v%% limit.", drawdown, lim.MaxDrawdownPct)
	}

	// 4. Losing streak.
	if g.metrics.ConsecutiveLosses >= lim.MaxConsecutiveLosses {
		return reject(CheckConsecutiveLosses, "%d consecutive losses >= %d limit.", g.metrics.ConsecutiveLosses, lim.MaxConsecutiveLosses)
	}

	// 5. One open position at a time. ADD is not special-cased; callers
	// that pyramid route around the gate.
	if len(positions) > 0 {
		return reject(CheckOpenPosition, "already have an open position.")
	}

	// 6. Size in (0, max].
	if d.PositionSizePercent > lim.MaxPositionSizePct {
		return reject(CheckPositionSize, "position_size_percent %v > %v%% limit.", d.PositionSizePercent, lim.MaxPositionSizePct)
	}
	if d.PositionSizePercent <= 0 {
		return reject(CheckPositionSize, "position_size_percent must be > 0.")
	}

	// 7. Leverage in [1, max].
	if d.Leverage > lim.MaxLeverage {
		return reject(CheckLeverage, "leverage %v > %vx limit.", d.Leverage, lim.MaxLeverage)
	}
	if d.Leverage < 1 {
		return reject(CheckLeverage, "leverage must be >= 1.")
	}

	// 8. Confidence floor.
	if d.Confidence < lim.MinConfidence {
		return reject(CheckConfidence, "confidence %v < %v threshold.", d.Confidence, lim.MinConfidence)
	}

	// 9. Both protective levels present.
	if d.StopLoss <= 0 || d.TakeProfit <= 0 {
		return reject(CheckStopLevels, "stop_loss and take_profit must be > 0.")
	}

	return Verdict{Allowed: true, Reason: "APPROVED.", Check: CheckApproved}
}

func reject(check Check, format string, args ...any) Verdict {
	return Verdict{Reason: "REJECTED: " + fmt.Sprintf(format, args...), Check: check}
}

// drawdownPct is 0 when no positive starting balance was recorded.
func (g *Gate) drawdownPct(current float64) float64 {
	start := g.metrics.StartingBalance
	if start <= 0 {
		return 0
	}
	return (start - current) / start * 100
}

// RecordTradeResult updates the losing streak after a position closes:
// a negative pnl extends it, anything else resets it.
func (g *Gate) RecordTradeResult(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pnl < 0 {
		g.metrics.ConsecutiveLosses++
	} else {
		g.metrics.ConsecutiveLosses = 0
	}

	g.metrics.TradesRecorded++
	g.metrics.TotalRealizedPnL += pnl
	if g.metrics.TotalRealizedPnL > g.metrics.MaxProfit {
		g.metrics.MaxProfit = g.metrics.TotalRealizedPnL
	}
	if dd := g.metrics.MaxProfit - g.metrics.TotalRealizedPnL; dd > g.metrics.MaxDrawdown {
		g.metrics.MaxDrawdown = dd
	}
}

// ResetConsecutiveLosses clears the losing streak, e.g. after an operator
// review.
func (g *Gate) ResetConsecutiveLosses() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics.ConsecutiveLosses = 0
}

// ConsecutiveLosses returns the current losing streak.
func (g *Gate) ConsecutiveLosses() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.metrics.ConsecutiveLosses
}

// State returns a snapshot of counters and limits.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.metrics
	s.Limits = g.limits
	return s
}
