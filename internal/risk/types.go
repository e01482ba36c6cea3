package risk

import "signal-core/pkg/config"

// Limits are the hard bounds every opening decision must respect.
type Limits struct {
	MaxPositionSizePct   float64 `json:"max_position_size_pct"`
	MaxLeverage          float64 `json:"max_leverage"`
	MinConfidence        float64 `json:"min_confidence"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// DefaultLimits returns 80% size, 20x leverage, 0.5 confidence, 30%
// drawdown and 10 losses in a row.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePct:   80,
		MaxLeverage:          20,
		MinConfidence:        0.5,
		MaxDrawdownPct:       30,
		MaxConsecutiveLosses: 10,
	}
}

// LimitsFromConfig maps the risk section of the config file.
func LimitsFromConfig(c config.RiskConfig) Limits {
	return Limits{
		MaxPositionSizePct:   c.MaxPositionSizePct,
		MaxLeverage:          c.MaxLeverage,
		MinConfidence:        c.MinConfidence,
		MaxDrawdownPct:       c.MaxDrawdownPct,
		MaxConsecutiveLosses: c.MaxConsecutiveLosses,
	}
}

// Check names the rule that decided a verdict.
type Check string

const (
	CheckHold              Check = "hold"
	CheckClose             Check = "close"
	CheckDrawdown          Check = "drawdown"
	CheckConsecutiveLosses Check = "consecutive_losses"
	CheckOpenPosition      Check = "open_position"
	CheckPositionSize      Check = "position_size"
	CheckLeverage          Check = "leverage"
	CheckConfidence        Check = "confidence"
	CheckStopLevels        Check = "stop_levels"
	CheckApproved          Check = "approved"
)

// Verdict is the outcome of Validate. A rejection is a value, not an error.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Check   Check  `json:"check"`
}

// State is a snapshot of the gate's counters.
type State struct {
	StartingBalance   float64 `json:"starting_balance"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	LastDrawdownPct   float64 `json:"last_drawdown_pct"`
	Limits            Limits  `json:"limits"`

	// Realized results seen through RecordTradeResult
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxProfit        float64 `json:"max_profit"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TradesRecorded   int     `json:"trades_recorded"`

	// Monitoring counters
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
}
