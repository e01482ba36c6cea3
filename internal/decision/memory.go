package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

const DefaultMemorySize = 20

const lesson = "Learn from losses: do not repeat losing setups. If high leverage with large size lost money, use less. Avoid setups that keep failing."

// MemoryEntry is one remembered decision and, once known, its outcome.
type MemoryEntry struct {
	Action              Action   `json:"action"`
	Confidence          float64  `json:"confidence"`
	Leverage            float64  `json:"leverage"`
	PositionSizePercent float64  `json:"position_size_percent"`
	StopLoss            float64  `json:"stop_loss"`
	TakeProfit          float64  `json:"take_profit"`
	Comment             string   `json:"comment"`
	ResultPnL           *float64 `json:"result_pnl"`
	EntryPrice          *float64 `json:"entry_price"`
	Fees                *float64 `json:"fees"`
}

// Outcome carries what is known about a decision after execution.
type Outcome struct {
	PnL        *float64
	EntryPrice *float64
	Fees       *float64
}

// Memory keeps the most recent decisions for the decision maker to study.
type Memory struct {
	mu      sync.RWMutex
	size    int
	entries []MemoryEntry
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{size: size}
}

// Record appends a decision, dropping the oldest beyond capacity.
func (m *Memory) Record(d Decision, out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, MemoryEntry{
		Action:              d.Action,
		Confidence:          d.Confidence,
		Leverage:            d.Leverage,
		PositionSizePercent: d.PositionSizePercent,
		StopLoss:            d.StopLoss,
		TakeProfit:          d.TakeProfit,
		Comment:             d.Comment,
		ResultPnL:           out.PnL,
		EntryPrice:          out.EntryPrice,
		Fees:                out.Fees,
	})
	if over := len(m.entries) - m.size; over > 0 {
		m.entries = append([]MemoryEntry(nil), m.entries[over:]...)
	}
}

// Entries returns a copy, oldest first.
func (m *Memory) Entries() []MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MemoryEntry(nil), m.entries...)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PerformanceSummary is the track record over remembered closed trades.
type PerformanceSummary struct {
	TotalTrades        int      `json:"total_trades"`
	Wins               int      `json:"wins"`
	Losses             int      `json:"losses"`
	WinRate            float64  `json:"win_rate"`
	TotalPnL           float64  `json:"total_pnl"`
	TotalFeesPaid      float64  `json:"total_fees_paid"`
	AvgWin             float64  `json:"avg_win"`
	AvgLoss            float64  `json:"avg_loss"`
	CurrentStreak      int      `json:"current_streak"`
	RecentLosingTrades []string `json:"recent_losing_trades"`
	Lesson             string   `json:"lesson"`
}

// MarshalJSON collapses an empty record to {"total_trades":0}.
func (p PerformanceSummary) MarshalJSON() ([]byte, error) {
	if p.TotalTrades == 0 {
		return []byte(`{"total_trades":0}`), nil
	}
	type plain PerformanceSummary
	return json.Marshal(plain(p))
}

// Summary computes the record over entries that carry a pnl. Wins are
// pnl > 0, everything else is a loss.
func (m *Memory) Summary() PerformanceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var closed []MemoryEntry
	for _, e := range m.entries {
		if e.ResultPnL != nil {
			closed = append(closed, e)
		}
	}
	if len(closed) == 0 {
		return PerformanceSummary{}
	}

	var s PerformanceSummary
	var winSum, lossSum, fees float64
	var losers []MemoryEntry
	for _, e := range closed {
		pnl := *e.ResultPnL
		s.TotalPnL += pnl
		if e.Fees != nil {
			fees += *e.Fees
		}
		if pnl > 0 {
			s.Wins++
			winSum += pnl
		} else {
			s.Losses++
			lossSum += pnl
			losers = append(losers, e)
		}
	}

	// walk back from the newest: each loss counts -1, a win ends the walk
	for i := len(closed) - 1; i >= 0; i-- {
		if *closed[i].ResultPnL <= 0 {
			s.CurrentStreak--
			continue
		}
		s.CurrentStreak++
		break
	}

	s.TotalTrades = len(closed)
	s.WinRate = round(float64(s.Wins)/float64(s.TotalTrades)*100, 1)
	s.TotalPnL = round(s.TotalPnL, 2)
	s.TotalFeesPaid = round(fees, 2)
	if s.Wins > 0 {
		s.AvgWin = round(winSum/float64(s.Wins), 2)
	}
	if s.Losses > 0 {
		s.AvgLoss = round(lossSum/float64(s.Losses), 2)
	}
	s.RecentLosingTrades = []string{}
	for _, e := range losers[max(0, len(losers)-5):] {
		s.RecentLosingTrades = append(s.RecentLosingTrades,
			fmt.Sprintf("%s (confidence=%v, pnl=%.1f)", e.Action, e.Confidence, *e.ResultPnL))
	}
	s.Lesson = lesson
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Float returns a pointer to v, for Outcome fields.
func Float(v float64) *float64 { return &v }
