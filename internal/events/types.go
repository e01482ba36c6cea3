package events

import "time"

// Event enumerates topics published by the signal engine.
type Event string

const (
	EventCandleClose   Event = "candle_close"
	EventCycle         Event = "cycle"
	EventDecision      Event = "decision"
	EventRiskRejected  Event = "risk_rejected"
	EventOrderOpened   Event = "order.opened"
	EventOrderClosed   Event = "order.closed"
	EventOrderFailed   Event = "order.failed"
	EventProtectFailed Event = "order.protection_failed"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Type    Event     `json:"type"`
	Time    time.Time `json:"time"`
	CycleID string    `json:"cycle_id,omitempty"`
	Data    any       `json:"data,omitempty"`
}
