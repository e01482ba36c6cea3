package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
)

// AlertSink delivers operator alerts.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts as warnings.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Warn().Str("alert", message).Msg("alert")
	return nil
}

// alertEvents are the bus topics an operator should hear about.
var alertEvents = []events.Event{
	events.EventRiskRejected,
	events.EventOrderFailed,
	events.EventProtectFailed,
}

// Monitor forwards risk rejections and order failures to a sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  zerolog.Logger
}

// Start subscribes and returns immediately; forwarding stops with ctx.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	for _, e := range alertEvents {
		stream, unsub := m.Bus.Subscribe(e, 50)
		go m.forward(ctx, stream, unsub)
	}
}

func (m *Monitor) forward(ctx context.Context, stream <-chan events.Message, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := m.Sink.Send(FormatAlert(msg)); err != nil {
				m.Log.Error().Err(err).Msg("alert delivery failed")
			}
		}
	}
}

// FormatAlert renders a bus message as one line.
func FormatAlert(msg events.Message) string {
	body, err := json.Marshal(msg.Data)
	if err != nil {
		body = []byte(fmt.Sprintf("%v", msg.Data))
	}
	prefix := "[" + msg.Time.Format("2006-01-02T15:04:05Z07:00") + "] " + string(msg.Type)
	if msg.CycleID != "" {
		prefix += " cycle=" + msg.CycleID
	}
	return prefix + " " + string(body)
}
