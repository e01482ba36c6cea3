package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Action is what the decision maker asks for.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
	ActionHold  Action = "HOLD"
	ActionAdd   Action = "ADD"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionClose, ActionHold, ActionAdd:
		return true
	}
	return false
}

// Opens reports whether a opens or grows exposure.
func (a Action) Opens() bool {
	return a == ActionBuy || a == ActionSell || a == ActionAdd
}

// Decision is a parsed response of the decision maker.
type Decision struct {
	Action              Action  `json:"action"`
	PositionSizePercent float64 `json:"position_size_percent"`
	Leverage            float64 `json:"leverage"`
	StopLoss            float64 `json:"stop_loss"`
	TakeProfit          float64 `json:"take_profit"`
	Confidence          float64 `json:"confidence"`
	TimeframeUsed       string  `json:"timeframe_used,omitempty"`
	MarketDirection     string  `json:"market_direction,omitempty"`
	Comment             string  `json:"comment,omitempty"`
}

var (
	ErrInvalidJSON   = errors.New("invalid decision json")
	ErrMissingField  = errors.New("missing decision field")
	ErrInvalidAction = errors.New("invalid decision action")
)

// ParseError describes why a response was rejected.
type ParseError struct {
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

var requiredKeys = []string{
	"action", "position_size_percent", "leverage",
	"stop_loss", "take_profit", "confidence",
}

// StripFences drops markdown code fence lines when the text starts with one.
func StripFences(raw []byte) []byte {
	text := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(text, []byte("```")) {
		return text
	}
	lines := strings.Split(string(text), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return bytes.TrimSpace([]byte(strings.Join(kept, "\n")))
}

// Parse validates and decodes a decision response.
func Parse(raw []byte) (Decision, error) {
	text := bytes.TrimSpace(raw)
	// a service may return the model text as a JSON string
	if len(text) > 0 && text[0] == '"' {
		var s string
		if err := json.Unmarshal(text, &s); err == nil {
			text = []byte(s)
		}
	}
	text = StripFences(text)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		return Decision{}, &ParseError{Err: ErrInvalidJSON, Detail: err.Error()}
	}
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Decision{}, &ParseError{Err: ErrMissingField, Detail: strings.Join(missing, ", ")}
	}

	var d Decision
	if err := json.Unmarshal(text, &d); err != nil {
		return Decision{}, &ParseError{Err: ErrInvalidJSON, Detail: err.Error()}
	}
	if !d.Action.Valid() {
		return Decision{}, &ParseError{Err: ErrInvalidAction, Detail: string(d.Action)}
	}
	return d, nil
}

// ParseQuickCheck is Parse restricted to CLOSE and HOLD.
func ParseQuickCheck(raw []byte) (Decision, error) {
	d, err := Parse(raw)
	if err != nil {
		return Decision{}, err
	}
	if d.Action != ActionClose && d.Action != ActionHold {
		return Decision{}, &ParseError{Err: ErrInvalidAction, Detail: "quick check allows CLOSE or HOLD, got " + string(d.Action)}
	}
	return d, nil
}
