package balance

// Side of an open futures position.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Position is a non-zero futures position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// Account is the USDT wallet with its open positions.
type Account struct {
	Balance       float64    `json:"usdt_balance"`
	Positions     []Position `json:"positions"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
}

// Position returns the open position for symbol, if any.
func (a Account) Position(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// Trade is one of the account's own fills.
type Trade struct {
	Time        int64   `json:"time"`
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	Qty         float64 `json:"qty"`
	RealizedPnL float64 `json:"realized_pnl"`
	Commission  float64 `json:"commission"`
}
