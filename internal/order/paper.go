package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/events"
)

const paperQtyPrecision = 3

// PriceSource quotes the last price of the traded symbol.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (float64, error)
}

// PaperConfig tunes simulated fills.
type PaperConfig struct {
	InitialBalance float64
	FeeRate        float64 // decimal, 0.0004 = 4 bps
	SlippageBps    float64 // always applied against the taker
}

type paperPosition struct {
	side       string // BUY for long
	qty        float64
	entry      float64
	leverage   int
	stopLoss   float64
	takeProfit float64
}

// PaperExecutor fills orders in memory at the quoted price. It also serves
// account reads so the rest of the engine sees a consistent simulated wallet.
type PaperExecutor struct {
	symbol string
	prices PriceSource
	cfg    PaperConfig
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	balance   float64
	positions map[string]*paperPosition
	trades    []balance.Trade
}

func NewPaperExecutor(symbol string, prices PriceSource, cfg PaperConfig, bus *events.Bus, log zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		symbol:    symbol,
		prices:    prices,
		cfg:       cfg,
		bus:       bus,
		log:       log,
		now:       time.Now,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*paperPosition),
	}
}

func (p *PaperExecutor) slipped(side string, price float64) float64 {
	frac := p.cfg.SlippageBps / 10000
	if side == "BUY" {
		return price * (1 + frac)
	}
	return price * (1 - frac)
}

func (p *PaperExecutor) record(side string, price, qty, pnl, fee float64) {
	p.trades = append(p.trades, balance.Trade{
		Time:        p.now().UnixMilli(),
		Side:        side,
		Price:       price,
		Qty:         qty,
		RealizedPnL: pnl,
		Commission:  fee,
	})
}

// Open simulates a market entry. Only one position per symbol is held.
func (p *PaperExecutor) Open(ctx context.Context, d decision.Decision, bal, price float64) (*OpenResult, error) {
	if d.Action != decision.ActionBuy && d.Action != decision.ActionSell {
		return nil, fmt.Errorf("%w: %s", ErrNotOpening, d.Action)
	}
	if price <= 0 {
		return nil, ErrBadPrice
	}

	side := string(d.Action)
	leverage := int(d.Leverage)
	fill := p.slipped(side, price)
	qty := floorTo(bal*d.PositionSizePercent/100*float64(leverage)/fill, paperQtyPrecision)
	if qty <= 0 {
		return nil, ErrZeroQuantity
	}
	fee := fill * qty * p.cfg.FeeRate

	p.mu.Lock()
	if _, ok := p.positions[p.symbol]; ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("paper position already open on %s", p.symbol)
	}
	p.positions[p.symbol] = &paperPosition{
		side:       side,
		qty:        qty,
		entry:      fill,
		leverage:   leverage,
		stopLoss:   d.StopLoss,
		takeProfit: d.TakeProfit,
	}
	p.balance -= fee
	p.record(side, fill, qty, 0, fee)
	p.mu.Unlock()

	out := &OpenResult{
		Symbol:     p.symbol,
		Side:       side,
		EntryPrice: fill,
		Quantity:   qty,
		Leverage:   leverage,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		OrderID:    "paper-" + uuid.NewString(),
	}
	p.log.Info().Str("symbol", p.symbol).Str("side", side).Float64("qty", qty).Float64("entry", fill).Float64("fee", fee).Msg("paper position opened")
	p.bus.Publish(events.EventOrderOpened, "", out)
	return out, nil
}

// Close flattens the simulated position at the current price.
func (p *PaperExecutor) Close(ctx context.Context, symbol string) (*CloseResult, error) {
	price, err := p.prices.CurrentPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper close price: %w", err)
	}

	p.mu.Lock()
	pos, ok := p.positions[symbol]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	exitSide := "SELL"
	if pos.side == "SELL" {
		exitSide = "BUY"
	}
	fill := p.slipped(exitSide, price)
	fee := fill * pos.qty * p.cfg.FeeRate
	pnl := CalculatePnL(pos.side, pos.qty, pos.entry, fill, fee)
	p.balance += pnl
	delete(p.positions, symbol)
	p.record(exitSide, fill, pos.qty, pnl+fee, fee)
	p.mu.Unlock()

	out := &CloseResult{Symbol: symbol, Side: exitSide, ClosePrice: fill, Quantity: pos.qty}
	p.log.Info().Str("symbol", symbol).Float64("exit", fill).Float64("pnl", pnl).Msg("paper position closed")
	p.bus.Publish(events.EventOrderClosed, "", out)
	return out, nil
}

// CheckProtection closes the simulated position when the current price has
// crossed its stop-loss or take-profit.
func (p *PaperExecutor) CheckProtection(ctx context.Context) (*CloseResult, error) {
	price, err := p.prices.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	pos, ok := p.positions[p.symbol]
	hit := ok && triggered(pos, price)
	p.mu.RUnlock()
	if !hit {
		return nil, nil
	}
	p.log.Info().Str("symbol", p.symbol).Float64("price", price).Msg("paper protective order triggered")
	return p.Close(ctx, p.symbol)
}

func triggered(pos *paperPosition, price float64) bool {
	if pos.side == "BUY" {
		return (pos.stopLoss > 0 && price <= pos.stopLoss) || (pos.takeProfit > 0 && price >= pos.takeProfit)
	}
	return (pos.stopLoss > 0 && price >= pos.stopLoss) || (pos.takeProfit > 0 && price <= pos.takeProfit)
}

// CloseAll flattens the simulated position if there is one.
func (p *PaperExecutor) CloseAll(ctx context.Context) ([]CloseResult, error) {
	res, err := p.Close(ctx, p.symbol)
	if err != nil || res == nil {
		return nil, err
	}
	return []CloseResult{*res}, nil
}

// Account reports the simulated wallet, marking positions to the current price.
func (p *PaperExecutor) Account(ctx context.Context) (balance.Account, error) {
	mark, markErr := p.prices.CurrentPrice(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	acct := balance.Account{Balance: p.balance, Positions: []balance.Position{}}
	for sym, pos := range p.positions {
		upnl := 0.0
		if markErr == nil && mark > 0 {
			upnl = CalculatePnL(pos.side, pos.qty, pos.entry, mark, 0)
		}
		side := balance.SideLong
		if pos.side == "SELL" {
			side = balance.SideShort
		}
		acct.Positions = append(acct.Positions, balance.Position{
			Symbol:        sym,
			Side:          side,
			Size:          pos.qty,
			EntryPrice:    pos.entry,
			UnrealizedPnL: upnl,
			Leverage:      pos.leverage,
		})
		acct.UnrealizedPnL += upnl
	}
	return acct, nil
}

// RecentTrades returns up to limit simulated fills, oldest first.
func (p *PaperExecutor) RecentTrades(_ context.Context, limit int) ([]balance.Trade, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	start := 0
	if limit > 0 && len(p.trades) > limit {
		start = len(p.trades) - limit
	}
	out := make([]balance.Trade, len(p.trades)-start)
	copy(out, p.trades[start:])
	return out, nil
}

func (p *PaperExecutor) CurrentPrice(ctx context.Context) (float64, error) {
	return p.prices.CurrentPrice(ctx)
}

// Balance returns the simulated wallet balance.
func (p *PaperExecutor) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}
