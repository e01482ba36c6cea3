package order

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/events"
	exchange "signal-core/pkg/exchanges/common"
)

const defaultMaxAttempts = 3

var (
	ErrNotOpening   = errors.New("decision does not open a position")
	ErrZeroQuantity = errors.New("computed quantity is zero")
	ErrBadPrice     = errors.New("reference price must be positive")
)

// PositionSource reads the live account so Close knows what to flatten.
type PositionSource interface {
	Account(ctx context.Context) (balance.Account, error)
}

// Executor sends market entries with protective stops to the exchange.
type Executor struct {
	Gateway   exchange.Gateway
	Positions PositionSource
	Bus       *events.Bus
	Observer  Observer

	symbol      string
	maxAttempts int
	log         zerolog.Logger
}

func NewExecutor(gw exchange.Gateway, positions PositionSource, bus *events.Bus, symbol string, maxAttempts int, log zerolog.Logger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Executor{
		Gateway:     gw,
		Positions:   positions,
		Bus:         bus,
		symbol:      symbol,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (e *Executor) precision(ctx context.Context) exchange.SymbolPrecision {
	p, err := e.Gateway.SymbolPrecision(ctx, e.symbol)
	if err != nil {
		e.log.Warn().Err(err).Msg("symbol precision unavailable, using defaults")
		return exchange.SymbolPrecision{Symbol: e.symbol, QuantityPrecision: 3, PricePrecision: 2}
	}
	return p
}

func (e *Executor) observe(err error) {
	if e.Observer != nil && err != nil {
		e.Observer.ObserveOrderError(exchange.KindOf(err).String())
	}
}

// Open sizes a market entry from balance, leverage and size percent, then
// places stop-loss and take-profit orders on the filled quantity.
func (e *Executor) Open(ctx context.Context, d decision.Decision, bal, price float64) (*OpenResult, error) {
	if !d.Action.Opens() || d.Action == decision.ActionAdd {
		return nil, fmt.Errorf("%w: %s", ErrNotOpening, d.Action)
	}
	if price <= 0 {
		return nil, ErrBadPrice
	}

	leverage := int(d.Leverage)
	if err := e.Gateway.SetLeverage(ctx, e.symbol, leverage); err != nil {
		e.observe(err)
		e.fail("set_leverage", err)
		return nil, fmt.Errorf("set leverage %d: %w", leverage, err)
	}

	prec := e.precision(ctx)
	notional := bal * d.PositionSizePercent / 100 * float64(leverage)
	qty := floorTo(notional/price, prec.QuantityPrecision)
	if qty <= 0 {
		e.fail("sizing", ErrZeroQuantity)
		return nil, ErrZeroQuantity
	}

	side := exchange.Side(d.Action)
	res, err := e.marketOrder(ctx, side, qty, prec.QuantityPrecision)
	if err != nil {
		e.fail("market_order", err)
		return nil, err
	}

	filled := res.ExecutedQty
	if filled <= 0 {
		filled = qty
	}
	entry := res.AvgPrice
	if entry <= 0 {
		entry = price
	}

	out := &OpenResult{
		Symbol:     e.symbol,
		Side:       string(side),
		EntryPrice: entry,
		Quantity:   filled,
		Leverage:   leverage,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		OrderID:    res.ExchangeOrderID,
	}

	var protectErrs []error
	if d.StopLoss > 0 {
		if err := e.protect(ctx, side.Opposite(), exchange.OrderTypeStopMarket, filled, roundTo(d.StopLoss, prec.PricePrecision)); err != nil {
			protectErrs = append(protectErrs, fmt.Errorf("stop loss: %w", err))
		}
	}
	if d.TakeProfit > 0 {
		if err := e.protect(ctx, side.Opposite(), exchange.OrderTypeTakeProfitMarket, filled, roundTo(d.TakeProfit, prec.PricePrecision)); err != nil {
			protectErrs = append(protectErrs, fmt.Errorf("take profit: %w", err))
		}
	}
	if err := errors.Join(protectErrs...); err != nil {
		out.ProtectionErr = err.Error()
		e.log.Error().Err(err).Str("symbol", e.symbol).Msg("position opened without full protection")
		e.Bus.Publish(events.EventProtectFailed, "", out)
	}

	e.log.Info().
		Str("symbol", e.symbol).
		Str("side", out.Side).
		Float64("qty", out.Quantity).
		Float64("entry", out.EntryPrice).
		Int("leverage", leverage).
		Msg("position opened")
	e.Bus.Publish(events.EventOrderOpened, "", out)
	return out, nil
}

// marketOrder retries a rejected order with half the quantity.
func (e *Executor) marketOrder(ctx context.Context, side exchange.Side, qty float64, qtyPrecision int) (exchange.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if qty <= 0 {
			break
		}
		res, err := e.Gateway.SubmitOrder(ctx, exchange.OrderRequest{
			Symbol:   e.symbol,
			Side:     side,
			Type:     exchange.OrderTypeMarket,
			Qty:      qty,
			ClientID: uuid.NewString(),
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		e.observe(err)
		if !exchange.IsRejected(err) {
			break
		}
		e.log.Warn().Err(err).Int("attempt", attempt).Float64("qty", qty).Msg("market order rejected, halving quantity")
		qty = floorTo(qty/2, qtyPrecision)
	}
	if lastErr == nil {
		lastErr = ErrZeroQuantity
	}
	return exchange.OrderResult{}, fmt.Errorf("market %s %s: %w", side, e.symbol, lastErr)
}

func (e *Executor) protect(ctx context.Context, side exchange.Side, typ exchange.OrderType, qty, stop float64) error {
	_, err := e.Gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:      e.symbol,
		Side:        side,
		Type:        typ,
		Qty:         qty,
		StopPrice:   stop,
		ClientID:    uuid.NewString(),
		ReduceOnly:  true,
		WorkingType: exchange.WorkingTypeMarkPrice,
	})
	if err != nil {
		e.observe(err)
	}
	return err
}

// Close cancels open orders and flattens the position on symbol. It returns
// nil when there is nothing to close.
func (e *Executor) Close(ctx context.Context, symbol string) (*CloseResult, error) {
	acct, err := e.Positions.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	pos, ok := acct.Position(symbol)
	if !ok || pos.Size == 0 {
		return nil, nil
	}
	return e.flatten(ctx, pos)
}

func (e *Executor) flatten(ctx context.Context, pos balance.Position) (*CloseResult, error) {
	if err := e.Gateway.CancelAllOpenOrders(ctx, pos.Symbol); err != nil {
		e.observe(err)
		e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("cancel open orders failed")
	}

	side := exchange.SideSell
	if pos.Side == balance.SideShort {
		side = exchange.SideBuy
	}
	qty := math.Abs(pos.Size)
	res, err := e.Gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Qty:        qty,
		ClientID:   uuid.NewString(),
		ReduceOnly: true,
	})
	if err != nil {
		e.observe(err)
		e.fail("close", err)
		return nil, fmt.Errorf("close %s: %w", pos.Symbol, err)
	}

	out := &CloseResult{
		Symbol:     pos.Symbol,
		Side:       string(side),
		ClosePrice: res.AvgPrice,
		Quantity:   qty,
	}
	e.log.Info().Str("symbol", pos.Symbol).Str("side", out.Side).Float64("qty", qty).Float64("price", out.ClosePrice).Msg("position closed")
	e.Bus.Publish(events.EventOrderClosed, "", out)
	return out, nil
}

// CloseAll flattens every open position, continuing past failures.
func (e *Executor) CloseAll(ctx context.Context) ([]CloseResult, error) {
	acct, err := e.Positions.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	var (
		out  []CloseResult
		errs []error
	)
	for _, p := range acct.Positions {
		if p.Size == 0 {
			continue
		}
		res, err := e.flatten(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, *res)
	}
	return out, errors.Join(errs...)
}

func (e *Executor) fail(stage string, err error) {
	e.log.Error().Err(err).Str("stage", stage).Str("symbol", e.symbol).Msg("order failed")
	e.Bus.Publish(events.EventOrderFailed, "", map[string]string{"stage": stage, "error": err.Error()})
}
