package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/balance"
	"signal-core/internal/decision"
	"signal-core/internal/events"
	exchange "signal-core/pkg/exchanges/common"
)

type fakeGateway struct {
	mu         sync.Mutex
	orders     []exchange.OrderRequest
	leverage   int
	cancelled  []string
	rejectMkt  int // reject the first n market orders
	failStops  bool
	fill       exchange.OrderResult
	precision  *exchange.SymbolPrecision
	leverageFn error
}

func (g *fakeGateway) SubmitOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if req.Type == exchange.OrderTypeMarket && g.rejectMkt > 0 {
		g.rejectMkt--
		return exchange.OrderResult{}, exchange.NewAPIError("POST", "/fapi/v1/order", 400, -2019, "Margin is insufficient")
	}
	if req.Type != exchange.OrderTypeMarket && g.failStops {
		return exchange.OrderResult{}, exchange.NewAPIError("POST", "/fapi/v1/order", 400, -2021, "Order would immediately trigger")
	}
	res := g.fill
	res.ClientID = req.ClientID
	res.ExchangeOrderID = "42"
	if res.ExecutedQty == 0 {
		res.ExecutedQty = req.Qty
	}
	return res, nil
}

func (g *fakeGateway) CancelAllOpenOrders(_ context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, symbol)
	return nil
}

func (g *fakeGateway) SetLeverage(_ context.Context, _ string, leverage int) error {
	g.leverage = leverage
	return g.leverageFn
}

func (g *fakeGateway) SymbolPrecision(_ context.Context, symbol string) (exchange.SymbolPrecision, error) {
	if g.precision == nil {
		return exchange.SymbolPrecision{}, errors.New("no exchange info")
	}
	return *g.precision, nil
}

type staticPositions struct{ acct balance.Account }

func (s staticPositions) Account(context.Context) (balance.Account, error) { return s.acct, nil }

type kindCounter struct{ kinds []string }

func (k *kindCounter) ObserveOrderError(kind string) { k.kinds = append(k.kinds, kind) }

func buyDecision() decision.Decision {
	return decision.Decision{
		Action:              decision.ActionBuy,
		PositionSizePercent: 50,
		Leverage:            10,
		StopLoss:            58999.456,
		TakeProfit:          62000.1,
		Confidence:          0.8,
	}
}

func TestOpenSizesAndProtects(t *testing.T) {
	gw := &fakeGateway{
		fill:      exchange.OrderResult{Status: exchange.StatusFilled, AvgPrice: 60010},
		precision: &exchange.SymbolPrecision{Symbol: "BTCUSDT", QuantityPrecision: 3, PricePrecision: 1},
	}
	bus := events.NewBus()
	opened, unsub := bus.Subscribe(events.EventOrderOpened, 1)
	defer unsub()
	ex := NewExecutor(gw, staticPositions{}, bus, "BTCUSDT", 0, zerolog.Nop())

	res, err := ex.Open(context.Background(), buyDecision(), 1000, 60000)
	require.NoError(t, err)

	assert.Equal(t, 10, gw.leverage)
	// 1000 * 50% * 10 / 60000 = 0.08333 floored to 0.083
	assert.Equal(t, 0.083, res.Quantity)
	assert.Equal(t, 60010.0, res.EntryPrice)
	assert.Empty(t, res.ProtectionErr)

	require.Len(t, gw.orders, 3)
	sl, tp := gw.orders[1], gw.orders[2]
	assert.Equal(t, exchange.OrderTypeStopMarket, sl.Type)
	assert.Equal(t, exchange.SideSell, sl.Side)
	assert.Equal(t, 58999.5, sl.StopPrice)
	assert.Equal(t, exchange.WorkingTypeMarkPrice, sl.WorkingType)
	assert.Equal(t, exchange.OrderTypeTakeProfitMarket, tp.Type)
	assert.Equal(t, 62000.1, tp.StopPrice)
	assert.Equal(t, 0.083, tp.Qty)
	assert.NotEqual(t, gw.orders[0].ClientID, sl.ClientID)

	msg := <-opened
	assert.Equal(t, events.EventOrderOpened, msg.Type)
}

func TestOpenHalvesRejectedQuantity(t *testing.T) {
	gw := &fakeGateway{rejectMkt: 2}
	obs := &kindCounter{}
	ex := NewExecutor(gw, staticPositions{}, nil, "BTCUSDT", 3, zerolog.Nop())
	ex.Observer = obs

	res, err := ex.Open(context.Background(), buyDecision(), 1000, 50000)
	require.NoError(t, err)

	// default precision 3: 0.1 -> 0.05 -> 0.025
	assert.Equal(t, 0.1, gw.orders[0].Qty)
	assert.Equal(t, 0.05, gw.orders[1].Qty)
	assert.Equal(t, 0.025, gw.orders[2].Qty)
	assert.Equal(t, 0.025, res.Quantity)
	assert.Equal(t, 50000.0, res.EntryPrice, "falls back to reference price without avg price")
	assert.Equal(t, []string{"rejected", "rejected"}, obs.kinds)
}

func TestOpenGivesUpAfterMaxAttempts(t *testing.T) {
	gw := &fakeGateway{rejectMkt: 5}
	bus := events.NewBus()
	failed, unsub := bus.Subscribe(events.EventOrderFailed, 1)
	defer unsub()
	ex := NewExecutor(gw, staticPositions{}, bus, "BTCUSDT", 3, zerolog.Nop())

	_, err := ex.Open(context.Background(), buyDecision(), 1000, 50000)
	require.Error(t, err)
	assert.True(t, exchange.IsRejected(err))
	assert.Len(t, gw.orders, 3)
	<-failed
}

func TestOpenKeepsPositionWhenProtectionFails(t *testing.T) {
	gw := &fakeGateway{failStops: true}
	bus := events.NewBus()
	protect, unsub := bus.Subscribe(events.EventProtectFailed, 1)
	defer unsub()
	ex := NewExecutor(gw, staticPositions{}, bus, "BTCUSDT", 3, zerolog.Nop())

	res, err := ex.Open(context.Background(), buyDecision(), 1000, 50000)
	require.NoError(t, err)
	assert.Contains(t, res.ProtectionErr, "stop loss")
	assert.Contains(t, res.ProtectionErr, "take profit")
	<-protect
}

func TestOpenRejectsNonEntry(t *testing.T) {
	ex := NewExecutor(&fakeGateway{}, staticPositions{}, nil, "BTCUSDT", 3, zerolog.Nop())
	d := buyDecision()
	d.Action = decision.ActionAdd
	_, err := ex.Open(context.Background(), d, 1000, 50000)
	assert.ErrorIs(t, err, ErrNotOpening)

	_, err = ex.Open(context.Background(), buyDecision(), 1000, 0)
	assert.ErrorIs(t, err, ErrBadPrice)

	_, err = ex.Open(context.Background(), buyDecision(), 0.0001, 50000)
	assert.ErrorIs(t, err, ErrZeroQuantity)
}

func TestOpenStopsOnLeverageFailure(t *testing.T) {
	gw := &fakeGateway{leverageFn: exchange.NewAPIError("POST", "/fapi/v1/leverage", 400, -4028, "Leverage 200 is not valid")}
	ex := NewExecutor(gw, staticPositions{}, nil, "BTCUSDT", 3, zerolog.Nop())
	_, err := ex.Open(context.Background(), buyDecision(), 1000, 50000)
	require.Error(t, err)
	assert.Empty(t, gw.orders)
}

func TestCloseShortBuysBack(t *testing.T) {
	gw := &fakeGateway{fill: exchange.OrderResult{AvgPrice: 59000}}
	pos := staticPositions{balance.Account{Positions: []balance.Position{
		{Symbol: "BTCUSDT", Side: balance.SideShort, Size: 0.02},
	}}}
	ex := NewExecutor(gw, pos, nil, "BTCUSDT", 3, zerolog.Nop())

	res, err := ex.Close(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "BUY", res.Side)
	assert.Equal(t, 0.02, res.Quantity)
	assert.Equal(t, 59000.0, res.ClosePrice)
	assert.Equal(t, []string{"BTCUSDT"}, gw.cancelled)
	assert.True(t, gw.orders[0].ReduceOnly)
}

func TestCloseWithoutPosition(t *testing.T) {
	gw := &fakeGateway{}
	ex := NewExecutor(gw, staticPositions{}, nil, "BTCUSDT", 3, zerolog.Nop())
	res, err := ex.Close(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, gw.orders)
}

func TestCloseAll(t *testing.T) {
	gw := &fakeGateway{}
	pos := staticPositions{balance.Account{Positions: []balance.Position{
		{Symbol: "BTCUSDT", Side: balance.SideLong, Size: 0.01},
		{Symbol: "ETHUSDT", Side: balance.SideShort, Size: 0.5},
	}}}
	ex := NewExecutor(gw, pos, nil, "BTCUSDT", 3, zerolog.Nop())
	res, err := ex.CloseAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "SELL", res[0].Side)
	assert.Equal(t, "BUY", res[1].Side)
}

func TestCalculatePnL(t *testing.T) {
	assert.InDelta(t, 9.5, CalculatePnL("BUY", 1, 100, 110, 0.5), 1e-9)
	assert.InDelta(t, 20, CalculatePnL("SELL", -2, 100, 90, 0), 1e-9)
	assert.Equal(t, 0.0, CalculatePnL("BUY", 0, 100, 110, 1))
}
