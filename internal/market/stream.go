package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	binance "signal-core/pkg/market/binance"
)

// Dialer opens a subscribed stream connection and keeps it alive.
// *binance.StreamClient satisfies it.
type Dialer interface {
	Connect(ctx context.Context, streams []string) (*websocket.Conn, error)
	Ping(conn *websocket.Conn, wait time.Duration) error
}

// Observer receives feed telemetry. All methods must be cheap.
type Observer interface {
	ObserveReconnect()
	ObserveMessage(kind string)
	ObserveCandleClose(interval string)
}

// StreamConfig configures a StreamFeed.
type StreamConfig struct {
	Symbol         string
	Intervals      []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	TradeBuffer    int
	FlowWindow     time.Duration
}

func (c *StreamConfig) setDefaults() {
	if len(c.Intervals) == 0 {
		c.Intervals = []string{"5m", "1m"}
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.TradeBuffer <= 0 {
		c.TradeBuffer = 500
	}
	if c.FlowWindow <= 0 {
		c.FlowWindow = DefaultFlowWindow
	}
}

// ConnState is the connection lifecycle of the feed.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// CloseFlag is the edge-triggered close marker of one interval.
type CloseFlag struct {
	Closed       bool `json:"closed"`
	Acknowledged bool `json:"acknowledged"`
}

// FeedSnapshot is a point-in-time copy of everything the feed tracks.
type FeedSnapshot struct {
	Symbol      string               `json:"symbol"`
	Price       float64              `json:"price"`
	PriceTime   int64                `json:"price_ts"`
	LastMessage int64                `json:"last_msg_ts"`
	Connected   bool                 `json:"connected"`
	State       string               `json:"state"`
	Book        OrderBookSnapshot    `json:"book"`
	Flow        FlowStats            `json:"flow"`
	Closes      map[string]CloseFlag `json:"closes"`
}

// StreamFeed owns one websocket connection for a symbol. The background
// loop is the only writer of the shared state; readers go through the
// accessor methods which copy under the same lock.
//
// Close flags coalesce: a close arriving before the previous one for the
// same interval was acknowledged overwrites it, and the earlier close is
// lost. Closes() is a wake-up only; the flags decide.
type StreamFeed struct {
	cfg      StreamConfig
	dialer   Dialer
	log      zerolog.Logger
	observer Observer
	now      func() time.Time

	mu        sync.RWMutex
	state     ConnState
	price     float64
	priceTS   int64
	lastMsgTS int64
	book      OrderBookSnapshot
	trades    *tradeRing
	flags     map[string]*CloseFlag

	closes chan string

	runMu   sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStreamFeed builds a feed; call Start to connect.
func NewStreamFeed(cfg StreamConfig, dialer Dialer, log zerolog.Logger) *StreamFeed {
	cfg.setDefaults()
	flags := make(map[string]*CloseFlag, len(cfg.Intervals))
	for _, iv := range cfg.Intervals {
		flags[iv] = &CloseFlag{}
	}
	return &StreamFeed{
		cfg:    cfg,
		dialer: dialer,
		log:    log.With().Str("component", "stream_feed").Str("symbol", cfg.Symbol).Logger(),
		now:    time.Now,
		book:   EmptyBook(),
		trades: newTradeRing(cfg.TradeBuffer),
		flags:  flags,
		closes: make(chan string, 1),
	}
}

// SetObserver attaches telemetry. Call before Start.
func (f *StreamFeed) SetObserver(o Observer) { f.observer = o }

// Start spawns the connection loop. Calling it again, or after Stop, does
// nothing.
func (f *StreamFeed) Start(ctx context.Context) {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.started || f.stopped {
		return
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.run(ctx)
}

// Stop closes the socket and waits for the loop to exit. The feed does
// not reconnect afterwards.
func (f *StreamFeed) Stop() {
	f.runMu.Lock()
	f.stopped = true
	cancel, done := f.cancel, f.done
	f.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *StreamFeed) run(ctx context.Context) {
	defer close(f.done)
	streams := binance.StreamNames(f.cfg.Symbol, f.cfg.Intervals)

	for {
		f.setState(StateConnecting)
		err := f.session(ctx, streams)
		f.setState(StateDisconnected)
		if ctx.Err() != nil {
			f.log.Info().Msg("stream feed stopped")
			return
		}

		f.log.Warn().Err(err).Dur("backoff", f.cfg.ReconnectDelay).Msg("stream disconnected, reconnecting")
		if f.observer != nil {
			f.observer.ObserveReconnect()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (f *StreamFeed) session(ctx context.Context, streams []string) error {
	conn, err := f.dialer.Connect(ctx, streams)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.setState(StateConnected)
	f.log.Info().Strs("streams", streams).Msg("stream connected")

	readWait := f.cfg.PingInterval + f.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go f.keepalive(ctx, conn, sessionDone)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		f.handle(msg)
	}
}

// keepalive pings on an interval and closes the socket when ctx ends so
// the blocked reader returns.
func (f *StreamFeed) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := f.dialer.Ping(conn, f.cfg.PongTimeout); err != nil {
				f.log.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

func (f *StreamFeed) handle(msg []byte) {
	ev, err := binance.ParseMessage(msg)
	if err != nil {
		f.log.Debug().Err(err).Msg("undecodable stream message")
		return
	}
	nowMS := f.now().UnixMilli()

	var closed string
	f.mu.Lock()
	f.lastMsgTS = nowMS
	switch ev.Type {
	case binance.EventKline:
		f.price, f.priceTS = ev.Kline.Close, nowMS
		if flag, ok := f.flags[ev.Kline.Interval]; ok && ev.Kline.Closed {
			flag.Closed, flag.Acknowledged = true, false
			closed = ev.Kline.Interval
		}
	case binance.EventTrade:
		f.price, f.priceTS = ev.Trade.Price, nowMS
		f.trades.add(TradePrint{Time: nowMS, Qty: ev.Trade.Qty, IsBuy: ev.Trade.IsBuy()})
	case binance.EventDepth:
		// half-empty books are skipped, the previous snapshot stays
		if len(ev.Depth.Bids) > 0 && len(ev.Depth.Asks) > 0 {
			f.book = SummarizeBook(ev.Depth.Bids, ev.Depth.Asks)
		}
	}
	f.mu.Unlock()

	if f.observer != nil {
		f.observer.ObserveMessage(eventKind(ev.Type))
	}
	if closed == "" {
		return
	}
	f.log.Debug().Str("interval", closed).Msg("candle closed")
	if f.observer != nil {
		f.observer.ObserveCandleClose(closed)
	}
	select {
	case f.closes <- closed:
	default:
	}
}

func eventKind(t binance.EventType) string {
	switch t {
	case binance.EventKline:
		return "kline"
	case binance.EventTrade:
		return "trade"
	case binance.EventDepth:
		return "depth"
	case binance.EventAck:
		return "ack"
	}
	return "unknown"
}

func (f *StreamFeed) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// State returns the connection state.
func (f *StreamFeed) State() ConnState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Connected reports whether the socket is subscribed.
func (f *StreamFeed) Connected() bool { return f.State() == StateConnected }

// Closes delivers an interval name whenever its close flag is set. It is
// a coalescing wake-up; check IsCandleClosed before acting.
func (f *StreamFeed) Closes() <-chan string { return f.closes }

// IsCandleClosed reports an unacknowledged close for interval.
func (f *StreamFeed) IsCandleClosed(interval string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	flag, ok := f.flags[interval]
	return ok && flag.Closed && !flag.Acknowledged
}

// AckCandleClose clears the close flag for interval.
func (f *StreamFeed) AckCandleClose(interval string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if flag, ok := f.flags[interval]; ok {
		flag.Acknowledged = true
	}
}

// Price returns the last traded or kline close price and its local
// timestamp in milliseconds.
func (f *StreamFeed) Price() (float64, int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, f.priceTS
}

// Book returns the live order-book snapshot.
func (f *StreamFeed) Book() OrderBookSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.book
}

// Flow summarizes trades newer than window; zero means the configured
// window.
func (f *StreamFeed) Flow(window time.Duration) FlowStats {
	if window <= 0 {
		window = f.cfg.FlowWindow
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trades.flow(f.now(), window)
}

// Snapshot copies the whole feed state under one lock.
func (f *StreamFeed) Snapshot() FeedSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	closes := make(map[string]CloseFlag, len(f.flags))
	for iv, flag := range f.flags {
		closes[iv] = *flag
	}
	return FeedSnapshot{
		Symbol:      f.cfg.Symbol,
		Price:       f.price,
		PriceTime:   f.priceTS,
		LastMessage: f.lastMsgTS,
		Connected:   f.state == StateConnected,
		State:       f.state.String(),
		Book:        f.book,
		Flow:        f.trades.flow(f.now(), f.cfg.FlowWindow),
		Closes:      closes,
	}
}

// Symbol returns the tracked symbol.
func (f *StreamFeed) Symbol() string { return f.cfg.Symbol }
