package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	FuturesStreamURL = "wss://fstream.binance.com/ws"
	TestnetStreamURL = "wss://stream.binancefuture.com/ws"
)

// StreamClient dials the futures websocket and subscribes to raw streams.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client. An empty streamURL selects
// mainnet or testnet.
func NewStreamClient(streamURL string, testnet bool) *StreamClient {
	if streamURL == "" {
		streamURL = FuturesStreamURL
		if testnet {
			streamURL = TestnetStreamURL
		}
	}
	return &StreamClient{
		StreamURL: streamURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// StreamNames lists the raw streams for a symbol: one kline stream per
// interval, aggregated trades and the top-20 book.
func StreamNames(symbol string, intervals []string) []string {
	// Binance requires lowercase symbols for WebSocket streams
	s := strings.ToLower(symbol)
	out := make([]string, 0, len(intervals)+2)
	for _, iv := range intervals {
		out = append(out, fmt.Sprintf("%s@kline_%s", s, iv))
	}
	return append(out, s+"@aggTrade", s+"@depth20@100ms")
}

// Connect dials and sends one SUBSCRIBE request for streams.
func (c *StreamClient) Connect(ctx context.Context, streams []string) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws: %w", err)
	}
	sub := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: streams, ID: 1}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe binance ws: %w", err)
	}
	return conn, nil
}

// Ping keeps the connection alive. A socket already closing is not an
// error.
func (c *StreamClient) Ping(conn *websocket.Conn, wait time.Duration) error {
	err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// EventType tags a decoded stream message.
type EventType int

const (
	EventUnknown EventType = iota
	EventKline
	EventTrade
	EventDepth
	EventAck
)

// Event is one decoded stream message; only the field matching Type is set.
type Event struct {
	Type  EventType
	Kline Kline
	Trade Trade
	Depth DepthUpdate
}

// ParseMessage decodes a raw or combined-stream message.
func ParseMessage(msg []byte) (Event, error) {
	var head struct {
		Event  string          `json:"e"`
		ID     *int            `json:"id"`
		Data   json.RawMessage `json:"data"`
		Bids   json.RawMessage `json:"bids"`
		Asks   json.RawMessage `json:"asks"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return Event{}, err
	}
	if len(head.Data) > 0 && !bytes.Equal(head.Data, []byte("null")) {
		return ParseMessage(head.Data)
	}

	switch {
	case head.Event == "kline":
		k, err := parseKlineMessage(msg)
		return Event{Type: EventKline, Kline: k}, err
	case head.Event == "aggTrade" || head.Event == "trade":
		t, err := parseTradeMessage(msg)
		return Event{Type: EventTrade, Trade: t}, err
	case head.Event == "depthUpdate" || len(head.Bids) > 0 || len(head.Asks) > 0:
		d, err := parseDepthMessage(msg)
		return Event{Type: EventDepth, Depth: d}, err
	case head.ID != nil:
		return Event{Type: EventAck}, nil
	}
	return Event{Type: EventUnknown}, nil
}

// parseKlineMessage decodes only the fields we need.
func parseKlineMessage(msg []byte) (Kline, error) {
	var raw struct {
		Data struct {
			StartTime int64       `json:"t"`
			CloseTime int64       `json:"T"`
			Symbol    string      `json:"s"`
			Interval  string      `json:"i"`
			Open      interface{} `json:"o"`
			Close     interface{} `json:"c"`
			High      interface{} `json:"h"`
			Low       interface{} `json:"l"`
			Volume    interface{} `json:"v"`
			Quote     interface{} `json:"q"`
			Trades    interface{} `json:"n"`
			TakerBase interface{} `json:"V"`
			Closed    bool        `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Kline{}, err
	}
	return Kline{
		Symbol:             raw.Data.Symbol,
		Interval:           raw.Data.Interval,
		OpenTime:           raw.Data.StartTime,
		CloseTime:          raw.Data.CloseTime,
		Open:               toFloat(raw.Data.Open),
		Close:              toFloat(raw.Data.Close),
		High:               toFloat(raw.Data.High),
		Low:                toFloat(raw.Data.Low),
		Volume:             toFloat(raw.Data.Volume),
		QuoteVolume:        toFloat(raw.Data.Quote),
		NumberOfTrades:     toInt(raw.Data.Trades),
		TakerBuyBaseVolume: toFloat(raw.Data.TakerBase),
		Closed:             raw.Data.Closed,
	}, nil
}

func parseTradeMessage(msg []byte) (Trade, error) {
	var raw struct {
		Symbol    string      `json:"s"`
		Price     interface{} `json:"p"`
		Qty       interface{} `json:"q"`
		TradeTime interface{} `json:"T"`
		BuyerIsMM bool        `json:"m"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Trade{}, err
	}
	return Trade{
		Symbol:       raw.Symbol,
		Price:        toFloat(raw.Price),
		Qty:          toFloat(raw.Qty),
		Time:         toInt64(raw.TradeTime),
		IsBuyerMaker: raw.BuyerIsMM,
	}, nil
}

// parseDepthMessage accepts both the futures "b"/"a" layout and the
// "bids"/"asks" partial-book layout.
func parseDepthMessage(msg []byte) (DepthUpdate, error) {
	var raw struct {
		Symbol string          `json:"s"`
		Time   interface{}     `json:"E"`
		Bids   [][]interface{} `json:"b"`
		Asks   [][]interface{} `json:"a"`
		BidsPB [][]interface{} `json:"bids"`
		AsksPB [][]interface{} `json:"asks"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return DepthUpdate{}, err
	}
	bids, asks := raw.Bids, raw.Asks
	if len(bids) == 0 && len(asks) == 0 {
		bids, asks = raw.BidsPB, raw.AsksPB
	}
	return DepthUpdate{
		Symbol: raw.Symbol,
		Bids:   toLevels(bids),
		Asks:   toLevels(asks),
		Time:   toInt64(raw.Time),
	}, nil
}
