package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamNames(t *testing.T) {
	got := StreamNames("BTCUSDT", []string{"5m", "1m"})
	assert.Equal(t, []string{"btcusdt@kline_5m", "btcusdt@kline_1m", "btcusdt@aggTrade", "btcusdt@depth20@100ms"}, got)
}

func TestParseMessage(t *testing.T) {
	t.Run("kline", func(t *testing.T) {
		ev, err := ParseMessage([]byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1,"T":2,"s":"BTCUSDT","i":"5m","o":"100","h":"110","l":"90","c":"105","v":"12.5","V":"7","x":true}}`))
		require.NoError(t, err)
		require.Equal(t, EventKline, ev.Type)
		assert.Equal(t, "5m", ev.Kline.Interval)
		assert.True(t, ev.Kline.Closed)
		assert.InDelta(t, 105.0, ev.Kline.Close, 1e-9)
		assert.InDelta(t, 7.0, ev.Kline.TakerBuyBaseVolume, 1e-9)
	})

	t.Run("agg trade", func(t *testing.T) {
		ev, err := ParseMessage([]byte(`{"e":"aggTrade","s":"BTCUSDT","p":"100.5","q":"0.2","T":99,"m":true}`))
		require.NoError(t, err)
		require.Equal(t, EventTrade, ev.Type)
		assert.False(t, ev.Trade.IsBuy())
		assert.Equal(t, int64(99), ev.Trade.Time)
	})

	t.Run("depth futures layout", func(t *testing.T) {
		ev, err := ParseMessage([]byte(`{"e":"depthUpdate","s":"BTCUSDT","b":[["100","2"],["99","1"]],"a":[["101","3"]]}`))
		require.NoError(t, err)
		require.Equal(t, EventDepth, ev.Type)
		assert.Equal(t, [2]float64{100, 2}, ev.Depth.Bids[0])
		assert.Len(t, ev.Depth.Asks, 1)
	})

	t.Run("depth partial book layout", func(t *testing.T) {
		ev, err := ParseMessage([]byte(`{"lastUpdateId":5,"bids":[["100","2"]],"asks":[["101","3"]]}`))
		require.NoError(t, err)
		require.Equal(t, EventDepth, ev.Type)
		assert.Equal(t, [2]float64{101, 3}, ev.Depth.Asks[0])
	})

	t.Run("combined stream", func(t *testing.T) {
		ev, err := ParseMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","p":"1","q":"1","m":false}}`))
		require.NoError(t, err)
		assert.Equal(t, EventTrade, ev.Type)
		assert.True(t, ev.Trade.IsBuy())
	})

	t.Run("subscribe ack", func(t *testing.T) {
		ev, err := ParseMessage([]byte(`{"result":null,"id":1}`))
		require.NoError(t, err)
		assert.Equal(t, EventAck, ev.Type)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseMessage([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestConnectSendsSubscribe(t *testing.T) {
	got := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
	}))
	defer srv.Close()

	c := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), true)
	conn, err := c.Connect(context.Background(), []string{"btcusdt@aggTrade"})
	require.NoError(t, err)
	defer conn.Close()

	msg := <-got
	assert.Equal(t, "SUBSCRIBE", msg["method"])
	assert.Equal(t, []any{"btcusdt@aggTrade"}, msg["params"])
}

func TestPing(t *testing.T) {
	pinged := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(data string) error {
			pinged <- data
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), true)
	conn, err := c.Connect(context.Background(), []string{"btcusdt@aggTrade"})
	require.NoError(t, err)

	require.NoError(t, c.Ping(conn, time.Second))
	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatal("server saw no ping")
	}

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.NoError(t, c.Ping(conn, time.Second), "ping after close frame is not an error")
	_ = conn.Close()
}
