package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, routes map[string]string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":-1,"msg":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, true, 0, 1000)
}

func TestGetKlines(t *testing.T) {
	c := newServer(t, map[string]string{
		"/fapi/v1/klines": `[[1000,"1","2","0.5","1.5","10",1999,"15",7,"6","9","0"],[2000,"1.5"]]`,
	})
	ks, err := c.GetKlines(context.Background(), "BTCUSDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, ks, 1)
	assert.Equal(t, int64(1000), ks[0].OpenTime)
	assert.InDelta(t, 6.0, ks[0].TakerBuyBaseVolume, 1e-9)
	assert.Equal(t, 7, ks[0].NumberOfTrades)
}

func TestSentimentEndpoints(t *testing.T) {
	c := newServer(t, map[string]string{
		"/fapi/v1/premiumIndex":                   `{"symbol":"BTCUSDT","markPrice":"60000.1","indexPrice":"59990","lastFundingRate":"0.0001","nextFundingTime":1700000000000}`,
		"/fapi/v1/openInterest":                   `{"symbol":"BTCUSDT","openInterest":"1234.5","time":1}`,
		"/futures/data/topLongShortAccountRatio": `[]`,
		"/fapi/v1/depth":                          `{"lastUpdateId":9,"bids":[["100","1"]],"asks":[["101","2"]]}`,
	})
	ctx := context.Background()

	pi, err := c.PremiumIndex(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, pi.LastFundingRate, 1e-12)
	assert.Equal(t, int64(1700000000000), pi.NextFundingTime)

	oi, err := c.OpenInterest(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1234.5, oi.OpenInterest, 1e-9)

	_, err = c.TopLongShortAccountRatio(ctx, "BTCUSDT", "5m")
	assert.ErrorIs(t, err, ErrNoData)

	ob, err := c.Depth(ctx, "BTCUSDT", 20)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{101, 2}, ob.Asks[0])
}

func TestStatusError(t *testing.T) {
	c := newServer(t, nil)
	_, err := c.ServerTime(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
}
