package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrNoData is returned when an endpoint answers with an empty list.
var ErrNoData = errors.New("binance market data: empty response")

// PremiumIndex returns mark price and funding data.
func (c *Client) PremiumIndex(ctx context.Context, symbol string) (PremiumIndex, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return PremiumIndex{}, err
	}
	var raw struct {
		Symbol          string `json:"symbol"`
		MarkPrice       any    `json:"markPrice"`
		IndexPrice      any    `json:"indexPrice"`
		LastFundingRate any    `json:"lastFundingRate"`
		NextFundingTime any    `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return PremiumIndex{}, fmt.Errorf("decode premium index: %w", err)
	}
	return PremiumIndex{
		Symbol:          raw.Symbol,
		MarkPrice:       toFloat(raw.MarkPrice),
		IndexPrice:      toFloat(raw.IndexPrice),
		LastFundingRate: toFloat(raw.LastFundingRate),
		NextFundingTime: toInt64(raw.NextFundingTime),
	}, nil
}

// OpenInterest returns current open interest.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, "/fapi/v1/openInterest", params)
	if err != nil {
		return OpenInterest{}, err
	}
	var raw struct {
		Symbol       string `json:"symbol"`
		OpenInterest any    `json:"openInterest"`
		Time         any    `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OpenInterest{}, fmt.Errorf("decode open interest: %w", err)
	}
	return OpenInterest{Symbol: raw.Symbol, OpenInterest: toFloat(raw.OpenInterest), Time: toInt64(raw.Time)}, nil
}

// TopLongShortAccountRatio returns the latest top-trader account ratio.
func (c *Client) TopLongShortAccountRatio(ctx context.Context, symbol, period string) (LongShortRatio, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("period", period)
	params.Set("limit", "1")
	body, err := c.do(ctx, "/futures/data/topLongShortAccountRatio", params)
	if err != nil {
		return LongShortRatio{}, err
	}
	var raw []struct {
		Symbol         string `json:"symbol"`
		LongAccount    any    `json:"longAccount"`
		ShortAccount   any    `json:"shortAccount"`
		LongShortRatio any    `json:"longShortRatio"`
		Timestamp      any    `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return LongShortRatio{}, fmt.Errorf("decode long/short ratio: %w", err)
	}
	if len(raw) == 0 {
		return LongShortRatio{}, ErrNoData
	}
	r := raw[0]
	return LongShortRatio{
		Symbol:         r.Symbol,
		LongAccount:    toFloat(r.LongAccount),
		ShortAccount:   toFloat(r.ShortAccount),
		LongShortRatio: toFloat(r.LongShortRatio),
		Timestamp:      toInt64(r.Timestamp),
	}, nil
}

// Depth returns an order book snapshot.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, "/fapi/v1/depth", params)
	if err != nil {
		return OrderBook{}, err
	}
	var raw struct {
		LastUpdateID int64   `json:"lastUpdateId"`
		Bids         [][]any `json:"bids"`
		Asks         [][]any `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderBook{}, fmt.Errorf("decode depth: %w", err)
	}
	return OrderBook{LastUpdateID: raw.LastUpdateID, Bids: toLevels(raw.Bids), Asks: toLevels(raw.Asks)}, nil
}
