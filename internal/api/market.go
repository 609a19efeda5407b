package api

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// ListInstruments fetches every instrument of one class.
func (c *Client) ListInstruments(ctx context.Context, instType string) ([]Instrument, error) {
	query := url.Values{}
	query.Set("instType", instType)

	var resp []Instrument
	if err := c.get(ctx, "/api/v5/public/instruments", query, false, &resp); err != nil {
		return nil, fmt.Errorf("list instruments %s: %w", instType, err)
	}
	return resp, nil
}

// ListTickers fetches the latest ticker of every instrument of one class.
func (c *Client) ListTickers(ctx context.Context, instType string) ([]Ticker, error) {
	query := url.Values{}
	query.Set("instType", instType)

	var resp []Ticker
	if err := c.get(ctx, "/api/v5/market/tickers", query, false, &resp); err != nil {
		return nil, fmt.Errorf("list tickers %s: %w", instType, err)
	}
	return resp, nil
}

// GetTicker fetches the latest ticker for one instrument.
func (c *Client) GetTicker(ctx context.Context, instID string) (*Ticker, error) {
	query := url.Values{}
	query.Set("instId", instID)

	var resp []Ticker
	if err := c.get(ctx, "/api/v5/market/ticker", query, false, &resp); err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", instID, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("get ticker %s: empty response", instID)
	}
	return &resp[0], nil
}

// GetCandles fetches recent candles. Results are ordered oldest first.
func (c *Client) GetCandles(ctx context.Context, opts CandlesOptions) ([]Candle, error) {
	return c.candles(ctx, "/api/v5/market/candles", opts)
}

// GetHistoryCandles fetches older candles. Results are ordered oldest first.
func (c *Client) GetHistoryCandles(ctx context.Context, opts CandlesOptions) ([]Candle, error) {
	return c.candles(ctx, "/api/v5/market/history-candles", opts)
}

// GetCandlesSince pages backwards from now until from (ms) is covered and
// returns every candle with Ts >= from, oldest first.
func (c *Client) GetCandlesSince(ctx context.Context, instID, bar string, from int64, maxPages int) ([]Candle, error) {
	var all []Candle
	after := int64(0)

	for page := 0; page < maxPages; page++ {
		path := "/api/v5/market/candles"
		if page > 0 {
			path = "/api/v5/market/history-candles"
		}
		batch, err := c.candles(ctx, path, CandlesOptions{InstID: instID, Bar: bar, After: after, Limit: 100})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		all = append(all, batch...)
		oldest := batch[0].Ts
		if oldest <= from {
			break
		}
		after = oldest
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Ts < all[j].Ts })

	out := all[:0]
	var last int64 = -1
	for _, candle := range all {
		if candle.Ts < from || candle.Ts == last {
			continue
		}
		out = append(out, candle)
		last = candle.Ts
	}
	return out, nil
}

func (c *Client) candles(ctx context.Context, path string, opts CandlesOptions) ([]Candle, error) {
	query := url.Values{}
	query.Set("instId", opts.InstID)
	if opts.Bar != "" {
		query.Set("bar", opts.Bar)
	}
	if opts.After > 0 {
		query.Set("after", strconv.FormatInt(opts.After, 10))
	}
	if opts.Before > 0 {
		query.Set("before", strconv.FormatInt(opts.Before, 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var rows [][]string
	if err := c.get(ctx, path, query, false, &rows); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", opts.InstID, err)
	}

	// Upstream returns newest first.
	candles := make([]Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		candle, err := ParseCandle(rows[i])
		if err != nil {
			return nil, fmt.Errorf("get candles %s: %w", opts.InstID, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
