package api

import (
	"context"
	"fmt"
	"net/url"
)

// GetBalance fetches the account balance summary.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var resp []Balance
	if err := c.get(ctx, "/api/v5/account/balance", nil, true, &resp); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("get balance: empty response")
	}
	return &resp[0], nil
}

// GetPositions fetches every open position.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var resp []Position
	if err := c.get(ctx, "/api/v5/account/positions", nil, true, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return resp, nil
}

// GetPendingOrders fetches every working order, optionally for one instrument.
func (c *Client) GetPendingOrders(ctx context.Context, instID string) ([]Order, error) {
	var query url.Values
	if instID != "" {
		query = url.Values{"instId": {instID}}
	}

	var resp []Order
	if err := c.get(ctx, "/api/v5/trade/orders-pending", query, true, &resp); err != nil {
		return nil, fmt.Errorf("get pending orders: %w", err)
	}
	return resp, nil
}

// GetFills fetches recent fills, optionally for one instrument.
func (c *Client) GetFills(ctx context.Context, instID string) ([]Fill, error) {
	var query url.Values
	if instID != "" {
		query = url.Values{"instId": {instID}}
	}

	var resp []Fill
	if err := c.get(ctx, "/api/v5/trade/fills", query, true, &resp); err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	return resp, nil
}
