// Package api provides the upstream exchange REST client.
//
// Public endpoints (no signature):
//   - /api/v5/public/instruments
//   - /api/v5/market/tickers, /api/v5/market/ticker
//   - /api/v5/market/candles, /api/v5/market/history-candles
//
// Private endpoints (signed with internal/auth):
//   - /api/v5/account/balance, /api/v5/account/positions
//   - /api/v5/trade/orders-pending, /api/v5/trade/fills
//
// Every response is wrapped in {"code","msg","data"}; a non-"0" code is
// returned as *APIError even when the HTTP status is 200.
package api
