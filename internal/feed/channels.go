package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/connection"
)

func decodeData[T any](f *connection.DataFrame) ([]T, error) {
	var rows []T
	if err := json.Unmarshal(f.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s push: %w", f.Arg.Channel, err)
	}
	return rows, nil
}

func dataEvents[T any](rows []T) []Event {
	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = Event{Kind: EventData, Payload: r}
	}
	return events
}

// QuotesChannel streams the ticker of one instrument.
type QuotesChannel struct {
	InstID string
}

func (c *QuotesChannel) Kind() string       { return "quotes" }
func (c *QuotesChannel) Endpoint() Endpoint { return EndpointPublic }
func (c *QuotesChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "tickers", InstID: c.InstID}}
}

func (c *QuotesChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	rows, err := decodeData[api.Ticker](f)
	if err != nil {
		return nil, err
	}
	return dataEvents(rows), nil
}

// bookPush is one element of a books push.
type bookPush struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

// BookChannel maintains an OrderBookState from the 400-level books
// channel and emits a sorted view truncated to Depth on every push.
// Snapshot views are marked Existing.
type BookChannel struct {
	InstID string
	Depth  int

	state   *OrderBookState
	synced  bool
	lastSeq int64
}

func (c *BookChannel) Kind() string       { return "book" }
func (c *BookChannel) Endpoint() Endpoint { return EndpointPublic }
func (c *BookChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "books", InstID: c.InstID}}
}

// Reset forgets sequence tracking; the next push must be a snapshot.
func (c *BookChannel) Reset() {
	c.synced = false
	c.lastSeq = 0
}

func (c *BookChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	if c.state == nil {
		c.state = NewOrderBookState(c.InstID)
	}

	rows, err := decodeData[bookPush](f)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, p := range rows {
		snapshot := f.Action == "snapshot"
		switch {
		case snapshot:
			if err := c.state.ApplySnapshot(p.Bids, p.Asks); err != nil {
				return nil, err
			}
			c.synced = true
		case !c.synced:
			continue
		default:
			// prevSeqId == seqId is a heartbeat update with no changes.
			if c.lastSeq != 0 && p.PrevSeqID != c.lastSeq {
				return nil, fmt.Errorf("%w: prev %d, last %d", ErrSequenceGap, p.PrevSeqID, c.lastSeq)
			}
			if err := c.state.ApplyDelta(p.Bids, p.Asks); err != nil {
				return nil, err
			}
		}
		c.lastSeq = p.SeqID

		view := c.state.View(c.Depth)
		view.Ts, _ = strconv.ParseInt(p.Ts, 10, 64)
		view.Snapshot = snapshot
		events = append(events, Event{Kind: EventData, Existing: snapshot, Payload: view})
	}
	return events, nil
}

// BarsChannel streams candles for one instrument, after backfilling
// history from From. After a reconnect the backfill resumes from the last
// bar emitted. Bars older than the last one emitted are dropped so the
// output is time-ordered; a bar with the same timestamp is an update of
// the current bar.
type BarsChannel struct {
	InstID   string
	Bar      string // upstream bar, e.g. "1m", "1Dutc"
	From     int64  // backfill start, ms; 0 skips the backfill
	Source   CandleSource
	MaxPages int

	last int64
}

func (c *BarsChannel) Kind() string       { return "bars" }
func (c *BarsChannel) Endpoint() Endpoint { return EndpointBusiness }
func (c *BarsChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "candle" + c.Bar, InstID: c.InstID}}
}

func (c *BarsChannel) Snapshot(ctx context.Context) ([]Event, error) {
	from := c.From
	if c.last > 0 {
		from = c.last
	}
	if c.Source == nil || from <= 0 {
		return nil, nil
	}
	pages := c.MaxPages
	if pages <= 0 {
		pages = 10
	}

	candles, err := c.Source.GetCandlesSince(ctx, c.InstID, c.Bar, from, pages)
	if err != nil {
		return nil, err
	}
	return c.accept(candles), nil
}

func (c *BarsChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	rows, err := decodeData[[]string](f)
	if err != nil {
		return nil, err
	}
	candles := make([]api.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := api.ParseCandle(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return c.accept(candles), nil
}

func (c *BarsChannel) accept(candles []api.Candle) []Event {
	var events []Event
	for _, candle := range candles {
		if candle.Ts < c.last {
			continue
		}
		c.last = candle.Ts
		events = append(events, Event{Kind: EventData, Payload: candle})
	}
	return events
}

// OrdersChannel streams order updates, optionally for one instrument.
type OrdersChannel struct {
	InstID string
	Source PortfolioSource // nil skips existing orders
}

func (c *OrdersChannel) Kind() string       { return "orders" }
func (c *OrdersChannel) Endpoint() Endpoint { return EndpointPrivate }
func (c *OrdersChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "orders", InstType: api.InstTypeAny, InstID: c.InstID}}
}

func (c *OrdersChannel) Snapshot(ctx context.Context) ([]Event, error) {
	if c.Source == nil {
		return nil, nil
	}
	orders, err := c.Source.GetPendingOrders(ctx, c.InstID)
	if err != nil {
		return nil, err
	}
	return dataEvents(orders), nil
}

func (c *OrdersChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	rows, err := decodeData[api.Order](f)
	if err != nil {
		return nil, err
	}
	return dataEvents(rows), nil
}

// TradesChannel streams own fills. Fills are taken from order updates
// that carry a non-zero fill size. Fills already delivered are not
// repeated when the snapshot runs again after a reconnect.
type TradesChannel struct {
	InstID string
	Source PortfolioSource

	seen map[string]struct{}
}

func (c *TradesChannel) Kind() string       { return "trades" }
func (c *TradesChannel) Endpoint() Endpoint { return EndpointPrivate }
func (c *TradesChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "orders", InstType: api.InstTypeAny, InstID: c.InstID}}
}

func (c *TradesChannel) Snapshot(ctx context.Context) ([]Event, error) {
	if c.Source == nil {
		return nil, nil
	}
	fills, err := c.Source.GetFills(ctx, c.InstID)
	if err != nil {
		return nil, err
	}
	// Upstream returns newest first.
	for i, j := 0, len(fills)-1; i < j; i, j = i+1, j-1 {
		fills[i], fills[j] = fills[j], fills[i]
	}

	// Only the fetched window can come back, so older ids are forgotten.
	seen := make(map[string]struct{}, len(fills))
	fresh := fills[:0]
	for _, f := range fills {
		key := fillKey(f)
		if _, dup := c.seen[key]; !dup {
			fresh = append(fresh, f)
		}
		seen[key] = struct{}{}
	}
	c.seen = seen
	return dataEvents(fresh), nil
}

func fillKey(f api.Fill) string { return f.OrdID + "/" + f.TradeID }

func (c *TradesChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	rows, err := decodeData[api.Order](f)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, o := range rows {
		fill, ok := FillFromOrder(o)
		if !ok {
			continue
		}
		key := fillKey(fill)
		if _, dup := c.seen[key]; dup {
			continue
		}
		if c.seen == nil {
			c.seen = make(map[string]struct{})
		}
		c.seen[key] = struct{}{}
		events = append(events, Event{Kind: EventData, Payload: fill})
	}
	return events, nil
}

// FillFromOrder extracts the latest fill from an order update.
func FillFromOrder(o api.Order) (api.Fill, bool) {
	sz, err := decimal.NewFromString(o.FillSz)
	if err != nil || !sz.IsPositive() {
		return api.Fill{}, false
	}
	ts := o.FillTime
	if ts == "" {
		ts = o.UTime
	}
	return api.Fill{
		InstType: o.InstType,
		InstID:   o.InstID,
		TradeID:  o.TradeID,
		OrdID:    o.OrdID,
		ClOrdID:  o.ClOrdID,
		FillPx:   o.FillPx,
		FillSz:   o.FillSz,
		Side:     o.Side,
		ExecType: o.ExecType,
		Fee:      o.FillFee,
		FeeCcy:   o.FillFeeCcy,
		Ts:       ts,
	}, true
}

// PositionsChannel streams positions.
type PositionsChannel struct {
	InstID string
	Source PortfolioSource
}

func (c *PositionsChannel) Kind() string       { return "positions" }
func (c *PositionsChannel) Endpoint() Endpoint { return EndpointPrivate }
func (c *PositionsChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "positions", InstType: api.InstTypeAny, InstID: c.InstID}}
}

func (c *PositionsChannel) Snapshot(ctx context.Context) ([]Event, error) {
	if c.Source == nil {
		return nil, nil
	}
	positions, err := c.Source.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	if c.InstID != "" {
		kept := positions[:0]
		for _, p := range positions {
			if p.InstID == c.InstID {
				kept = append(kept, p)
			}
		}
		positions = kept
	}
	return dataEvents(positions), nil
}

func (c *PositionsChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	rows, err := decodeData[api.Position](f)
	if err != nil {
		return nil, err
	}
	return dataEvents(rows), nil
}

// SummariesChannel streams the account balance.
type SummariesChannel struct {
	Source PortfolioSource
}

func (c *SummariesChannel) Kind() string       { return "summaries" }
func (c *SummariesChannel) Endpoint() Endpoint { return EndpointPrivate }
func (c *SummariesChannel) Args() []connection.ChannelArg {
	return []connection.ChannelArg{{Channel: "account"}}
}

func (c *SummariesChannel) Snapshot(ctx context.Context) ([]Event, error) {
	if c.Source == nil {
		return nil, nil
	}
	bal, err := c.Source.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	return []Event{{Kind: EventData, Payload: *bal}}, nil
}

func (c *SummariesChannel) Handle(f *connection.DataFrame) ([]Event, error) {
	rows, err := decodeData[api.Balance](f)
	if err != nil {
		return nil, err
	}
	return dataEvents(rows), nil
}
