package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/connection"
)

func bookFrame(action, data string) *connection.DataFrame {
	return &connection.DataFrame{
		Arg:    connection.ChannelArg{Channel: "books", InstID: "BTC-USDT"},
		Action: action,
		Data:   []byte(data),
	}
}

func TestBookChannel_Handle(t *testing.T) {
	c := &BookChannel{InstID: "BTC-USDT", Depth: 2}

	// Deltas before the first snapshot are ignored.
	events, err := c.Handle(bookFrame("update", `[{"bids":[["1","1"]],"asks":[],"ts":"1","seqId":5,"prevSeqId":4}]`))
	if err != nil || len(events) != 0 {
		t.Fatalf("pre-snapshot delta: events=%d err=%v", len(events), err)
	}

	events, err = c.Handle(bookFrame("snapshot",
		`[{"bids":[["100","1"],["99","1"],["98","1"]],"asks":[["101","1"],["102","1"],["103","1"]],"ts":"1700000000000","seqId":10,"prevSeqId":-1}]`))
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(events) != 1 || !events[0].Existing {
		t.Fatalf("snapshot events = %+v, want one existing", events)
	}
	view := events[0].Payload.(BookView)
	if len(view.Bids) != 2 || len(view.Asks) != 2 || !view.Snapshot || view.Ts != 1700000000000 {
		t.Errorf("unexpected snapshot view: %+v", view)
	}

	events, err = c.Handle(bookFrame("update", `[{"bids":[["100","0"]],"asks":[],"ts":"1700000000100","seqId":11,"prevSeqId":10}]`))
	if err != nil {
		t.Fatalf("delta failed: %v", err)
	}
	if len(events) != 1 || events[0].Existing {
		t.Fatalf("delta events = %+v, want one live", events)
	}
	view = events[0].Payload.(BookView)
	if view.Bids[0].Price.String() != "99" || view.Bids[1].Price.String() != "98" {
		t.Errorf("bids after delta = %v", view.Bids)
	}

	_, err = c.Handle(bookFrame("update", `[{"bids":[],"asks":[],"ts":"1","seqId":20,"prevSeqId":15}]`))
	if !errors.Is(err, ErrSequenceGap) {
		t.Errorf("err = %v, want ErrSequenceGap", err)
	}

	c.Reset()
	events, _ = c.Handle(bookFrame("update", `[{"bids":[],"asks":[],"ts":"1","seqId":21,"prevSeqId":20}]`))
	if len(events) != 0 {
		t.Error("delta after Reset should wait for a snapshot")
	}
}

func TestBarsChannel_DropsOlderBars(t *testing.T) {
	c := &BarsChannel{InstID: "BTC-USDT", Bar: "1m"}
	if got := c.Args()[0].Channel; got != "candle1m" {
		t.Errorf("channel = %q, want candle1m", got)
	}

	frame := func(data string) *connection.DataFrame {
		return &connection.DataFrame{Arg: c.Args()[0], Data: []byte(data)}
	}

	var got []int64
	for _, data := range []string{
		`[["120000","1","1","1","1","1","0","0","0"]]`,
		`[["120000","1","2","1","2","1","0","0","1"]]`,
		`[["60000","1","1","1","1","1","0","0","1"]]`,
		`[["180000","1","1","1","1","1","0","0","0"]]`,
	} {
		events, err := c.Handle(frame(data))
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		for _, ev := range events {
			got = append(got, ev.Payload.(api.Candle).Ts)
		}
	}

	want := []int64{120000, 120000, 180000}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

type stubFills struct {
	fills []api.Fill
}

func (s *stubFills) GetPendingOrders(ctx context.Context, instID string) ([]api.Order, error) {
	return nil, nil
}

func (s *stubFills) GetFills(ctx context.Context, instID string) ([]api.Fill, error) {
	return append([]api.Fill(nil), s.fills...), nil
}

func (s *stubFills) GetPositions(ctx context.Context) ([]api.Position, error) { return nil, nil }

func (s *stubFills) GetBalance(ctx context.Context) (*api.Balance, error) { return &api.Balance{}, nil }

func TestTradesChannel_SnapshotSkipsDeliveredFills(t *testing.T) {
	source := &stubFills{fills: []api.Fill{{OrdID: "1", TradeID: "t1"}}}
	c := &TradesChannel{Source: source}

	tradeIDs := func(events []Event) []string {
		var ids []string
		for _, ev := range events {
			ids = append(ids, ev.Payload.(api.Fill).TradeID)
		}
		return ids
	}

	events, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if got := tradeIDs(events); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("first snapshot = %v, want [t1]", got)
	}

	events, err = c.Handle(&connection.DataFrame{
		Arg:  c.Args()[0],
		Data: []byte(`[{"ordId":"1","tradeId":"t2","fillSz":"1","fillPx":"100"}]`),
	})
	if err != nil || len(events) != 1 {
		t.Fatalf("live fill: events=%d err=%v", len(events), err)
	}

	// Newest first, as the upstream returns them.
	source.fills = []api.Fill{{OrdID: "2", TradeID: "t3"}, {OrdID: "1", TradeID: "t2"}, {OrdID: "1", TradeID: "t1"}}
	events, err = c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if got := tradeIDs(events); len(got) != 1 || got[0] != "t3" {
		t.Errorf("second snapshot = %v, want [t3]", got)
	}

	events, _ = c.Handle(&connection.DataFrame{
		Arg:  c.Args()[0],
		Data: []byte(`[{"ordId":"2","tradeId":"t3","fillSz":"1","fillPx":"100"}]`),
	})
	if len(events) != 0 {
		t.Errorf("replayed fill delivered again: %+v", events)
	}
}

func TestFillFromOrder(t *testing.T) {
	tests := []struct {
		name   string
		order  api.Order
		wantOK bool
	}{
		{"no fill", api.Order{OrdID: "1", FillSz: "0"}, false},
		{"empty fill", api.Order{OrdID: "1"}, false},
		{"partial fill", api.Order{OrdID: "1", FillSz: "0.5", FillPx: "100", TradeID: "t1", FillTime: "123"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill, ok := FillFromOrder(tt.order)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (fill.TradeID != "t1" || fill.FillSz != "0.5" || fill.Ts != "123") {
				t.Errorf("unexpected fill: %+v", fill)
			}
		})
	}
}

func TestChannelArgs(t *testing.T) {
	tests := []struct {
		ch       Channel
		endpoint Endpoint
		want     string
	}{
		{&QuotesChannel{InstID: "BTC-USDT"}, EndpointPublic, "tickers:BTC-USDT"},
		{&BookChannel{InstID: "BTC-USDT"}, EndpointPublic, "books:BTC-USDT"},
		{&BarsChannel{InstID: "BTC-USDT", Bar: "1H"}, EndpointBusiness, "candle1H:BTC-USDT"},
		{&OrdersChannel{}, EndpointPrivate, "orders:ANY"},
		{&TradesChannel{InstID: "ETH-USDT"}, EndpointPrivate, "orders:ETH-USDT"},
		{&PositionsChannel{}, EndpointPrivate, "positions:ANY"},
		{&SummariesChannel{}, EndpointPrivate, "account"},
	}
	for _, tt := range tests {
		t.Run(tt.ch.Kind(), func(t *testing.T) {
			if tt.ch.Endpoint() != tt.endpoint {
				t.Errorf("Endpoint() = %v, want %v", tt.ch.Endpoint(), tt.endpoint)
			}
			if got := argsString(tt.ch.Args()); got != tt.want {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}
