package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/auth"
	"github.com/rickgao/astras-gateway/internal/connection"
)

type request struct {
	Op   string                  `json:"op"`
	Args []connection.ChannelArg `json:"args"`
}

// mockFeed is an upstream WebSocket endpoint. Logins succeed; every
// subscribe is passed to onSubscribe with the 1-based connection number.
// Returning false drops the connection.
type mockFeed struct {
	server      *httptest.Server
	conns       atomic.Int32
	mu          sync.Mutex
	ops         []string
	onSubscribe func(n int, req request, write func(string)) bool
}

func newMockFeed(t *testing.T, onSubscribe func(n int, req request, write func(string)) bool) *mockFeed {
	m := &mockFeed{onSubscribe: onSubscribe}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := int(m.conns.Add(1))

		var writeMu sync.Mutex
		write := func(s string) {
			writeMu.Lock()
			defer writeMu.Unlock()
			conn.WriteMessage(websocket.TextMessage, []byte(s))
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "ping" {
				write("pong")
				continue
			}
			var req request
			if err := json.Unmarshal(data, &req); err != nil {
				t.Errorf("bad frame %q", data)
				return
			}
			m.mu.Lock()
			m.ops = append(m.ops, req.Op)
			m.mu.Unlock()

			switch req.Op {
			case connection.OpLogin:
				write(`{"event":"login","code":"0","msg":"","connId":"x"}`)
			case connection.OpSubscribe:
				if !m.onSubscribe(n, req, write) {
					return
				}
			}
		}
	}))
	return m
}

func (m *mockFeed) url() string { return "ws" + strings.TrimPrefix(m.server.URL, "http") }

func (m *mockFeed) sawOp(op string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.ops {
		if o == op {
			return true
		}
	}
	return false
}

func confirm(req request) string {
	arg, _ := json.Marshal(req.Args[0])
	return `{"event":"subscribe","arg":` + string(arg) + `,"connId":"x"}`
}

func newTestEngine(url string, creds *auth.Credentials) *Engine {
	return NewEngine(Config{
		Endpoints:        Endpoints{Public: url, Private: url, Business: url},
		Credentials:      creds,
		Backoff:          10 * time.Millisecond,
		SubscribeTimeout: time.Second,
		PingInterval:     time.Hour,
	}, nil, nil)
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func waitClosed(t *testing.T, events <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream not closed")
		}
	}
}

func TestEngine_BookSnapshotThenDeltas(t *testing.T) {
	feed := newMockFeed(t, func(n int, req request, write func(string)) bool {
		if req.Args[0].Channel != "books" || req.Args[0].InstID != "BTC-USDT" {
			t.Errorf("unexpected subscribe args: %+v", req.Args)
		}
		write(confirm(req))
		write(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot","data":[{"bids":[["100","1"],["99","1"],["98","1"],["97","1"],["96","1"],["95","1"]],"asks":[["101","1"],["102","1"]],"ts":"1","seqId":1,"prevSeqId":-1}]}`)
		write(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"update","data":[{"bids":[["100","0"]],"asks":[],"ts":"2","seqId":2,"prevSeqId":1}]}`)
		return true
	})
	defer feed.server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := newTestEngine(feed.url(), nil).Subscribe(ctx, &BookChannel{InstID: "BTC-USDT", Depth: 5})

	if ev := nextEvent(t, events); ev.Kind != EventSubscribed {
		t.Fatalf("first event kind = %v, want subscribed", ev.Kind)
	}

	ev := nextEvent(t, events)
	view := ev.Payload.(BookView)
	if !ev.Existing || len(view.Bids) != 5 {
		t.Errorf("snapshot: existing=%v bids=%d, want true/5", ev.Existing, len(view.Bids))
	}

	ev = nextEvent(t, events)
	view = ev.Payload.(BookView)
	if ev.Existing || view.Bids[0].Price.String() != "99" {
		t.Errorf("delta: existing=%v best bid=%s", ev.Existing, view.Bids[0].Price)
	}

	cancel()
	waitClosed(t, events)

	deadline := time.Now().Add(time.Second)
	for !feed.sawOp(connection.OpUnsubscribe) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !feed.sawOp(connection.OpUnsubscribe) {
		t.Error("expected best-effort unsubscribe on cancel")
	}
}

func TestEngine_SubscribeErrorIsTerminal(t *testing.T) {
	feed := newMockFeed(t, func(n int, req request, write func(string)) bool {
		write(`{"event":"error","code":"60018","msg":"Wrong URL or channel:tickers,instId:NOPE doesn't exist.","connId":"x"}`)
		return true
	})
	defer feed.server.Close()

	events := newTestEngine(feed.url(), nil).Subscribe(context.Background(), &QuotesChannel{InstID: "NOPE"})

	ev := nextEvent(t, events)
	var subErr *SubscribeError
	if ev.Kind != EventError || !errors.As(ev.Err, &subErr) {
		t.Fatalf("event = %+v, want subscribe error", ev)
	}
	if subErr.Code != "60018" {
		t.Errorf("Code = %q, want 60018", subErr.Code)
	}
	waitClosed(t, events)

	if n := feed.conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1 (no retry)", n)
	}
}

func TestEngine_ReconnectsAfterTransportError(t *testing.T) {
	feed := newMockFeed(t, func(n int, req request, write func(string)) bool {
		write(confirm(req))
		if n == 1 {
			return false
		}
		write(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"42"}]}`)
		return true
	})
	defer feed.server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := newTestEngine(feed.url(), nil).Subscribe(ctx, &QuotesChannel{InstID: "BTC-USDT"})

	if ev := nextEvent(t, events); ev.Kind != EventSubscribed {
		t.Fatalf("first event kind = %v, want subscribed", ev.Kind)
	}
	ev := nextEvent(t, events)
	if ev.Kind != EventData {
		t.Fatalf("second event kind = %v, want data (subscribed is reported once)", ev.Kind)
	}
	if ev.Payload.(api.Ticker).Last != "42" {
		t.Errorf("unexpected ticker: %+v", ev.Payload)
	}
	if n := feed.conns.Load(); n != 2 {
		t.Errorf("connections = %d, want 2", n)
	}
}

func TestEngine_PrivateChannel(t *testing.T) {
	t.Run("logs in before subscribing", func(t *testing.T) {
		feed := newMockFeed(t, func(n int, req request, write func(string)) bool {
			write(confirm(req))
			write(`{"arg":{"channel":"account"},"data":[{"totalEq":"10","details":[]}]}`)
			return true
		})
		defer feed.server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		creds := &auth.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}
		events := newTestEngine(feed.url(), creds).Subscribe(ctx, &SummariesChannel{})

		nextEvent(t, events)
		ev := nextEvent(t, events)
		if ev.Payload.(api.Balance).TotalEq != "10" {
			t.Errorf("unexpected balance: %+v", ev.Payload)
		}

		feed.mu.Lock()
		ops := append([]string(nil), feed.ops...)
		feed.mu.Unlock()
		if len(ops) < 2 || ops[0] != connection.OpLogin || ops[1] != connection.OpSubscribe {
			t.Errorf("ops = %v, want login then subscribe", ops)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		feed := newMockFeed(t, func(n int, req request, write func(string)) bool { return true })
		defer feed.server.Close()

		events := newTestEngine(feed.url(), nil).Subscribe(context.Background(), &OrdersChannel{})
		ev := nextEvent(t, events)
		if ev.Kind != EventError || !errors.Is(ev.Err, connection.ErrAuthentication) {
			t.Fatalf("event = %+v, want authentication error", ev)
		}
		waitClosed(t, events)
	})
}

type slowCandles struct {
	release chan struct{}
	candles []api.Candle
}

func (s *slowCandles) GetCandlesSince(ctx context.Context, instID, bar string, from int64, maxPages int) ([]api.Candle, error) {
	select {
	case <-s.release:
		return s.candles, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngine_BarsBackfillBuffersLiveBars(t *testing.T) {
	source := &slowCandles{
		release: make(chan struct{}),
		candles: []api.Candle{{Ts: 60000}, {Ts: 120000}, {Ts: 180000}},
	}
	pushed := make(chan struct{})

	feed := newMockFeed(t, func(n int, req request, write func(string)) bool {
		write(confirm(req))
		arg := `{"channel":"candle1m","instId":"BTC-USDT"}`
		write(`{"arg":` + arg + `,"data":[["120000","1","1","1","1","1","0","0","1"]]}`)
		write(`{"arg":` + arg + `,"data":[["180000","1","1","1","1","1","0","0","0"]]}`)
		write(`{"arg":` + arg + `,"data":[["240000","1","1","1","1","1","0","0","0"]]}`)
		close(pushed)
		return true
	})
	defer feed.server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := newTestEngine(feed.url(), nil).Subscribe(ctx, &BarsChannel{
		InstID: "BTC-USDT", Bar: "1m", From: 60000, Source: source,
	})

	nextEvent(t, events)
	<-pushed
	time.Sleep(50 * time.Millisecond)
	close(source.release)

	type seen struct {
		ts       int64
		existing bool
	}
	want := []seen{{60000, true}, {120000, true}, {180000, true}, {180000, false}, {240000, false}}
	for i, w := range want {
		ev := nextEvent(t, events)
		c := ev.Payload.(api.Candle)
		if c.Ts != w.ts || ev.Existing != w.existing {
			t.Errorf("event %d = (%d, %v), want (%d, %v)", i, c.Ts, ev.Existing, w.ts, w.existing)
		}
	}
}

// recordingCandles serves the candles at or after from and records every
// request.
type recordingCandles struct {
	mu      sync.Mutex
	candles []api.Candle
	froms   []int64
}

func (r *recordingCandles) GetCandlesSince(ctx context.Context, instID, bar string, from int64, maxPages int) ([]api.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.froms = append(r.froms, from)
	var out []api.Candle
	for _, c := range r.candles {
		if c.Ts >= from {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *recordingCandles) set(candles ...api.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = candles
}

func (r *recordingCandles) requests() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.froms...)
}

func TestEngine_BarsBackfillResumesAfterReconnect(t *testing.T) {
	source := &recordingCandles{candles: []api.Candle{{Ts: 60000}}}
	drop := make(chan struct{})

	feed := newMockFeed(t, func(n int, req request, write func(string)) bool {
		write(confirm(req))
		if n == 1 {
			<-drop
			return false
		}
		write(`{"arg":{"channel":"candle1m","instId":"BTC-USDT"},"data":[["240000","1","1","1","1","1","0","0","0"]]}`)
		return true
	})
	defer feed.server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := newTestEngine(feed.url(), nil).Subscribe(ctx, &BarsChannel{
		InstID: "BTC-USDT", Bar: "1m", From: 60000, Source: source,
	})

	if ev := nextEvent(t, events); ev.Kind != EventSubscribed {
		t.Fatalf("first event kind = %v, want subscribed", ev.Kind)
	}
	if c := nextEvent(t, events).Payload.(api.Candle); c.Ts != 60000 {
		t.Fatalf("backfill bar = %d, want 60000", c.Ts)
	}

	// Bars close while the connection is down.
	source.set(api.Candle{Ts: 60000}, api.Candle{Ts: 120000}, api.Candle{Ts: 180000})
	close(drop)

	want := []int64{60000, 120000, 180000, 240000}
	for i, w := range want {
		ev := nextEvent(t, events)
		if ev.Kind != EventData {
			t.Fatalf("event %d kind = %v, want data", i, ev.Kind)
		}
		if c := ev.Payload.(api.Candle); c.Ts != w {
			t.Errorf("event %d ts = %d, want %d", i, c.Ts, w)
		}
	}

	froms := source.requests()
	if len(froms) != 2 || froms[0] != 60000 || froms[1] != 60000 {
		t.Errorf("backfill requests from = %v, want [60000 60000]", froms)
	}
}
