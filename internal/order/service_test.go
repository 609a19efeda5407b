package order

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/connection"
	"github.com/rickgao/astras-gateway/internal/instrument"
)

type fakeSender struct {
	mu        sync.Mutex
	placed    []connection.OrderRequest
	canceled  []connection.CancelRequest
	nextID    int
	placeErr  error
	cancelErr error
}

func (f *fakeSender) PlaceOrder(ctx context.Context, req connection.OrderRequest) (*connection.ReplyItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.nextID++
	return &connection.ReplyItem{OrdID: "ord" + strconv.Itoa(f.nextID), SCode: "0"}, nil
}

func (f *fakeSender) CancelOrder(ctx context.Context, req connection.CancelRequest) (*connection.ReplyItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.canceled = append(f.canceled, req)
	return &connection.ReplyItem{OrdID: req.OrdID, SCode: "0"}, nil
}

type staticInstruments map[string]api.Instrument

func (s staticInstruments) Resolve(ctx context.Context, class, symbol string) (api.Instrument, error) {
	inst, ok := s[symbol]
	if !ok || (class != "" && inst.InstType != class) {
		return api.Instrument{}, instrument.ErrUnknownInstrument
	}
	return inst, nil
}

var instruments = staticInstruments{
	"BTC-USDT":      {InstType: "SPOT", InstID: "BTC-USDT", InstIDCode: 10},
	"BTC-USDT-SWAP": {InstType: "SWAP", InstID: "BTC-USDT-SWAP", InstIDCode: 20},
}

func limitBuy(symbol string) Params {
	return Params{
		Type:     "limit",
		Side:     "buy",
		Symbol:   symbol,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
		ClientID: "0f5c6c1e-97a4-4b8e-9d1b-1234567890ab",
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"valid limit", func(p *Params) {}, false},
		{"valid market", func(p *Params) { p.Type = "market"; p.Price = decimal.Zero }, false},
		{"no symbol", func(p *Params) { p.Symbol = "" }, true},
		{"bad side", func(p *Params) { p.Side = "hold" }, true},
		{"zero quantity", func(p *Params) { p.Quantity = decimal.Zero }, true},
		{"limit without price", func(p *Params) { p.Price = decimal.Zero }, true},
		{"unknown type", func(p *Params) { p.Type = "stop" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := limitBuy("BTC-USDT")
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestService_Create(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(sender, instruments, nil, nil)

	id, err := svc.Create(context.Background(), limitBuy("BTC-USDT"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "ord1" {
		t.Errorf("id = %q, want ord1", id)
	}

	req := sender.placed[0]
	if req.InstIDCode != 10 || req.TdMode != "cash" || req.OrdType != "limit" || req.Px != "100" || req.Sz != "1" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.ClOrdID != "0f5c6c1e97a44b8e9d1b1234567890ab" {
		t.Errorf("ClOrdID = %q", req.ClOrdID)
	}
	if sym, ok := svc.Sides().Symbol("ord1"); !ok || sym != "BTC-USDT" {
		t.Errorf("side table = %q, %v", sym, ok)
	}

	t.Run("spot market sized in base", func(t *testing.T) {
		p := limitBuy("BTC-USDT")
		p.Type, p.Price = "market", decimal.Zero
		if _, err := svc.Create(context.Background(), p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		last := sender.placed[len(sender.placed)-1]
		if last.OrdType != "market" || last.TgtCcy != "base_ccy" || last.Px != "" {
			t.Errorf("unexpected request: %+v", last)
		}
	})

	t.Run("swap uses cross margin", func(t *testing.T) {
		p := limitBuy("BTC-USDT-SWAP")
		p.TimeInForce = "bookorcancel"
		if _, err := svc.Create(context.Background(), p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		last := sender.placed[len(sender.placed)-1]
		if last.TdMode != "cross" || last.OrdType != "post_only" {
			t.Errorf("unexpected request: %+v", last)
		}
	})

	t.Run("unknown instrument", func(t *testing.T) {
		if _, err := svc.Create(context.Background(), limitBuy("NOPE")); !errors.Is(err, instrument.ErrUnknownInstrument) {
			t.Errorf("err = %v, want ErrUnknownInstrument", err)
		}
	})
}

func TestService_Cancel(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(sender, instruments, nil, nil)
	svc.Sides().Put("42", "BTC-USDT-SWAP")

	if err := svc.Cancel(context.Background(), "42", "", ""); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := sender.canceled[0]; got.InstIDCode != 20 || got.OrdID != "42" {
		t.Errorf("unexpected cancel: %+v", got)
	}
	if _, ok := svc.Sides().Symbol("42"); ok {
		t.Error("canceled order should leave the side table")
	}

	if err := svc.Cancel(context.Background(), "43", "", ""); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("err = %v, want ErrUnknownOrder", err)
	}
}

func TestService_Update(t *testing.T) {
	t.Run("cancel then create", func(t *testing.T) {
		sender := &fakeSender{}
		svc := NewService(sender, instruments, nil, nil)
		svc.Sides().Put("old", "BTC-USDT")

		p := limitBuy("")
		p.Price = decimal.NewFromInt(101)
		id, err := svc.Update(context.Background(), "old", p)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if len(sender.canceled) != 1 || len(sender.placed) != 1 || id != "ord1" {
			t.Errorf("canceled=%d placed=%d id=%q", len(sender.canceled), len(sender.placed), id)
		}
		if sender.placed[0].Px != "101" || sender.placed[0].InstID != "BTC-USDT" {
			t.Errorf("unexpected replacement: %+v", sender.placed[0])
		}
	})

	t.Run("cancel failure places nothing", func(t *testing.T) {
		sender := &fakeSender{cancelErr: &connection.CommandError{Op: "cancel-order", Code: "1", SubCode: "51400"}}
		svc := NewService(sender, instruments, nil, nil)

		_, err := svc.Update(context.Background(), "missing", limitBuy("BTC-USDT"))
		var cmdErr *connection.CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("err = %v, want CommandError", err)
		}
		if len(sender.placed) != 0 {
			t.Errorf("placed = %d, want 0", len(sender.placed))
		}
	})

	t.Run("create failure after cancel", func(t *testing.T) {
		sender := &fakeSender{placeErr: errors.New("insufficient balance")}
		svc := NewService(sender, instruments, nil, nil)

		if _, err := svc.Update(context.Background(), "7", limitBuy("BTC-USDT")); err == nil {
			t.Fatal("expected error")
		}
		if len(sender.canceled) != 1 {
			t.Errorf("canceled = %d, want 1 (update is not atomic)", len(sender.canceled))
		}
	})

	t.Run("unknown order without symbol", func(t *testing.T) {
		svc := NewService(&fakeSender{}, instruments, nil, nil)
		if _, err := svc.Update(context.Background(), "x", limitBuy("")); !errors.Is(err, ErrUnknownOrder) {
			t.Errorf("err = %v, want ErrUnknownOrder", err)
		}
	})
}

func TestSideTable_Expiry(t *testing.T) {
	tbl := NewSideTable(time.Hour)
	now := time.Unix(1700000000, 0)
	tbl.now = func() time.Time { return now }

	tbl.Put("1", "BTC-USDT")
	tbl.Put("", "ignored")
	now = now.Add(2 * time.Hour)
	tbl.Put("2", "ETH-USDT")

	if _, ok := tbl.Symbol("1"); ok {
		t.Error("entry 1 should have expired")
	}
	if n := tbl.Purge(); n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}
	if sym, ok := tbl.Symbol("2"); !ok || sym != "ETH-USDT" {
		t.Errorf("Symbol(2) = %q, %v", sym, ok)
	}
}
