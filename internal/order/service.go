package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/connection"
)

var (
	ErrUnknownOrder = errors.New("unknown order")
	ErrInvalidOrder = errors.New("invalid order")
)

// CommandSender executes trading commands upstream.
type CommandSender interface {
	PlaceOrder(ctx context.Context, req connection.OrderRequest) (*connection.ReplyItem, error)
	CancelOrder(ctx context.Context, req connection.CancelRequest) (*connection.ReplyItem, error)
}

// InstrumentResolver maps a class and symbol to an upstream instrument.
type InstrumentResolver interface {
	Resolve(ctx context.Context, class, symbol string) (api.Instrument, error)
}

// Params describes an order to create.
type Params struct {
	Type        string // market, limit
	Side        string // buy, sell
	Symbol      string
	Class       string // instrument class; empty matches any
	Quantity    decimal.Decimal
	Price       decimal.Decimal // limit only
	TimeInForce string          // goodtillcancelled, fillorkill, immediateorcancel, bookorcancel
	ClientID    string
}

// Validate checks the fields every order needs.
func (p Params) Validate() error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case p.Side != "buy" && p.Side != "sell":
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidOrder, p.Side)
	case !p.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case p.Type == "limit" && !p.Price.IsPositive():
		return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	case p.Type != "limit" && p.Type != "market":
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, p.Type)
	}
	return nil
}

// Service places, cancels and updates orders.
type Service struct {
	sender      CommandSender
	instruments InstrumentResolver
	sides       *SideTable
	logger      *slog.Logger
}

// NewService creates an order service.
func NewService(sender CommandSender, instruments InstrumentResolver, sides *SideTable, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sides == nil {
		sides = NewSideTable(0)
	}
	return &Service{
		sender:      sender,
		instruments: instruments,
		sides:       sides,
		logger:      logger,
	}
}

// Sides returns the order id to symbol table.
func (s *Service) Sides() *SideTable { return s.sides }

// Create places an order and returns the upstream order id.
func (s *Service) Create(ctx context.Context, p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	inst, err := s.instruments.Resolve(ctx, p.Class, p.Symbol)
	if err != nil {
		return "", err
	}

	req := connection.OrderRequest{
		InstIDCode: inst.InstIDCode,
		InstID:     inst.InstID,
		TdMode:     tradeMode(inst.InstType),
		Side:       p.Side,
		OrdType:    upstreamType(p.Type, p.TimeInForce),
		Sz:         p.Quantity.String(),
		ClOrdID:    clientOrderID(p.ClientID),
	}
	if p.Type == "limit" {
		req.Px = p.Price.String()
	}
	if inst.InstType == api.InstTypeSpot && p.Type == "market" {
		// Spot market buys are sized in quote currency unless told otherwise.
		req.TgtCcy = "base_ccy"
	}

	item, err := s.sender.PlaceOrder(ctx, req)
	if err != nil {
		return "", err
	}
	s.sides.Put(item.OrdID, inst.InstID)
	s.logger.Info("order created", "ord_id", item.OrdID, "inst_id", inst.InstID, "side", p.Side, "sz", req.Sz)
	return item.OrdID, nil
}

// Cancel cancels an order. An empty symbol is looked up in the side table.
func (s *Service) Cancel(ctx context.Context, orderID, symbol, class string) error {
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidOrder)
	}
	if symbol == "" {
		var ok bool
		if symbol, ok = s.sides.Symbol(orderID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
		}
	}
	inst, err := s.instruments.Resolve(ctx, class, symbol)
	if err != nil {
		return err
	}

	if _, err := s.sender.CancelOrder(ctx, connection.CancelRequest{
		InstIDCode: inst.InstIDCode,
		InstID:     inst.InstID,
		OrdID:      orderID,
	}); err != nil {
		return err
	}
	s.sides.Delete(orderID)
	s.logger.Info("order canceled", "ord_id", orderID, "inst_id", inst.InstID)
	return nil
}

// Update replaces an order by canceling it and creating a new one. If the
// cancel fails nothing is created. If the create fails the original order
// stays canceled.
func (s *Service) Update(ctx context.Context, orderID string, p Params) (string, error) {
	if p.Symbol == "" {
		sym, ok := s.sides.Symbol(orderID)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
		}
		p.Symbol = sym
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	if err := s.Cancel(ctx, orderID, p.Symbol, p.Class); err != nil {
		return "", fmt.Errorf("update %s: cancel: %w", orderID, err)
	}
	id, err := s.Create(ctx, p)
	if err != nil {
		s.logger.Warn("order canceled but replacement failed", "ord_id", orderID, "err", err)
		return "", fmt.Errorf("update %s: create: %w", orderID, err)
	}
	return id, nil
}

func tradeMode(instType string) string {
	if instType == api.InstTypeSpot {
		return "cash"
	}
	return "cross"
}

func upstreamType(typ, tif string) string {
	if typ == "market" {
		return "market"
	}
	switch tif {
	case "fillorkill":
		return "fok"
	case "immediateorcancel":
		return "ioc"
	case "bookorcancel":
		return "post_only"
	}
	return "limit"
}

// clientOrderID reduces a client guid to the upstream clOrdId alphabet:
// at most 32 letters and digits.
func clientOrderID(guid string) string {
	var b strings.Builder
	for _, r := range guid {
		if b.Len() == 32 {
			break
		}
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
