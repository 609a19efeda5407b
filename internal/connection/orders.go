package connection

import (
	"context"
	"fmt"
)

// OrderRequest is the argument of an "order" command.
type OrderRequest struct {
	InstIDCode int64  `json:"instIdCode,omitempty"`
	InstID     string `json:"instId,omitempty"`
	TdMode     string `json:"tdMode"` // cash, cross, isolated
	Side       string `json:"side"`   // buy, sell
	PosSide    string `json:"posSide,omitempty"`
	OrdType    string `json:"ordType"` // market, limit, post_only, fok, ioc
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	ClOrdID    string `json:"clOrdId,omitempty"`
	Tag        string `json:"tag,omitempty"`
	TgtCcy     string `json:"tgtCcy,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

// CancelRequest is the argument of a "cancel-order" command.
type CancelRequest struct {
	InstIDCode int64  `json:"instIdCode,omitempty"`
	InstID     string `json:"instId,omitempty"`
	OrdID      string `json:"ordId,omitempty"`
	ClOrdID    string `json:"clOrdId,omitempty"`
}

// PlaceOrder submits one order over the trading session.
func (s *Session) PlaceOrder(ctx context.Context, req OrderRequest) (*ReplyItem, error) {
	reply, err := s.SendCommand(ctx, OpOrder, []any{req}, NewCommandID())
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", req.InstID, err)
	}
	return &reply.Data[0], nil
}

// CancelOrder cancels one order over the trading session.
func (s *Session) CancelOrder(ctx context.Context, req CancelRequest) (*ReplyItem, error) {
	reply, err := s.SendCommand(ctx, OpCancelOrder, []any{req}, NewCommandID())
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", req.OrdID, err)
	}
	return &reply.Data[0], nil
}
