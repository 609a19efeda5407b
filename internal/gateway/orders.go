package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rickgao/astras-gateway/internal/idempotency"
	"github.com/rickgao/astras-gateway/internal/model"
	"github.com/rickgao/astras-gateway/internal/order"
)

// orderLoop executes order opcodes one at a time, in the order they were
// read. Orders queued behind a failed one are dropped, since the failure
// closes the connection.
func (s *session) orderLoop() {
	defer s.wg.Done()

	failed := false
	for req := range s.orders {
		if failed {
			s.logger.Warn("dropping order queued behind a failure", "opcode", req.Opcode, "guid", req.GUID)
			continue
		}
		failed = !s.handleOrder(req)
	}
}

// handleOrder executes one order opcode and reports whether it succeeded.
// A repeated guid replays the first response byte for byte instead of
// reaching the upstream again; any failure closes the connection.
func (s *session) handleOrder(req Request) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.srv.cfg.OrderTimeout)
	defer cancel()

	exec := func() ([]byte, error) {
		ack, err := s.executeOrder(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ack)
	}

	var (
		resp     []byte
		replayed bool
		err      error
	)
	if req.GUID != "" && req.checkDuplicates() {
		resp, replayed, err = s.srv.deps.Idempotency.Do(idempotency.Key(req.Opcode, req.GUID), exec)
	} else {
		resp, err = exec()
	}
	if err != nil {
		s.fail(req.GUID, err)
		return false
	}
	if replayed {
		s.logger.Info("replaying order response", "opcode", req.Opcode, "guid", req.GUID)
	}
	s.sendRaw(resp)
	return true
}

func (s *session) executeOrder(ctx context.Context, req Request) (model.Ack, error) {
	orders := s.srv.deps.Orders
	symbol := req.Instrument.Symbol
	if symbol == "" {
		symbol = req.Code
	}
	class := req.Instrument.InstrumentGroup
	if class == "" {
		class = req.InstrumentGroup
	}

	params := func(typ string) order.Params {
		return order.Params{
			Type:        typ,
			Side:        req.Side,
			Symbol:      symbol,
			Class:       class,
			Quantity:    req.Quantity,
			Price:       req.Price,
			TimeInForce: req.TimeInForce,
			ClientID:    req.GUID,
		}
	}
	ack := func(format, id string) model.Ack {
		return model.Ack{
			Message:     fmt.Sprintf(format, id),
			HTTPCode:    http.StatusOK,
			RequestGUID: req.GUID,
			OrderNumber: id,
		}
	}

	switch req.Opcode {
	case OpCreateMarket, OpCreateLimit:
		typ := "market"
		if req.Opcode == OpCreateLimit {
			typ = "limit"
		}
		id, err := orders.Create(ctx, params(typ))
		if err != nil {
			return model.Ack{}, err
		}
		return ack("An order '%s' has been created.", id), nil

	case OpDeleteMarket, OpDeleteLimit:
		if req.OrderID == "" {
			return model.Ack{}, fmt.Errorf("%w: orderId is required", ErrBadRequest)
		}
		if err := orders.Cancel(ctx, req.OrderID, symbol, class); err != nil {
			return model.Ack{}, err
		}
		return ack("An order '%s' has been cancelled.", req.OrderID), nil

	case OpUpdateLimit:
		if req.OrderID == "" {
			return model.Ack{}, fmt.Errorf("%w: orderId is required", ErrBadRequest)
		}
		id, err := orders.Update(ctx, req.OrderID, params("limit"))
		if err != nil {
			return model.Ack{}, err
		}
		return ack("An order '%s' has been updated.", id), nil
	}
	return model.Ack{}, fmt.Errorf("%w: %q", ErrUnknownOpcode, req.Opcode)
}
