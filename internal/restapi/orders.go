package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/rickgao/astras-gateway/internal/idempotency"
	"github.com/rickgao/astras-gateway/internal/order"
)

const maxOrderBody = 16 * 1024

// RequestIDHeader carries the client's idempotency key on order routes.
const RequestIDHeader = "X-ALOR-REQID"

type orderRequest struct {
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TimeInForce string          `json:"timeInForce"`
	Instrument  struct {
		Symbol          string `json:"symbol"`
		Exchange        string `json:"exchange"`
		InstrumentGroup string `json:"instrumentGroup"`
	} `json:"instrument"`
	User struct {
		Portfolio string `json:"portfolio"`
	} `json:"user"`
}

type orderResponse struct {
	Message     string `json:"message"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

// createOrder places a market or limit order. Requests repeating a
// request id receive the first response again.
func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		writeError(w, http.StatusBadRequest, RequestIDHeader+" header is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req orderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed order: %v", err))
		return
	}
	if msg := s.checkTarget(req.User.Portfolio, req.Instrument.Exchange); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	params := order.Params{
		Type:        kind,
		Side:        strings.ToLower(req.Side),
		Symbol:      req.Instrument.Symbol,
		Class:       req.Instrument.InstrumentGroup,
		Quantity:    req.Quantity,
		Price:       req.Price,
		TimeInForce: strings.ToLower(req.TimeInForce),
		ClientID:    reqID,
	}
	// The order outlives a client that hangs up mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RequestTimeout)
	defer cancel()
	resp, replayed, err := s.deps.Idempotency.Do(idempotency.Key("rest:"+kind, reqID), func() ([]byte, error) {
		id, err := s.deps.Orders.Create(ctx, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(orderResponse{Message: "success", OrderNumber: id})
	})
	if err != nil {
		s.logger.Warn("order request failed", "kind", kind, "request_id", reqID, "error", err)
		writeFailure(w, err)
		return
	}
	if replayed {
		s.logger.Info("replaying order response", "kind", kind, "request_id", reqID)
	}
	writeBody(w, http.StatusOK, resp)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	q := r.URL.Query()
	if msg := s.checkTarget(q.Get("portfolio"), q.Get("exchange")); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	// Like creation, the cancel outlives a client that hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RequestTimeout)
	defer cancel()
	if err := s.deps.Orders.Cancel(ctx, orderID, q.Get("symbol"), q.Get("instrumentGroup")); err != nil {
		s.logger.Warn("cancel request failed", "order_id", orderID, "error", err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Message: "success", OrderNumber: orderID})
}

// checkTarget returns a message when portfolio or exchange name something
// this gateway does not serve. Empty values are accepted.
func (s *Server) checkTarget(portfolio, exchange string) string {
	if portfolio != "" && portfolio != s.meta.Portfolio {
		return fmt.Sprintf("unknown portfolio %q", portfolio)
	}
	if exchange != "" && !strings.EqualFold(exchange, s.meta.Exchange) {
		return fmt.Sprintf("unknown exchange %q", exchange)
	}
	return ""
}
