package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/order"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrBadRequest      = errors.New("bad request")
	ErrConfirmTimeout  = errors.New("subscription was not confirmed in time")
	ErrStreamEnded     = errors.New("subscription ended")
	ErrSlowConsumer    = errors.New("client is not reading fast enough")
	ErrSessionShutdown = errors.New("gateway shutting down")
)

const (
	// ConfirmTimeout bounds the wait for an upstream subscribe confirmation.
	ConfirmTimeout = 5 * time.Second

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultReadLimit  = 64 * 1024
	defaultOutboxSize = 64
	defaultOutboxMax  = 16384

	// orderQueueSize bounds order opcodes read but not yet executed; a
	// full queue stalls the reader.
	orderQueueSize = 64
)

// Client opcodes.
const (
	OpAuthorize    = "authorize"
	OpPing         = "ping"
	OpUnsubscribe  = "unsubscribe"
	OpBars         = "BarsGetAndSubscribe"
	OpOrderBook    = "OrderBookGetAndSubscribe"
	OpQuotes       = "QuotesSubscribe"
	OpOrders       = "OrdersGetAndSubscribeV2"
	OpTrades       = "TradesGetAndSubscribeV2"
	OpPositions    = "PositionsGetAndSubscribeV2"
	OpSummaries    = "SummariesGetAndSubscribeV2"
	OpCreateMarket = "create:market"
	OpCreateLimit  = "create:limit"
	OpDeleteMarket = "delete:market"
	OpDeleteLimit  = "delete:limit"
	OpUpdateLimit  = "update:limit"
)

// SubscriptionSource opens upstream channel subscriptions.
type SubscriptionSource interface {
	Subscribe(ctx context.Context, ch feed.Channel) <-chan feed.Event
}

// OrderExecutor creates, cancels and updates orders.
type OrderExecutor interface {
	Create(ctx context.Context, p order.Params) (string, error)
	Cancel(ctx context.Context, orderID, symbol, class string) error
	Update(ctx context.Context, orderID string, p order.Params) (string, error)
	Sides() *order.SideTable
}

// InstrumentResolver maps a class and symbol to an upstream instrument.
type InstrumentResolver interface {
	Resolve(ctx context.Context, class, symbol string) (api.Instrument, error)
}

// Instrument names an instrument in an order request.
type Instrument struct {
	Symbol          string `json:"symbol"`
	Exchange        string `json:"exchange"`
	InstrumentGroup string `json:"instrumentGroup"`
}

// Request is one client message. Fields not used by an opcode are ignored.
type Request struct {
	Opcode string `json:"opcode"`
	GUID   string `json:"guid"`
	Token  string `json:"token"`

	// Subscriptions.
	Code            string     `json:"code"`
	Exchange        string     `json:"exchange"`
	InstrumentGroup string     `json:"instrumentGroup"`
	Portfolio       string     `json:"portfolio"`
	Format          string     `json:"format"`
	Frequency       int        `json:"frequency"` // ms
	Depth           int        `json:"depth"`
	TF              flexString `json:"tf"`
	From            int64      `json:"from"` // seconds
	SkipHistory     bool       `json:"skipHistory"`

	// Orders.
	Side            string          `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Instrument      Instrument      `json:"instrument"`
	OrderID         string          `json:"orderId"`
	TimeInForce     string          `json:"timeInForce"`
	CheckDuplicates *bool           `json:"checkDuplicates"`
}

// checkDuplicates defaults to true.
func (r *Request) checkDuplicates() bool {
	return r.CheckDuplicates == nil || *r.CheckDuplicates
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(string(n), 64); err != nil {
		return err
	}
	*s = flexString(n)
	return nil
}
