package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/connection"
)

// Errors
var (
	ErrSubscribeTimeout = errors.New("subscribe confirmation timeout")
	ErrSequenceGap      = errors.New("order book sequence gap")
	ErrUpstreamNotice   = errors.New("upstream requested reconnect")
)

// SubscribeError is an upstream rejection of a subscribe frame. It is
// terminal for the subscription.
type SubscribeError struct {
	Code string
	Msg  string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("upstream rejected subscription: code %s: %s", e.Code, e.Msg)
}

// Endpoint selects which upstream WebSocket a channel lives on.
type Endpoint int

const (
	EndpointPublic Endpoint = iota
	EndpointPrivate
	EndpointBusiness
)

func (e Endpoint) String() string {
	switch e {
	case EndpointPrivate:
		return "private"
	case EndpointBusiness:
		return "business"
	}
	return "public"
}

// State is a subscription lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateSubscribing
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	}
	return "closed"
}

// EventKind discriminates Event.
type EventKind int

const (
	EventSubscribed EventKind = iota
	EventData
	EventError
)

// Event is one item of a subscription's output stream. Payload is one of
// BookView, api.Ticker, api.Candle, api.Order, api.Fill, api.Position or
// api.Balance depending on the channel.
type Event struct {
	Kind     EventKind
	Existing bool // part of the initial state rather than a live change
	Payload  any
	Err      error
}

// Channel is one subscription variant. Variants differ only in where they
// connect, what they subscribe to, and how pushes become events.
type Channel interface {
	// Kind names the channel for logs and metrics.
	Kind() string
	Endpoint() Endpoint
	Args() []connection.ChannelArg
	// Handle converts one push into events. An error forces a reconnect.
	Handle(f *connection.DataFrame) ([]Event, error)
}

// Snapshotter is implemented by channels that deliver existing state
// after every confirmation, the first and each one after a reconnect.
// Live pushes received meanwhile are held and replayed after the snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]Event, error)
}

// Resetter is implemented by channels with per-connection state.
type Resetter interface {
	Reset()
}

// CandleSource backfills bars.
type CandleSource interface {
	GetCandlesSince(ctx context.Context, instID, bar string, from int64, maxPages int) ([]api.Candle, error)
}

// PortfolioSource fetches existing portfolio records.
type PortfolioSource interface {
	GetPendingOrders(ctx context.Context, instID string) ([]api.Order, error)
	GetFills(ctx context.Context, instID string) ([]api.Fill, error)
	GetPositions(ctx context.Context) ([]api.Position, error)
	GetBalance(ctx context.Context) (*api.Balance, error)
}

// Endpoints are the upstream WebSocket URLs.
type Endpoints struct {
	Public   string
	Private  string
	Business string
}

func (e Endpoints) url(ep Endpoint) string {
	switch ep {
	case EndpointPrivate:
		return e.Private
	case EndpointBusiness:
		return e.Business
	}
	return e.Public
}

// Fixed engine timings.
const (
	ReconnectBackoff = time.Second
	SubscribeTimeout = 5 * time.Second
)
