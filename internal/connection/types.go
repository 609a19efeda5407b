package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")

	ErrAuthentication = errors.New("upstream authentication failed")
	ErrConnectTimeout = errors.New("upstream connect timeout")
	ErrLoginTimeout   = errors.New("upstream login timeout")
	ErrEmptyResponse  = errors.New("upstream reply carried no data")
	ErrConnectionLost = errors.New("upstream connection lost")
	ErrDuplicateID    = errors.New("correlation id already pending")
	ErrUnknownFrame   = errors.New("unrecognized upstream frame")
)

// Fixed protocol timings. One second is the protocol's time unit.
const (
	HandshakeTimeout  = 5 * time.Second
	ReplyTimeout      = 5 * time.Second
	KeepaliveInterval = 5 * time.Second
	PongTimeout       = 5 * time.Second
)

// CommandError is a non-success reply to a trading command.
type CommandError struct {
	Op      string
	Code    string
	Msg     string
	SubCode string // per-item code from data[0], if any
	SubMsg  string
}

func (e *CommandError) Error() string {
	s := fmt.Sprintf("upstream %s failed: code %s", e.Op, e.Code)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.SubCode != "" && e.SubCode != "0" {
		s += fmt.Sprintf(" (sCode %s: %s)", e.SubCode, e.SubMsg)
	}
	return s
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Request is an outbound frame: commands, login, subscribe and unsubscribe.
type Request struct {
	ID   string `json:"id,omitempty"`
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// ChannelArg identifies one upstream channel subscription.
type ChannelArg struct {
	Channel    string `json:"channel"`
	InstID     string `json:"instId,omitempty"`
	InstType   string `json:"instType,omitempty"`
	InstFamily string `json:"instFamily,omitempty"`
	Ccy        string `json:"ccy,omitempty"`
}

func (a ChannelArg) String() string {
	switch {
	case a.InstID != "":
		return a.Channel + ":" + a.InstID
	case a.InstType != "":
		return a.Channel + ":" + a.InstType
	}
	return a.Channel
}

// Frame is one decoded inbound message. The concrete type is one of
// *EventFrame, *ReplyFrame or *DataFrame.
type Frame interface {
	frame()
}

// EventFrame is a login, subscribe, unsubscribe, error or notice event.
type EventFrame struct {
	Event  string
	Code   string
	Msg    string
	Arg    *ChannelArg
	ConnID string
}

// ReplyFrame answers a command sent with an id.
type ReplyFrame struct {
	ID   string
	Op   string
	Code string
	Msg  string
	Data []ReplyItem
}

// ReplyItem is the per-order part of a command reply.
type ReplyItem struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	Tag     string `json:"tag"`
	TS      string `json:"ts"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// DataFrame is a channel push.
type DataFrame struct {
	Arg    ChannelArg
	Action string // "snapshot" or "update" on book channels
	Data   json.RawMessage
}

func (*EventFrame) frame() {}
func (*ReplyFrame) frame() {}
func (*DataFrame) frame()  {}

// wireFrame is the union of every inbound field, used only for decoding.
type wireFrame struct {
	Event  string          `json:"event"`
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	ConnID string          `json:"connId"`
	Action string          `json:"action"`
	Arg    *ChannelArg     `json:"arg"`
	Data   json.RawMessage `json:"data"`
}

// DecodeFrame classifies an inbound message by its discriminating fields:
// event, then id/op, then arg plus data.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case w.Event != "":
		return &EventFrame{Event: w.Event, Code: w.Code, Msg: w.Msg, Arg: w.Arg, ConnID: w.ConnID}, nil

	case w.ID != "" || isCommandOp(w.Op):
		reply := &ReplyFrame{ID: w.ID, Op: w.Op, Code: w.Code, Msg: w.Msg}
		if len(w.Data) > 0 && string(w.Data) != "null" {
			if err := json.Unmarshal(w.Data, &reply.Data); err != nil {
				return nil, fmt.Errorf("decode reply data: %w", err)
			}
		}
		return reply, nil

	case w.Arg != nil && len(w.Data) > 0:
		return &DataFrame{Arg: *w.Arg, Action: w.Action, Data: w.Data}, nil
	}

	return nil, ErrUnknownFrame
}

func isCommandOp(op string) bool {
	switch op {
	case OpOrder, OpCancelOrder, OpAmendOrder, OpBatchOrders, OpBatchCancel:
		return true
	}
	return false
}

// Upstream ops.
const (
	OpLogin       = "login"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpOrder       = "order"
	OpCancelOrder = "cancel-order"
	OpAmendOrder  = "amend-order"
	OpBatchOrders = "batch-orders"
	OpBatchCancel = "batch-cancel-orders"
)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws.okx.com:8443/ws/v5/private)
	PingInterval     time.Duration // How often a text "ping" is sent
	PongTimeout      time.Duration // Max wait for "pong" before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial deadline
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns the protocol defaults for url.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		PingInterval:     KeepaliveInterval,
		PongTimeout:      PongTimeout,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: HandshakeTimeout,
		BufferSize:       1000,
	}
}
