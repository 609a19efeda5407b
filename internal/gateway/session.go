package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/astras-gateway/internal/model"
)

// session is one client connection carrying many logical streams, each
// keyed by the guid the client chose.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	out    *outbox
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards subs and orders outbound frames against cancellation.
	mu   sync.Mutex
	subs map[string]*subscription

	orders chan Request

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSession(srv *Server, conn *websocket.Conn, remote string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		srv:    srv,
		conn:   conn,
		out:    newOutbox(defaultOutboxSize, srv.cfg.OutboxLimit),
		logger: srv.logger.With("remote", remote),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
		orders: make(chan Request, orderQueueSize),
	}
}

// run serves the session until the client goes away, then cancels every
// subscription and waits for them to finish.
func (s *session) run() {
	s.srv.metrics.SessionOpened()
	defer s.srv.metrics.SessionClosed()
	s.logger.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()
	go s.pingLoop()
	s.wg.Add(1)
	go s.orderLoop()

	s.readPump()
	close(s.orders)

	s.cancel()
	s.mu.Lock()
	for guid, sub := range s.subs {
		sub.cancel()
		delete(s.subs, guid)
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.out.Close()
	<-writerDone
	s.logger.Info("client disconnected")
}

func (s *session) readPump() {
	s.conn.SetReadLimit(s.srv.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debug("client read failed", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(data)
	}
}

// writePump is the only writer of data frames.
func (s *session) writePump() {
	defer s.conn.Close()

	for {
		f, ok := s.out.Pop()
		if !ok {
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.srv.cfg.WriteTimeout))
			return
		}

		s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
		if f.data != nil {
			if err := s.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				s.logger.Debug("client write failed", "error", err)
				s.out.Close()
				return
			}
		}
		if f.close {
			reason := f.reason
			if reason == "" {
				reason = closeReason(f.data)
			}
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(f.code, reason),
				time.Now().Add(s.srv.cfg.WriteTimeout))
			return
		}
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.srv.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// closeReason extracts the message of a failure ack for the close frame.
// Control frames carry at most 123 bytes of reason.
func closeReason(data []byte) string {
	var ack model.Ack
	if json.Unmarshal(data, &ack) != nil {
		return ""
	}
	reason := ack.Message
	if len(reason) > 123 {
		reason = reason[:123]
	}
	return reason
}

// dispatch routes one client message by opcode.
func (s *session) dispatch(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendAck("", http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}
	s.logger.Debug("client request", "opcode", req.Opcode, "guid", req.GUID)

	switch req.Opcode {
	case OpAuthorize:
		if !s.srv.authorized(req.Token) {
			s.sendAck(req.GUID, http.StatusUnauthorized, "Invalid token")
			return
		}
		s.sendAck(req.GUID, http.StatusOK, "Handled successfully")
		return
	case OpPing:
		s.sendAck(req.GUID, http.StatusOK, "Handled successfully")
		return
	case OpUnsubscribe:
		s.unsubscribe(req.GUID)
		s.sendAck(req.GUID, http.StatusOK, "Handled successfully")
		return
	}

	subscribe, mutate := isSubscribeOp(req.Opcode), isOrderOp(req.Opcode)
	if !subscribe && !mutate {
		s.sendAck(req.GUID, http.StatusBadRequest, fmt.Sprintf("%v: %q", ErrUnknownOpcode, req.Opcode))
		return
	}
	if req.Token == "" {
		s.send(model.Envelope{
			Data: model.ErrorData{Error: "TokenRequired", Message: "Token is required for opcode " + req.Opcode},
			GUID: req.GUID,
		})
		return
	}
	if !s.srv.authorized(req.Token) {
		if mutate {
			s.fail(req.GUID, ErrUnauthorized)
			return
		}
		s.sendAck(req.GUID, http.StatusUnauthorized, "Invalid token")
		return
	}

	if subscribe {
		s.startSubscription(req)
		return
	}
	s.orders <- req
}

func isSubscribeOp(op string) bool {
	switch op {
	case OpBars, OpOrderBook, OpQuotes, OpOrders, OpTrades, OpPositions, OpSummaries:
		return true
	}
	return false
}

func isOrderOp(op string) bool {
	switch op {
	case OpCreateMarket, OpCreateLimit, OpDeleteMarket, OpDeleteLimit, OpUpdateLimit:
		return true
	}
	return false
}

// send queues v as one text frame.
func (s *session) send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal outbound message", "error", err)
		return false
	}
	return s.sendRaw(data)
}

func (s *session) sendRaw(data []byte) bool {
	if s.out.Push(frame{data: data}) {
		return true
	}
	if s.out.Len() >= s.srv.cfg.OutboxLimit {
		s.logger.Warn("dropping slow client", "queued", s.out.Len())
		s.conn.Close()
	}
	return false
}

func (s *session) sendAck(guid string, code int, message string) bool {
	return s.send(model.Ack{Message: message, HTTPCode: code, RequestGUID: guid})
}

// fail reports an order failure and closes the whole connection.
func (s *session) fail(guid string, err error) {
	code := HTTPCode(err)
	data, _ := json.Marshal(model.Ack{Message: err.Error(), HTTPCode: code, RequestGUID: guid})

	closeCode := websocket.CloseInternalServerErr
	if code < http.StatusInternalServerError {
		closeCode = websocket.ClosePolicyViolation
	}
	s.logger.Warn("order request failed, closing connection", "guid", guid, "code", code, "error", err)
	s.out.Push(frame{data: data, close: true, code: closeCode})
}

// closeWith sends a close frame after the queued frames.
func (s *session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		if !s.out.Push(frame{close: true, code: code, reason: reason}) {
			s.conn.Close()
		}
	})
}

// errorEnvelope reports the end of a logical stream.
func errorEnvelope(guid string, err error) model.Envelope {
	return model.Envelope{
		Data: model.ErrorData{Error: "SubscriptionError", Message: err.Error()},
		GUID: guid,
	}
}
