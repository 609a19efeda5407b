package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/astras-gateway/internal/auth"
	"github.com/rickgao/astras-gateway/internal/metrics"
)

// SessionConfig configures the authenticated trading session.
type SessionConfig struct {
	URL              string
	Credentials      *auth.Credentials
	HandshakeTimeout time.Duration // dial and login, each
	ReplyTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = HandshakeTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = ReplyTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = KeepaliveInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = PongTimeout
	}
}

// Session owns the one authenticated connection to the private trading
// channel. It is created lazily by the first command, torn down on any I/O
// failure or missed pong, and re-established on demand.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// connect serializes dial+login; current is the fast path.
	connectMu sync.Mutex
	current   atomic.Pointer[liveConn]

	// cmdMu serializes each send-then-wait sequence.
	cmdMu sync.Mutex

	closed atomic.Bool
}

// liveConn is one physical connection and its keepalive watcher.
type liveConn struct {
	client Client
	done   chan struct{}
	once   sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan result
}

type result struct {
	reply *ReplyFrame
	err   error
}

// NewSession creates a session. No connection is made until the first
// EnsureSession or SendCommand call.
func NewSession(cfg SessionConfig, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Session{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// EnsureSession returns a live, logged-in connection, establishing one if
// needed. Concurrent callers share one connect-and-login sequence.
func (s *Session) EnsureSession(ctx context.Context) (Client, error) {
	lc, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return lc.client, nil
}

// Connected reports whether a live connection currently exists.
func (s *Session) Connected() bool {
	lc := s.current.Load()
	return lc != nil && lc.client.IsConnected()
}

func (s *Session) ensure(ctx context.Context) (*liveConn, error) {
	if lc := s.current.Load(); lc != nil && lc.client.IsConnected() {
		return lc, nil
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	if lc := s.current.Load(); lc != nil {
		if lc.client.IsConnected() {
			return lc, nil
		}
		s.drop(lc, ErrConnectionLost)
	}

	if !s.cfg.Credentials.Valid() {
		return nil, ErrAuthentication
	}

	client := NewClient(ClientConfig{
		URL:              s.cfg.URL,
		PingInterval:     s.cfg.PingInterval,
		PongTimeout:      s.cfg.PongTimeout,
		WriteTimeout:     s.cfg.HandshakeTimeout,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		BufferSize:       1000,
	}, s.logger.With("channel", "trade"))

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if err := Login(ctx, client, s.cfg.Credentials, s.cfg.HandshakeTimeout); err != nil {
		client.Close()
		return nil, err
	}

	lc := &liveConn{
		client:  client,
		done:    make(chan struct{}),
		pending: make(map[string]chan result),
	}
	s.current.Store(lc)

	go s.watch(lc)

	s.logger.Info("upstream session established", "url", s.cfg.URL)
	return lc, nil
}

// watch routes replies to pending commands and tears the connection down
// on the first connection error. A lost connection gets one transparent
// re-establishment attempt; if that fails the next caller retries.
func (s *Session) watch(lc *liveConn) {
	for {
		select {
		case <-lc.done:
			return

		case err := <-lc.client.Errors():
			s.logger.Warn("upstream session lost", "error", err)
			s.metrics.Reconnected("trade")
			s.drop(lc, err)

			if s.closed.Load() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.HandshakeTimeout)
			if _, err := s.ensure(ctx); err != nil {
				s.logger.Debug("session re-establishment failed", "error", err)
			}
			cancel()
			return

		case msg := <-lc.client.Messages():
			s.dispatch(lc, msg.Data)
		}
	}
}

func (s *Session) dispatch(lc *liveConn, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		s.logger.Debug("ignoring upstream frame", "error", err, "data", string(data))
		return
	}

	switch f := frame.(type) {
	case *ReplyFrame:
		if !lc.route(f.ID, result{reply: f}) {
			s.logger.Debug("reply without pending request", "id", f.ID, "op", f.Op)
		}
	case *EventFrame:
		if f.Event == "error" {
			s.logger.Warn("upstream error event", "code", f.Code, "msg", f.Msg)
		}
	}
}

// drop discards lc, failing every pending request with cause. It is safe
// to call more than once.
func (s *Session) drop(lc *liveConn, cause error) {
	lc.once.Do(func() {
		s.current.CompareAndSwap(lc, nil)
		close(lc.done)
		lc.client.Close()

		lc.pendingMu.Lock()
		for id, ch := range lc.pending {
			select {
			case ch <- result{err: wrapLost(cause)}:
			default:
			}
			delete(lc.pending, id)
		}
		lc.pendingMu.Unlock()
	})
}

// Close tears down the connection and keepalive together. Later calls
// fail with ErrAlreadyClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if lc := s.current.Load(); lc != nil {
		s.drop(lc, ErrAlreadyClosed)
	}
	s.logger.Info("upstream session closed")
	return nil
}

func (lc *liveConn) register(id string) (chan result, error) {
	lc.pendingMu.Lock()
	defer lc.pendingMu.Unlock()

	select {
	case <-lc.done:
		return nil, ErrConnectionLost
	default:
	}
	if _, exists := lc.pending[id]; exists {
		return nil, ErrDuplicateID
	}

	ch := make(chan result, 1)
	lc.pending[id] = ch
	return ch, nil
}

func (lc *liveConn) unregister(id string) {
	lc.pendingMu.Lock()
	delete(lc.pending, id)
	lc.pendingMu.Unlock()
}

// route delivers res to the request waiting on id.
func (lc *liveConn) route(id string, res result) bool {
	lc.pendingMu.Lock()
	ch, ok := lc.pending[id]
	if ok {
		delete(lc.pending, id)
	}
	lc.pendingMu.Unlock()

	if ok {
		select {
		case ch <- res:
		default:
		}
	}
	return ok
}
