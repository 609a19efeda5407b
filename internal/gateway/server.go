package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/idempotency"
	"github.com/rickgao/astras-gateway/internal/metrics"
	"github.com/rickgao/astras-gateway/internal/translate"
)

// Config holds client-facing session settings.
type Config struct {
	Exchange          string
	Portfolio         string
	ClientTokens      []string // empty accepts any non-empty token
	SlimMinInterval   time.Duration
	SimpleMinInterval time.Duration
	ReadLimit         int64
	WriteTimeout      time.Duration
	OutboxLimit       int
	OrderTimeout      time.Duration
	ConfirmTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Exchange == "" {
		c.Exchange = "OKX"
	}
	if c.Portfolio == "" {
		c.Portfolio = c.Exchange
	}
	if c.SlimMinInterval <= 0 {
		c.SlimMinInterval = 10 * time.Millisecond
	}
	if c.SimpleMinInterval <= 0 {
		c.SimpleMinInterval = 25 * time.Millisecond
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = writeWait
	}
	if c.OutboxLimit <= 0 {
		c.OutboxLimit = defaultOutboxMax
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = ConfirmTimeout
	}
}

// Deps are the collaborators a Server drives.
type Deps struct {
	Feeds       SubscriptionSource
	Orders      OrderExecutor
	Instruments InstrumentResolver   // optional; symbols pass through when nil
	Portfolio   feed.PortfolioSource // optional; existing records are skipped when nil
	Candles     feed.CandleSource    // optional; bar history is skipped when nil
	Idempotency *idempotency.Cache   // optional; a default cache is created when nil
}

// Server accepts client WebSocket connections and runs one session per
// connection.
type Server struct {
	cfg      Config
	deps     Deps
	meta     translate.Meta
	tokens   map[string]struct{}
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a gateway server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Idempotency == nil {
		deps.Idempotency = idempotency.New(idempotency.DefaultTTL, logger)
	}

	tokens := make(map[string]struct{}, len(cfg.ClientTokens))
	for _, t := range cfg.ClientTokens {
		tokens[t] = struct{}{}
	}

	return &Server{
		cfg:     cfg,
		deps:    deps,
		meta:    translate.Meta{Exchange: cfg.Exchange, Portfolio: cfg.Portfolio},
		tokens:  tokens,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the session until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, ErrSessionShutdown.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(s, conn, r.RemoteAddr)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		sess.run()

		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for sess := range s.sessions {
		sess.closeWith(websocket.CloseGoingAway, ErrSessionShutdown.Error())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gateway sessions closed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("gateway shutdown timed out", "sessions", s.Sessions())
		return ctx.Err()
	}
}

// authorized reports whether token may use the gateway.
func (s *Server) authorized(token string) bool {
	if token == "" {
		return false
	}
	if len(s.tokens) == 0 {
		return true
	}
	_, ok := s.tokens[token]
	return ok
}
