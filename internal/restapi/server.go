package restapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/gateway"
	"github.com/rickgao/astras-gateway/internal/idempotency"
	"github.com/rickgao/astras-gateway/internal/instrument"
	"github.com/rickgao/astras-gateway/internal/metrics"
	"github.com/rickgao/astras-gateway/internal/order"
	"github.com/rickgao/astras-gateway/internal/translate"
)

// MarketData is the upstream market data used by the facade.
type MarketData interface {
	GetTicker(ctx context.Context, instID string) (*api.Ticker, error)
	GetCandlesSince(ctx context.Context, instID, bar string, from int64, maxPages int) ([]api.Candle, error)
}

// Instruments resolves and lists tradable instruments.
type Instruments interface {
	Resolve(ctx context.Context, class, symbol string) (api.Instrument, error)
	List(ctx context.Context, class string) ([]api.Instrument, error)
}

// Orders places and cancels orders.
type Orders interface {
	Create(ctx context.Context, p order.Params) (string, error)
	Cancel(ctx context.Context, orderID, symbol, class string) error
}

// Config holds facade settings.
type Config struct {
	Exchange       string
	Portfolio      string
	ClientTokens   []string // empty accepts any bearer token
	RequestTimeout time.Duration
	HistoryPages   int
}

func (c *Config) applyDefaults() {
	if c.Exchange == "" {
		c.Exchange = "OKX"
	}
	if c.Portfolio == "" {
		c.Portfolio = c.Exchange
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.HistoryPages <= 0 {
		c.HistoryPages = 10
	}
}

// Deps are the collaborators the facade calls.
type Deps struct {
	Market      MarketData
	Instruments Instruments
	Orders      Orders
	Idempotency *idempotency.Cache // optional; a default cache is created when nil
}

// Server routes REST requests.
type Server struct {
	cfg     Config
	deps    Deps
	meta    translate.Meta
	tokens  map[string]struct{}
	router  *mux.Router
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewServer creates the facade and registers its routes.
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

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		meta:    translate.Meta{Exchange: cfg.Exchange, Portfolio: cfg.Portfolio},
		tokens:  tokens,
		router:  mux.NewRouter(),
		logger:  logger,
		metrics: m,
	}
	s.setupRoutes()
	return s
}

// Router returns the route table so other handlers, such as the client
// WebSocket endpoint, can share the listener.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	md := s.router.PathPrefix("/md/v2").Subrouter()
	md.Use(s.timeoutMiddleware)
	md.HandleFunc("/Securities", s.securities).Methods(http.MethodGet)
	md.HandleFunc("/Securities/{exchange}/{symbol}", s.security).Methods(http.MethodGet)
	md.HandleFunc("/Securities/{exchange}/{symbols}/quotes", s.quotes).Methods(http.MethodGet)
	md.HandleFunc("/history", s.history).Methods(http.MethodGet)

	orders := s.router.PathPrefix("/commandapi/warptrans/TRADE/v2/client/orders").Subrouter()
	orders.Use(s.authMiddleware)
	orders.HandleFunc("/actions/{kind:market|limit}", s.createOrder).Methods(http.MethodPost)
	orders.HandleFunc("/{orderId}", s.cancelOrder).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "The requested endpoint does not exist")
	})
}

type ctxKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveHTTP(route, rec.status)
		s.logger.Debug("http request",
			"request_id", r.Context().Value(ctxKey{}),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware requires a bearer token on trading routes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Bearer token is required")
			return
		}
		if len(s.tokens) > 0 {
			if _, ok := s.tokens[token]; !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"message":"json encoding failed"}`, http.StatusInternalServerError)
		return
	}
	writeBody(w, status, data)
}

func writeBody(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeFailure maps err to a status the way socket acknowledgments do,
// with unknown instruments and orders reported as 404.
func writeFailure(w http.ResponseWriter, err error) {
	status := gateway.HTTPCode(err)
	var apiErr *api.APIError
	switch {
	case errors.Is(err, order.ErrUnknownOrder), errors.Is(err, instrument.ErrUnknownInstrument):
		status = http.StatusNotFound
	case errors.As(err, &apiErr) && !apiErr.IsRetryable():
		status = http.StatusBadRequest
	case status == http.StatusInternalServerError && errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}
