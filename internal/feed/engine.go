package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/astras-gateway/internal/auth"
	"github.com/rickgao/astras-gateway/internal/connection"
	"github.com/rickgao/astras-gateway/internal/metrics"
)

// Config configures the subscription engine.
type Config struct {
	Endpoints        Endpoints
	Credentials      *auth.Credentials
	Backoff          time.Duration
	SubscribeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	BufferSize       int // events buffered per subscription
}

func (c *Config) applyDefaults() {
	if c.Backoff <= 0 {
		c.Backoff = ReconnectBackoff
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = SubscribeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = connection.KeepaliveInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = connection.PongTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
}

// Engine starts subscriptions. Each subscription owns its own upstream
// connection and runs until its context is cancelled or the upstream
// rejects it.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a subscription engine.
func NewEngine(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Engine{cfg: cfg, logger: logger, metrics: m}
}

// Subscribe starts ch and returns its event stream. The stream is closed
// once the subscription reaches StateClosed: after ctx is cancelled (a
// best-effort unsubscribe is sent first) or after a terminal error event.
func (e *Engine) Subscribe(ctx context.Context, ch Channel) <-chan Event {
	s := &subscription{
		engine: e,
		ch:     ch,
		events: make(chan Event, e.cfg.BufferSize),
		logger: e.logger.With("channel", ch.Kind(), "args", argsString(ch.Args())),
	}
	go s.run(ctx)
	return s.events
}

type subscription struct {
	engine *Engine
	ch     Channel
	events chan Event
	logger *slog.Logger

	client     connection.Client
	subscribed bool
	confirmed  bool // first confirmation reported
	backlog    []*connection.DataFrame
}

// run drives the state machine until StateClosed.
func (s *subscription) run(ctx context.Context) {
	defer close(s.events)

	private := s.ch.Endpoint() == EndpointPrivate
	state := StateConnecting

	for state != StateClosed {
		var err error
		next := state

		switch state {
		case StateConnecting:
			err = s.connect(ctx)
			next = StateSubscribing
			if private {
				next = StateAuthenticating
			}

		case StateAuthenticating:
			if err = connection.Login(ctx, s.client, s.engine.cfg.Credentials, s.engine.cfg.SubscribeTimeout); err == nil {
				next = StateSubscribing
			}

		case StateSubscribing:
			if err = s.subscribe(ctx); err == nil {
				next = StateStreaming
			}

		case StateStreaming:
			err = s.stream(ctx)

		case StateReconnecting:
			s.teardown(false)
			s.engine.metrics.Reconnected(s.ch.Kind())
			select {
			case <-ctx.Done():
				next = StateClosed
			case <-time.After(s.engine.cfg.Backoff):
				next = StateConnecting
			}
		}

		if err != nil {
			next = s.onError(ctx, state, err)
		}
		if next != state {
			s.logger.Debug("subscription state", "from", state, "to", next)
		}
		state = next
	}

	s.teardown(ctx.Err() != nil)
}

// onError picks the state after err was returned in state.
func (s *subscription) onError(ctx context.Context, state State, err error) State {
	if ctx.Err() != nil {
		return StateClosed
	}

	var subErr *SubscribeError
	if errors.As(err, &subErr) || errors.Is(err, connection.ErrAuthentication) {
		s.logger.Warn("subscription rejected", "state", state, "error", err)
		s.emit(ctx, Event{Kind: EventError, Err: err})
		return StateClosed
	}

	s.logger.Warn("subscription interrupted, reconnecting", "state", state, "error", err, "backoff", s.engine.cfg.Backoff)
	return StateReconnecting
}

func (s *subscription) connect(ctx context.Context) error {
	cfg := connection.DefaultClientConfig(s.engine.cfg.Endpoints.url(s.ch.Endpoint()))
	cfg.PingInterval = s.engine.cfg.PingInterval
	cfg.PongTimeout = s.engine.cfg.PongTimeout

	client := connection.NewClient(cfg, s.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	s.client = client

	if r, ok := s.ch.(Resetter); ok {
		r.Reset()
	}
	return nil
}

// subscribe sends the subscribe frame and waits for one confirmation per
// argument. Pushes that arrive early are kept for streaming.
func (s *subscription) subscribe(ctx context.Context) error {
	args := s.ch.Args()
	if err := s.send(connection.OpSubscribe, args); err != nil {
		return err
	}

	timer := time.NewTimer(s.engine.cfg.SubscribeTimeout)
	defer timer.Stop()

	remaining := len(args)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrSubscribeTimeout
		case err := <-s.client.Errors():
			return err
		case msg := <-s.client.Messages():
			frame, err := connection.DecodeFrame(msg.Data)
			if err != nil {
				continue
			}
			switch f := frame.(type) {
			case *connection.EventFrame:
				switch f.Event {
				case connection.OpSubscribe:
					remaining--
				case "error":
					return &SubscribeError{Code: f.Code, Msg: f.Msg}
				}
			case *connection.DataFrame:
				s.backlog = append(s.backlog, f)
			}
		}
	}

	s.subscribed = true
	s.logger.Info("subscription confirmed")

	if !s.confirmed {
		s.confirmed = true
		s.emit(ctx, Event{Kind: EventSubscribed})
	}
	return nil
}

// stream delivers pushes until the connection fails or ctx ends. Each
// connection first runs the channel's snapshot, holding live pushes until
// the snapshot has been emitted, so state missed while reconnecting is
// fetched again.
func (s *subscription) stream(ctx context.Context) error {
	if snap, ok := s.ch.(Snapshotter); ok {
		if err := s.runSnapshot(ctx, snap); err != nil {
			return err
		}
	}

	backlog := s.backlog
	s.backlog = nil
	for _, f := range backlog {
		if err := s.handle(ctx, f); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.client.Errors():
			return err
		case msg := <-s.client.Messages():
			frame, err := connection.DecodeFrame(msg.Data)
			if err != nil {
				s.logger.Debug("ignoring frame", "error", err)
				continue
			}
			switch f := frame.(type) {
			case *connection.DataFrame:
				if err := s.handle(ctx, f); err != nil {
					return err
				}
			case *connection.EventFrame:
				switch f.Event {
				case "error":
					return &streamError{code: f.Code, msg: f.Msg}
				case "notice":
					return ErrUpstreamNotice
				}
			}
		}
	}
}

func (s *subscription) runSnapshot(ctx context.Context, snap Snapshotter) error {
	type result struct {
		events []Event
		err    error
	}
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan result, 1)
	go func() {
		events, err := snap.Snapshot(sctx)
		done <- result{events, err}
	}()

	// The snapshot touches channel state, so it must finish before the
	// next connection reuses the channel.
	abort := func(err error) error {
		cancel()
		<-done
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		case err := <-s.client.Errors():
			return abort(err)
		case msg := <-s.client.Messages():
			frame, err := connection.DecodeFrame(msg.Data)
			if err != nil {
				continue
			}
			if f, ok := frame.(*connection.DataFrame); ok {
				s.backlog = append(s.backlog, f)
			}
		case res := <-done:
			if res.err != nil {
				s.logger.Warn("snapshot failed, streaming without it", "error", res.err)
			}
			for _, ev := range res.events {
				ev.Existing = true
				s.emit(ctx, ev)
			}
			return nil
		}
	}
}

func (s *subscription) handle(ctx context.Context, f *connection.DataFrame) error {
	events, err := s.ch.Handle(f)
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.emit(ctx, ev)
	}
	return nil
}

func (s *subscription) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *subscription) send(op string, args []connection.ChannelArg) error {
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	data, err := json.Marshal(connection.Request{Op: op, Args: anyArgs})
	if err != nil {
		return err
	}
	return s.client.Send(data)
}

// teardown closes the connection, sending an unsubscribe first when the
// subscription is being cancelled.
func (s *subscription) teardown(cancelled bool) {
	if s.client == nil {
		return
	}
	if cancelled && s.subscribed {
		if err := s.send(connection.OpUnsubscribe, s.ch.Args()); err != nil {
			s.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	s.client.Close()
	s.client = nil
	s.subscribed = false
	s.backlog = nil
}

// streamError is an error event received while streaming. Unlike a
// subscribe rejection it only forces a reconnect.
type streamError struct {
	code string
	msg  string
}

func (e *streamError) Error() string {
	return "upstream error event: code " + e.code + ": " + e.msg
}

func argsString(args []connection.ChannelArg) string {
	s := ""
	for i, a := range args {
		if i > 0 {
			s += ","
		}
		s += a.String()
	}
	return s
}
