package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/model"
	"github.com/rickgao/astras-gateway/internal/translate"
)

const (
	defaultBookDepth = 20
	maxBookDepth     = 50
)

// subscription is one logical client stream.
type subscription struct {
	guid   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// stream is a resolved subscription request.
type stream struct {
	ch       feed.Channel
	interval time.Duration // zero delivers every event
	render   func(feed.Event) (any, bool)
}

// replaceSubscription installs next under guid and cancels the
// subscription it replaces, which is returned so the caller can wait for it.
func (s *session) replaceSubscription(guid string, next *subscription) *subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.subs[guid]
	s.subs[guid] = next
	if prev != nil {
		prev.cancel()
	}
	return prev
}

func (s *session) unsubscribe(guid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[guid]; ok {
		sub.cancel()
		delete(s.subs, guid)
	}
}

func (s *session) removeSubscription(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub.guid] == sub {
		delete(s.subs, sub.guid)
	}
}

// startSubscription replaces any stream under the request guid and starts
// the new one without blocking the reader.
func (s *session) startSubscription(req Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	sub := &subscription{
		guid:   req.GUID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	prev := s.replaceSubscription(req.GUID, sub)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sub.done)
		defer cancel()
		defer s.removeSubscription(sub)

		if prev != nil {
			<-prev.done
		}
		if ctx.Err() != nil {
			return
		}
		s.serve(sub, req)
	}()
}

// serve opens the upstream channel, waits for its confirmation, acks the
// client and then pumps events until the stream ends.
func (s *session) serve(sub *subscription, req Request) {
	st, err := s.buildStream(sub.ctx, req)
	if err != nil {
		s.ackIfLive(sub, HTTPCode(err), err.Error())
		return
	}
	kind := st.ch.Kind()
	logger := s.logger.With("guid", sub.guid, "channel", kind)

	s.srv.metrics.SubscriptionStarted(kind)
	defer s.srv.metrics.SubscriptionEnded(kind)

	events := s.srv.deps.Feeds.Subscribe(sub.ctx, st.ch)
	// The engine closes events once it has torn down upstream.
	defer func() {
		sub.cancel()
		for range events {
		}
	}()

	timer := time.NewTimer(s.srv.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case ev, ok := <-events:
		switch {
		case !ok:
			s.ackIfLive(sub, http.StatusInternalServerError, ErrStreamEnded.Error())
			return
		case ev.Kind == feed.EventError:
			logger.Warn("subscription rejected", "error", ev.Err)
			s.ackIfLive(sub, HTTPCode(ev.Err), ev.Err.Error())
			return
		case ev.Kind != feed.EventSubscribed:
			logger.Error("unexpected event before confirmation", "kind", ev.Kind)
			s.ackIfLive(sub, http.StatusInternalServerError, ErrStreamEnded.Error())
			return
		}
	case <-timer.C:
		logger.Warn("subscription not confirmed", "timeout", s.srv.cfg.ConfirmTimeout)
		s.ackIfLive(sub, http.StatusRequestTimeout, ErrConfirmTimeout.Error())
		return
	case <-sub.ctx.Done():
		return
	}

	if !s.ackIfLive(sub, http.StatusOK, "Handled successfully") {
		return
	}
	logger.Info("subscription confirmed", "interval", st.interval)

	if err := s.pump(sub, events, st); err != nil {
		logger.Warn("subscription failed", "error", err)
		s.deliver(sub, errorEnvelope(sub.guid, err))
	}
}

// buildStream maps a subscribe request to an upstream channel and the
// translator for its events.
func (s *session) buildStream(ctx context.Context, req Request) (stream, error) {
	format := model.ParseFormat(req.Format)
	meta := s.srv.meta
	deps := s.srv.deps

	if req.Portfolio != "" && req.Portfolio != meta.Portfolio {
		return stream{}, fmt.Errorf("%w: unknown portfolio %q", ErrBadRequest, req.Portfolio)
	}

	var portfolio feed.PortfolioSource
	if !req.SkipHistory {
		portfolio = deps.Portfolio
	}

	switch req.Opcode {
	case OpQuotes:
		instID, err := s.resolveSymbol(ctx, req)
		if err != nil {
			return stream{}, err
		}
		return stream{
			ch:       &feed.QuotesChannel{InstID: instID},
			interval: s.interval(format, req.Frequency),
			render: func(ev feed.Event) (any, bool) {
				t, ok := ev.Payload.(api.Ticker)
				return translate.Quote(t, meta, format), ok
			},
		}, nil

	case OpOrderBook:
		instID, err := s.resolveSymbol(ctx, req)
		if err != nil {
			return stream{}, err
		}
		depth := req.Depth
		if depth <= 0 {
			depth = defaultBookDepth
		}
		if depth > maxBookDepth {
			depth = maxBookDepth
		}
		return stream{
			ch:       &feed.BookChannel{InstID: instID, Depth: depth},
			interval: s.interval(format, req.Frequency),
			render: func(ev feed.Event) (any, bool) {
				v, ok := ev.Payload.(feed.BookView)
				return translate.Book(v, ev.Existing, format), ok
			},
		}, nil

	case OpBars:
		instID, err := s.resolveSymbol(ctx, req)
		if err != nil {
			return stream{}, err
		}
		bar, err := translate.Timeframe(string(req.TF))
		if err != nil {
			return stream{}, err
		}
		ch := &feed.BarsChannel{InstID: instID, Bar: bar, From: req.From * 1000}
		if !req.SkipHistory {
			ch.Source = deps.Candles
		}
		return stream{
			ch: ch,
			render: func(ev feed.Event) (any, bool) {
				c, ok := ev.Payload.(api.Candle)
				return translate.Bar(c, format), ok
			},
		}, nil

	case OpOrders:
		sides := deps.Orders.Sides()
		return stream{
			ch: &feed.OrdersChannel{Source: portfolio},
			render: func(ev feed.Event) (any, bool) {
				o, ok := ev.Payload.(api.Order)
				if ok {
					sides.Put(o.OrdID, o.InstID)
				}
				return translate.Order(o, ev.Existing, meta, format), ok
			},
		}, nil

	case OpTrades:
		return stream{
			ch: &feed.TradesChannel{Source: portfolio},
			render: func(ev feed.Event) (any, bool) {
				f, ok := ev.Payload.(api.Fill)
				return translate.Trade(f, ev.Existing, meta, format), ok
			},
		}, nil

	case OpPositions:
		return stream{
			ch: &feed.PositionsChannel{Source: portfolio},
			render: func(ev feed.Event) (any, bool) {
				p, ok := ev.Payload.(api.Position)
				return translate.Position(p, ev.Existing, meta, format), ok
			},
		}, nil

	case OpSummaries:
		return stream{
			ch: &feed.SummariesChannel{Source: portfolio},
			render: func(ev feed.Event) (any, bool) {
				b, ok := ev.Payload.(api.Balance)
				return translate.Summary(b, format), ok
			},
		}, nil
	}
	return stream{}, fmt.Errorf("%w: %q", ErrUnknownOpcode, req.Opcode)
}

func (s *session) resolveSymbol(ctx context.Context, req Request) (string, error) {
	if req.Code == "" {
		return "", fmt.Errorf("%w: code is required", ErrBadRequest)
	}
	if s.srv.deps.Instruments == nil {
		return req.Code, nil
	}
	inst, err := s.srv.deps.Instruments.Resolve(ctx, req.InstrumentGroup, req.Code)
	if err != nil {
		return "", err
	}
	return inst.InstID, nil
}

// interval is the minimum spacing of deliveries: the client frequency,
// but never below the floor of the format.
func (s *session) interval(format model.Format, frequencyMs int) time.Duration {
	floor := s.srv.cfg.SimpleMinInterval
	if format == model.FormatSlim {
		floor = s.srv.cfg.SlimMinInterval
	}
	if d := time.Duration(frequencyMs) * time.Millisecond; d > floor {
		return d
	}
	return floor
}

// ackIfLive acknowledges a subscribe request unless the subscription has
// been cancelled or replaced meanwhile.
func (s *session) ackIfLive(sub *subscription, code int, message string) bool {
	return s.deliver(sub, model.Ack{Message: message, HTTPCode: code, RequestGUID: sub.guid})
}
