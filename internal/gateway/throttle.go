package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/model"
)

// pump delivers events until the stream closes or fails. With a non-zero
// interval at most one delivery happens per interval; events arriving in
// between replace the pending one instead of queueing behind it.
func (s *session) pump(sub *subscription, events <-chan feed.Event, st stream) error {
	kind := st.ch.Kind()

	var (
		limiter *rate.Limiter
		pending *feed.Event
		timer   *time.Timer
		fire    <-chan time.Time
	)
	if st.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(st.interval), 1)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	emit := func(ev feed.Event) {
		payload, ok := st.render(ev)
		if !ok {
			s.logger.Error("unexpected payload", "channel", kind, "type", fmt.Sprintf("%T", ev.Payload))
			return
		}
		if s.deliver(sub, model.Envelope{Data: payload, GUID: sub.guid}) {
			s.srv.metrics.Delivered(kind)
		}
	}

	// flush delivers the held event once its slot comes due, so the
	// client sees the latest state before the stream ends.
	flush := func() {
		if pending == nil {
			return
		}
		select {
		case <-fire:
			emit(*pending)
		case <-sub.ctx.Done():
		}
		pending, fire = nil, nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if sub.ctx.Err() != nil {
					return nil
				}
				flush()
				return ErrStreamEnded
			}
			switch ev.Kind {
			case feed.EventError:
				flush()
				return ev.Err
			case feed.EventSubscribed:
				continue
			}

			if limiter == nil {
				emit(ev)
				continue
			}
			if fire == nil && limiter.Allow() {
				emit(ev)
				continue
			}
			if pending != nil {
				merged := mergeEvents(*pending, ev)
				pending = &merged
				s.srv.metrics.Dropped(kind)
			} else {
				pending = &ev
			}
			if fire == nil {
				timer = time.NewTimer(limiter.Reserve().Delay())
				fire = timer.C
			}

		case <-fire:
			emit(*pending)
			pending, fire = nil, nil
		}
	}
}

// mergeEvents keeps the newer event but remembers that the superseded one
// carried existing state, so the first delivery still reads as a snapshot.
func mergeEvents(older, newer feed.Event) feed.Event {
	merged := newer
	merged.Existing = older.Existing || newer.Existing
	if ov, ok := older.Payload.(feed.BookView); ok && ov.Snapshot {
		if nv, ok := newer.Payload.(feed.BookView); ok {
			nv.Snapshot = true
			merged.Payload = nv
		}
	}
	return merged
}

// deliver queues v for the client unless sub has been cancelled. The check
// and the queueing happen under the session lock, so nothing is sent for a
// guid after it was replaced or unsubscribed.
func (s *session) deliver(sub *subscription, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal outbound message", "guid", sub.guid, "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ctx.Err() != nil {
		return false
	}
	return s.sendRaw(data)
}
