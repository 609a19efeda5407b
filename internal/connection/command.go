package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewCommandID returns a fresh correlation id (32 alphanumerics, the most
// the upstream accepts).
func NewCommandID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func wrapLost(cause error) error {
	if errors.Is(cause, ErrConnectionLost) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, cause)
}

// SendCommand sends {id, op, args} on the trading session and waits for
// the reply carrying id. The whole send-then-wait sequence holds a
// session-wide lock. If the connection fails mid-command the session is
// torn down and the command retried once on a fresh session; when the
// retry fails too the first error is returned. Timeouts are not retried.
//
// A non-"0" reply code yields *CommandError; a success with no data
// yields ErrEmptyResponse.
func (s *Session) SendCommand(ctx context.Context, op string, args []any, id string) (*ReplyFrame, error) {
	if id == "" {
		id = NewCommandID()
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	start := time.Now()
	reply, err := s.sendOnce(ctx, op, args, id)
	if err != nil && errors.Is(err, ErrConnectionLost) && ctx.Err() == nil {
		s.logger.Warn("command failed on lost connection, retrying", "op", op, "id", id, "error", err)
		retryReply, retryErr := s.sendOnce(ctx, op, args, id)
		if retryErr == nil {
			reply, err = retryReply, nil
		}
	}

	if err == nil {
		err = validateReply(op, reply)
	}
	s.metrics.ObserveCommand(op, commandResult(err), time.Since(start))

	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Session) sendOnce(ctx context.Context, op string, args []any, id string) (*ReplyFrame, error) {
	lc, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := lc.register(id)
	if err != nil {
		return nil, err
	}
	defer lc.unregister(id)

	data, err := json.Marshal(Request{ID: id, Op: op, Args: args})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op, err)
	}

	if err := lc.client.Send(data); err != nil {
		err = wrapLost(err)
		s.drop(lc, err)
		return nil, err
	}

	timer := time.NewTimer(s.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	case res := <-ch:
		return res.reply, res.err
	}
}

func validateReply(op string, reply *ReplyFrame) error {
	if reply.Code != "0" {
		cmdErr := &CommandError{Op: op, Code: reply.Code, Msg: reply.Msg}
		if len(reply.Data) > 0 {
			cmdErr.SubCode = reply.Data[0].SCode
			cmdErr.SubMsg = reply.Data[0].SMsg
		}
		return cmdErr
	}
	if len(reply.Data) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}
	return nil
}

func commandResult(err error) string {
	var cmdErr *CommandError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &cmdErr):
		return "rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	}
	return "error"
}
