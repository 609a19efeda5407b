package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/astras-gateway/internal/auth"
)

// Login performs the login handshake on a freshly connected client. It must
// run before anything else reads client.Messages(). Frames other than the
// login result are discarded.
func Login(ctx context.Context, c Client, creds *auth.Credentials, timeout time.Duration) error {
	args, err := creds.LoginArgs(time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	data, err := json.Marshal(Request{Op: OpLogin, Args: []any{args}})
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}
	if err := c.Send(data); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrLoginTimeout
		case err := <-c.Errors():
			return fmt.Errorf("login: %w", err)
		case msg := <-c.Messages():
			frame, err := DecodeFrame(msg.Data)
			if err != nil {
				continue
			}
			ev, ok := frame.(*EventFrame)
			if !ok {
				continue
			}
			switch ev.Event {
			case OpLogin:
				if ev.Code != "" && ev.Code != "0" {
					return fmt.Errorf("%w: code %s: %s", ErrAuthentication, ev.Code, ev.Msg)
				}
				return nil
			case "error":
				return fmt.Errorf("%w: code %s: %s", ErrAuthentication, ev.Code, ev.Msg)
			}
		}
	}
}
