package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/rickgao/astras-gateway/internal/connection"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/instrument"
	"github.com/rickgao/astras-gateway/internal/order"
	"github.com/rickgao/astras-gateway/internal/translate"
)

// HTTPCode maps an error to the code reported in acknowledgments.
func HTTPCode(err error) int {
	var cmdErr *connection.CommandError
	var subErr *feed.SubscribeError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, connection.ErrAuthentication), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, connection.ErrTimeout),
		errors.Is(err, connection.ErrConnectTimeout),
		errors.Is(err, connection.ErrLoginTimeout),
		errors.Is(err, feed.ErrSubscribeTimeout),
		errors.Is(err, ErrConfirmTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.As(err, &cmdErr),
		errors.As(err, &subErr),
		errors.Is(err, instrument.ErrUnknownInstrument),
		errors.Is(err, order.ErrUnknownOrder),
		errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, translate.ErrUnsupportedTimeframe),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrUnknownOpcode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
