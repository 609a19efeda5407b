package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/rickgao/astras-gateway/internal/connection"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/instrument"
	"github.com/rickgao/astras-gateway/internal/order"
)

func TestHTTPCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"auth", fmt.Errorf("login: %w", connection.ErrAuthentication), http.StatusUnauthorized},
		{"client token", ErrUnauthorized, http.StatusUnauthorized},
		{"reply timeout", fmt.Errorf("order: %w", connection.ErrTimeout), http.StatusRequestTimeout},
		{"confirm timeout", ErrConfirmTimeout, http.StatusRequestTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusRequestTimeout},
		{"command error", fmt.Errorf("place: %w", &connection.CommandError{Op: "order", Code: "1"}), http.StatusBadRequest},
		{"subscribe error", &feed.SubscribeError{Code: "60018"}, http.StatusBadRequest},
		{"unknown instrument", instrument.ErrUnknownInstrument, http.StatusBadRequest},
		{"unknown order", order.ErrUnknownOrder, http.StatusBadRequest},
		{"lost", connection.ErrConnectionLost, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPCode(tt.err); got != tt.want {
				t.Errorf("HTTPCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
