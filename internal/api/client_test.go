package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/astras-gateway/internal/auth"
)

func newTestClient(url string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithRetries(3, 5*time.Millisecond),
		WithRateLimit(1000, 1000),
	}
	return NewClient(url, append(base, opts...)...)
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://www.okx.com")

		if c.baseURL != "https://www.okx.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://www.okx.com")
		}
		if c.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 10*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.limiter == nil || c.breaker == nil {
			t.Error("limiter and breaker should be set")
		}
		if c.Credentials() != nil {
			t.Error("credentials should be nil by default")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		creds := &auth.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}
		c := NewClient("https://www.okx.com",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithCredentials(creds),
			WithSimulated(true),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = (%d, %v), want (10, 500ms)", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.Credentials() != creds {
			t.Error("credentials not set correctly")
		}
		if !c.simulated {
			t.Error("simulated not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 200, Code: "51000", Message: "Parameter instId error"}
		want := "upstream api error 200 (code 51000): Parameter instId error"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			status   int
			code     string
			expected bool
		}{
			{500, "", true},
			{503, "", true},
			{429, "", true},
			{200, "50011", true},
			{200, "51000", false},
			{400, "", false},
			{401, "50113", false},
			{404, "", false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.status, Code: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for (%d, %q) = %v, want %v", tt.status, tt.code, got, tt.expected)
			}
		}
	})
}

func TestGet_Envelope(t *testing.T) {
	t.Run("success decodes data", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v5/market/ticker" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.URL.Query().Get("instId") != "BTC-USDT" {
				t.Errorf("instId = %q, want BTC-USDT", r.URL.Query().Get("instId"))
			}
			if !strings.HasPrefix(r.Header.Get("User-Agent"), "astras-gateway/") {
				t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
			}
			w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"43000.1","bidPx":"43000","askPx":"43000.2","ts":"1700000000000"}]}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL)
		ticker, err := c.GetTicker(context.Background(), "BTC-USDT")
		if err != nil {
			t.Fatalf("GetTicker failed: %v", err)
		}
		if ticker.Last != "43000.1" || ticker.BidPx != "43000" {
			t.Errorf("unexpected ticker: %+v", ticker)
		}
	})

	t.Run("non-zero code is an APIError and not retried", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL)
		_, err := c.GetTicker(context.Background(), "NOPE-USDT")

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T (%v)", err, err)
		}
		if apiErr.Code != "51001" {
			t.Errorf("Code = %q, want 51001", apiErr.Code)
		}
		if atomic.LoadInt32(&attempts) != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL)
		if _, err := c.ListTickers(context.Background(), InstTypeSpot); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on rate-limit code", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"code":"50011","msg":"Too Many Requests"}`))
				return
			}
			w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
		}))
		defer server.Close()

		c := newTestClient(server.URL)
		if _, err := c.ListInstruments(context.Background(), InstTypeSpot); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := newTestClient(server.URL, WithRetries(2, time.Millisecond), WithBreaker(NewBreaker("test", 100, time.Second)))
		_, err := c.ListTickers(context.Background(), InstTypeSpot)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("err = %v, want max retries exceeded", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

func TestBreakerOpens(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(server.URL,
		WithRetries(0, time.Millisecond),
		WithBreaker(NewBreaker("test", 2, time.Minute)),
	)

	for i := 0; i < 2; i++ {
		c.ListTickers(context.Background(), InstTypeSpot)
	}
	_, err := c.ListTickers(context.Background(), InstTypeSpot)
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("err = %v, want open breaker", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (third call short-circuited)", attempts)
	}
}

func TestSignedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{auth.HeaderAccessKey, auth.HeaderAccessSign, auth.HeaderAccessTimestamp, auth.HeaderAccessPassphrase} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		if r.Header.Get("x-simulated-trading") != "1" {
			t.Errorf("x-simulated-trading = %q, want 1", r.Header.Get("x-simulated-trading"))
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"totalEq":"1000.5","details":[{"ccy":"USDT","eq":"1000.5","availBal":"900"}]}]}`))
	}))
	defer server.Close()

	creds := &auth.Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}
	c := newTestClient(server.URL, WithCredentials(creds), WithSimulated(true))

	bal, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.TotalEq != "1000.5" || len(bal.Details) != 1 || bal.Details[0].Ccy != "USDT" {
		t.Errorf("unexpected balance: %+v", bal)
	}
}

func TestPrivateWithoutCredentials(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	if _, err := c.GetPositions(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestGetCandles_OldestFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bar") != "1m" {
			t.Errorf("bar = %q, want 1m", r.URL.Query().Get("bar"))
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700000120000","3","4","2","3.5","10","0","0","0"],
			["1700000060000","2","3","1","3","11","0","0","1"],
			["1700000000000","1","2","1","2","12","0","0","1"]]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	candles, err := c.GetCandles(context.Background(), CandlesOptions{InstID: "BTC-USDT", Bar: "1m"})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("len = %d, want 3", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Ts <= candles[i-1].Ts {
			t.Errorf("candles not ascending at %d: %d <= %d", i, candles[i].Ts, candles[i-1].Ts)
		}
	}
	if candles[2].Confirm {
		t.Error("newest candle should be unconfirmed")
	}
	if !candles[0].Close.Equal(candles[0].High) {
		t.Errorf("first close = %s, want 2", candles[0].Close)
	}
}

func TestGetCandlesSince(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			if r.URL.Path != "/api/v5/market/candles" {
				t.Errorf("first page path = %q", r.URL.Path)
			}
			w.Write([]byte(`{"code":"0","msg":"","data":[
				["300","1","1","1","1","1","0","0","0"],
				["240","1","1","1","1","1","0","0","1"]]}`))
		default:
			if r.URL.Path != "/api/v5/market/history-candles" {
				t.Errorf("later page path = %q", r.URL.Path)
			}
			if r.URL.Query().Get("after") != "240" {
				t.Errorf("after = %q, want 240", r.URL.Query().Get("after"))
			}
			w.Write([]byte(`{"code":"0","msg":"","data":[
				["180","1","1","1","1","1","0","0","1"],
				["120","1","1","1","1","1","0","0","1"],
				["60","1","1","1","1","1","0","0","1"]]}`))
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	candles, err := c.GetCandlesSince(context.Background(), "BTC-USDT", "1m", 120, 5)
	if err != nil {
		t.Fatalf("GetCandlesSince failed: %v", err)
	}

	want := []int64{120, 180, 240, 300}
	if len(candles) != len(want) {
		t.Fatalf("len = %d, want %d", len(candles), len(want))
	}
	for i, ts := range want {
		if candles[i].Ts != ts {
			t.Errorf("candles[%d].Ts = %d, want %d", i, candles[i].Ts, ts)
		}
	}
}

func TestParseCandle(t *testing.T) {
	if _, err := ParseCandle([]string{"1", "2"}); err == nil {
		t.Error("expected error for short row")
	}
	if _, err := ParseCandle([]string{"x", "1", "1", "1", "1", "1"}); err == nil {
		t.Error("expected error for bad ts")
	}
	c, err := ParseCandle([]string{"1700000000000", "1.5", "2", "1", "1.75", "100", "0", "0", "1"})
	if err != nil {
		t.Fatalf("ParseCandle failed: %v", err)
	}
	if c.Ts != 1700000000000 || !c.Confirm || c.Close.String() != "1.75" {
		t.Errorf("unexpected candle: %+v", c)
	}
}
