package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rickgao/astras-gateway/internal/auth"
	"github.com/rickgao/astras-gateway/internal/version"
)

// ErrNoCredentials is returned by private endpoints on a client built
// without credentials.
var ErrNoCredentials = errors.New("private endpoint requires credentials")

// APIError represents an error from the upstream REST API.
type APIError struct {
	StatusCode int    // HTTP status
	Code       string // upstream code, empty for transport-level failures
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream api error %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	// 50011: request too frequent; 50001/50013: service temporarily unavailable / busy.
	switch e.Code {
	case "50011", "50001", "50013":
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// envelope is the common response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doRequest performs one HTTP request. query is appended to path and, for
// signed requests, included in the signature.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body []byte, signed bool) ([]byte, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if signed {
		headers, err := c.creds.RESTHeaders(method, requestPath, string(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Code != "" {
			apiErr.Code = env.Code
			if env.Msg != "" {
				apiErr.Message = env.Msg
			}
		}
		return nil, apiErr
	}

	return respBody, nil
}

// execute runs one attempt through the rate limiter and circuit breaker,
// then unwraps the response envelope.
func (c *Client) execute(ctx context.Context, method, path string, query url.Values, body []byte, signed bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		raw, err := c.doRequest(ctx, method, path, query, body, signed)
		if err != nil {
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Code != "0" {
			return nil, &APIError{StatusCode: http.StatusOK, Code: env.Code, Message: env.Msg, Body: raw}
		}
		return env.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(json.RawMessage), nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, body []byte, signed bool) (json.RawMessage, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		data, err := c.execute(ctx, method, path, query, body, signed)
		if err == nil {
			c.metrics.ObserveREST(path, "ok")
			return data, nil
		}

		lastErr = err

		// Check if error is retryable
		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			c.metrics.ObserveREST(path, "error")
			return nil, err
		}
	}

	c.metrics.ObserveREST(path, "error")
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET request with retries and decodes the data array.
func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool, result any) error {
	if signed && !c.creds.Valid() {
		return ErrNoCredentials
	}

	data, err := c.doWithRetry(ctx, http.MethodGet, path, query, nil, signed)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// Credentials returns the key set used for private endpoints, or nil.
func (c *Client) Credentials() *auth.Credentials {
	return c.creds
}
