package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with '/', got %q", c.Server.WSPath)
	}
	if c.Server.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}

	if err := c.Upstream.validate(); err != nil {
		return err
	}

	if c.Gateway.SlimMinInterval < 0 || c.Gateway.SimpleMinInterval < 0 {
		return errors.New("gateway min intervals must be >= 0")
	}
	if c.Gateway.SlimMinInterval > c.Gateway.SimpleMinInterval {
		return fmt.Errorf("gateway.slim_min_interval (%s) cannot exceed simple_min_interval (%s)",
			c.Gateway.SlimMinInterval, c.Gateway.SimpleMinInterval)
	}
	if c.Gateway.IdempotencyTTL <= 0 {
		return errors.New("gateway.idempotency_ttl must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (u *UpstreamConfig) validate() error {
	if u.RestURL == "" {
		return errors.New("upstream.rest_url is required")
	}
	if u.PrivateWSURL == "" {
		return errors.New("upstream.private_ws_url is required")
	}
	// Credentials are all-or-nothing: market data works without them.
	set := 0
	for _, v := range []string{u.APIKey, u.SecretKey, u.Passphrase} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("upstream.api_key, secret_key and passphrase must be set together")
	}
	if u.MaxRetries < 0 {
		return errors.New("upstream.max_retries must be >= 0")
	}
	if u.RateLimit < 0 {
		return fmt.Errorf("upstream.rate_limit must be >= 0, got %v", u.RateLimit)
	}
	return nil
}
