package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListen             = ":8080"
	DefaultWSPath             = "/ws"
	DefaultCWSPath            = "/cws"
	DefaultReadLimit          = 1 << 20
	DefaultWriteTimeout       = 5 * time.Second
	DefaultSendBuffer         = 1024
	DefaultRestURL            = "https://www.okx.com"
	DefaultPublicWSURL        = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultPrivateWSURL       = "wss://ws.okx.com:8443/ws/v5/private"
	DefaultBusinessWSURL      = "wss://ws.okx.com:8443/ws/v5/business"
	DefaultAPITimeout         = 10 * time.Second
	DefaultMaxRetries         = 3
	DefaultRateLimit          = 10.0
	DefaultRateBurst          = 20
	DefaultBreakerFailures    = 5
	DefaultBreakerOpenTimeout = 30 * time.Second
	DefaultExchange           = "OKX"
	DefaultPortfolio          = "OKX"
	DefaultSlimMinInterval    = 10 * time.Millisecond
	DefaultSimpleMinInterval  = 25 * time.Millisecond
	DefaultIdempotencyTTL     = time.Hour
	DefaultInstrumentCacheTTL = 10 * time.Minute
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// DefaultInstrumentClasses are the instrument classes loaded into the
// instrument cache when none are configured.
var DefaultInstrumentClasses = []string{"SPOT", "SWAP"}

// ApplyDefaults fills every zero-valued optional field.
func (c *GatewayConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.CWSPath == "" {
		c.Server.CWSPath = DefaultCWSPath
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}

	// Upstream defaults
	if c.Upstream.RestURL == "" {
		c.Upstream.RestURL = DefaultRestURL
	}
	if c.Upstream.PublicWSURL == "" {
		c.Upstream.PublicWSURL = DefaultPublicWSURL
	}
	if c.Upstream.PrivateWSURL == "" {
		c.Upstream.PrivateWSURL = DefaultPrivateWSURL
	}
	if c.Upstream.BusinessWSURL == "" {
		c.Upstream.BusinessWSURL = DefaultBusinessWSURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultAPITimeout
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}
	if c.Upstream.RateLimit == 0 {
		c.Upstream.RateLimit = DefaultRateLimit
	}
	if c.Upstream.RateBurst == 0 {
		c.Upstream.RateBurst = DefaultRateBurst
	}
	if c.Upstream.Breaker.ConsecutiveFailures == 0 {
		c.Upstream.Breaker.ConsecutiveFailures = DefaultBreakerFailures
	}
	if c.Upstream.Breaker.OpenTimeout == 0 {
		c.Upstream.Breaker.OpenTimeout = DefaultBreakerOpenTimeout
	}

	// Gateway defaults
	if c.Gateway.Exchange == "" {
		c.Gateway.Exchange = DefaultExchange
	}
	if c.Gateway.Portfolio == "" {
		c.Gateway.Portfolio = DefaultPortfolio
	}
	if len(c.Gateway.InstrumentClasses) == 0 {
		c.Gateway.InstrumentClasses = append([]string(nil), DefaultInstrumentClasses...)
	}
	if c.Gateway.SlimMinInterval == 0 {
		c.Gateway.SlimMinInterval = DefaultSlimMinInterval
	}
	if c.Gateway.SimpleMinInterval == 0 {
		c.Gateway.SimpleMinInterval = DefaultSimpleMinInterval
	}
	if c.Gateway.IdempotencyTTL == 0 {
		c.Gateway.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if c.Gateway.InstrumentCacheTTL == 0 {
		c.Gateway.InstrumentCacheTTL = DefaultInstrumentCacheTTL
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
