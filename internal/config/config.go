package config

import "time"

// GatewayConfig is the root configuration for a gateway process.
type GatewayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Gateway  GatewaySection `yaml:"gateway"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the client-facing HTTP/WebSocket listener settings.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	WSPath       string        `yaml:"ws_path"`  // data + command socket
	CWSPath      string        `yaml:"cws_path"` // alias kept for command-only clients
	ReadLimit    int64         `yaml:"read_limit"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// UpstreamConfig holds exchange API settings.
type UpstreamConfig struct {
	RestURL       string        `yaml:"rest_url"`
	PublicWSURL   string        `yaml:"public_ws_url"`
	PrivateWSURL  string        `yaml:"private_ws_url"`
	BusinessWSURL string        `yaml:"business_ws_url"`
	APIKey        string        `yaml:"api_key"`
	SecretKey     string        `yaml:"secret_key"`
	Passphrase    string        `yaml:"passphrase"`
	Simulated     bool          `yaml:"simulated"` // sends x-simulated-trading: 1
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RateLimit     float64       `yaml:"rate_limit"` // REST requests per second
	RateBurst     int           `yaml:"rate_burst"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the REST circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// GatewaySection holds translation and session behaviour settings.
type GatewaySection struct {
	Exchange           string        `yaml:"exchange"`  // exchange label reported to clients
	Portfolio          string        `yaml:"portfolio"` // portfolio label reported to clients
	InstrumentClasses  []string      `yaml:"instrument_classes"`
	ClientTokens       []string      `yaml:"client_tokens"` // empty = any non-empty token
	SlimMinInterval    time.Duration `yaml:"slim_min_interval"`
	SimpleMinInterval  time.Duration `yaml:"simple_min_interval"`
	IdempotencyTTL     time.Duration `yaml:"idempotency_ttl"`
	InstrumentCacheTTL time.Duration `yaml:"instrument_cache_ttl"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
