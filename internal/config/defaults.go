package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 1 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingInterval      = 25 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultStreamBufferSize  = 1000
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultAuthSource        = AuthSourceEnv
	DefaultTokenEnv          = "TRADEDASH_TOKEN"
	DefaultRefreshInterval   = 5 * time.Minute
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultRecorderBuffer    = 10000
	DefaultPollInterval      = 30 * time.Second
	DefaultPollTimeout       = 10 * time.Second
	DefaultHealthPort        = 8080
	DefaultHealthPath        = "/health"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultChannels are cached when stream.channels is empty.
var DefaultChannels = []string{
	"price-update",
	"market-overview",
	"option-chain",
	"signal-alert",
}

func (c *Config) applyDefaults() {
	// Stream defaults
	if c.Stream.ReconnectAttempts == 0 {
		c.Stream.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}
	if len(c.Stream.Channels) == 0 {
		c.Stream.Channels = append([]string(nil), DefaultChannels...)
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Auth defaults
	if c.Auth.Source == "" {
		c.Auth.Source = DefaultAuthSource
	}
	if c.Auth.Source == AuthSourceEnv && c.Auth.TokenEnv == "" {
		c.Auth.TokenEnv = DefaultTokenEnv
	}
	if c.Auth.RefreshInterval == 0 {
		c.Auth.RefreshInterval = DefaultRefreshInterval
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Recorder defaults
	if len(c.Recorder.Channels) == 0 {
		c.Recorder.Channels = append([]string(nil), c.Stream.Channels...)
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultRecorderBuffer
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
