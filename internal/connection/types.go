package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrConnectFailed   = errors.New("connect failed")
	ErrConnectAborted  = errors.New("connect aborted by disconnect")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrClosedByServer  = errors.New("connection closed by server")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket transport session.
type ClientConfig struct {
	URL       string // WebSocket URL (e.g., wss://dash.example.com/stream)
	Token     string // Bearer credential for the Authorization header
	UserAgent string

	ReconnectAttempts int           // Dial retries after the first failure
	ReconnectDelay    time.Duration // Fixed wait between dial attempts

	HandshakeTimeout time.Duration
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectAttempts: 5,
		ReconnectDelay:    1 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		PingInterval:      25 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL       string
	UserAgent string

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	c := DefaultClientConfig()
	return ManagerConfig{
		ReconnectAttempts: c.ReconnectAttempts,
		ReconnectDelay:    c.ReconnectDelay,
		HandshakeTimeout:  c.HandshakeTimeout,
		PingInterval:      c.PingInterval,
		PingTimeout:       c.PingTimeout,
		WriteTimeout:      c.WriteTimeout,
		BufferSize:        c.BufferSize,
	}
}

// clientConfig builds the transport configuration for a token.
func (c ManagerConfig) clientConfig(token string) ClientConfig {
	return ClientConfig{
		URL:               c.URL,
		Token:             token,
		UserAgent:         c.UserAgent,
		ReconnectAttempts: c.ReconnectAttempts,
		ReconnectDelay:    c.ReconnectDelay,
		HandshakeTimeout:  c.HandshakeTimeout,
		PingInterval:      c.PingInterval,
		PingTimeout:       c.PingTimeout,
		WriteTimeout:      c.WriteTimeout,
		BufferSize:        c.BufferSize,
	}
}

// State is the lifecycle state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State         State
	SessionID     string // Empty when not connected
	Subscriptions int
	Channels      int
	Sessions      int64 // Transports created since start
	Reconnects    int64 // Successful re-establishments after a drop
}
