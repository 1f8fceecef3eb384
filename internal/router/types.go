package router

import "time"

// RouterConfig holds configuration for the event router.
type RouterConfig struct {
	// Channels to record. Lifecycle channels are never recorded.
	Channels []string

	// Output buffer sizing
	BufferSize    int // Default: 10000
	MaxBufferSize int // Default: 0 (unbounded)

	// How often buffer statistics are logged. 0 disables.
	StatsInterval time.Duration
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BufferSize:    10000,
		StatsInterval: time.Minute,
	}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	EventsReceived int64            `json:"eventsReceived"`
	EventsRouted   int64            `json:"eventsRouted"`
	EventsRejected int64            `json:"eventsRejected"`
	PerChannel     map[string]int64 `json:"perChannel"`
	Buffer         BufferStats      `json:"buffer"`
}
