// Package snapshot keeps the last-known event per key for a set of channels,
// so views have something to show while the live stream is down.
package snapshot

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
)

// Source is the live feed the cache listens to.
type Source interface {
	Subscribe(channel string, h connection.Handler) *connection.Subscription
	IsConnected() bool
}

// Stats holds cache statistics.
type Stats struct {
	Channels   int       `json:"channels"`
	Entries    int       `json:"entries"`
	Updates    int64     `json:"updates"`
	Seeded     int64     `json:"seeded"`
	LastUpdate time.Time `json:"lastUpdate"`
	Stale      bool      `json:"stale"`
}

// Cache stores the newest event per (channel, key).
type Cache struct {
	source   Source
	channels []string
	logger   *slog.Logger

	mu         sync.RWMutex
	entries    map[string]map[string]event.Event
	subs       map[string]*connection.Subscription
	lastUpdate time.Time

	updates atomic.Int64
	seeded  atomic.Int64
}

// New creates a cache for channels and subscribes it to source.
func New(source Source, channels []string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		source:   source,
		channels: append([]string(nil), channels...),
		logger:   logger.With("component", "snapshot"),
		entries:  make(map[string]map[string]event.Event),
		subs:     make(map[string]*connection.Subscription),
	}
	c.Attach()
	return c
}

// Attach subscribes every channel that has no active subscription. The
// manager drops all subscriptions when its session is replaced, so owners
// call Attach again after switching tokens.
func (c *Cache) Attach() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	attached := 0
	for _, ch := range c.channels {
		if c.subs[ch].Active() {
			continue
		}
		c.subs[ch] = c.source.Subscribe(ch, c.store)
		attached++
	}

	if attached > 0 {
		c.logger.Debug("cache attached", "channels", attached)
	}
	return attached
}

// store is the subscription handler.
func (c *Cache) store(ev event.Event) {
	if c.put(ev) {
		c.updates.Add(1)
	}
}

// put records ev unless a newer event already exists for its key.
func (c *Cache) put(ev event.Event) bool {
	key := event.Key(ev)

	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.entries[ev.Channel]
	if !ok {
		byKey = make(map[string]event.Event)
		c.entries[ev.Channel] = byKey
	}

	if cur, ok := byKey[key]; ok && cur.ReceivedAt.After(ev.ReceivedAt) {
		return false
	}
	byKey[key] = ev
	if ev.ReceivedAt.After(c.lastUpdate) {
		c.lastUpdate = ev.ReceivedAt
	}
	return true
}

// Seed loads events fetched out of band, such as a REST snapshot. Events on
// channels the cache does not track are ignored. Returns how many were stored.
func (c *Cache) Seed(events []event.Event) int {
	tracked := make(map[string]bool, len(c.channels))
	for _, ch := range c.channels {
		tracked[ch] = true
	}

	n := 0
	for _, ev := range events {
		if !tracked[ev.Channel] {
			continue
		}
		if c.put(ev) {
			n++
		}
	}

	c.seeded.Add(int64(n))
	return n
}

// Latest returns the newest event for key on channel.
func (c *Cache) Latest(channel, key string) (event.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ev, ok := c.entries[channel][key]
	return ev, ok
}

// Channel returns the newest event for every key on channel, ordered by key.
func (c *Cache) Channel(channel string) []event.Event {
	c.mu.RLock()
	byKey := c.entries[channel]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]event.Event, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	c.mu.RUnlock()

	return out
}

// Stale reports whether the live feed is down, meaning the cached data may
// be behind.
func (c *Cache) Stale() bool {
	return !c.source.IsConnected()
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := 0
	for _, byKey := range c.entries {
		entries += len(byKey)
	}
	stats := Stats{
		Channels:   len(c.channels),
		Entries:    entries,
		LastUpdate: c.lastUpdate,
	}
	c.mu.RUnlock()

	stats.Updates = c.updates.Load()
	stats.Seeded = c.seeded.Load()
	stats.Stale = c.Stale()
	return stats
}

// Channels returns the tracked channel names.
func (c *Cache) Channels() []string {
	return append([]string(nil), c.channels...)
}

// Close unsubscribes the cache. Cached data stays readable.
func (c *Cache) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*connection.Subscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
