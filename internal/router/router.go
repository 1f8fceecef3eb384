// Package router moves live events off the connection manager's dispatch path
// into a buffer that the recorder drains at its own pace.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("router already started")

// Subscriber is the live feed the router listens to.
type Subscriber interface {
	Subscribe(channel string, h connection.Handler) *connection.Subscription
}

// Router copies events from the live feed into a buffer for the recorder.
type Router interface {
	// Start subscribes to the configured channels.
	Start(ctx context.Context) error

	// Stop unsubscribes and closes the buffer once in-flight handlers return.
	Stop(ctx context.Context) error

	// Attach re-subscribes channels whose subscription was dropped, e.g.
	// after the manager switched tokens. Returns how many were attached.
	Attach() int

	// Buffer returns the output buffer for the recorder to consume.
	Buffer() *GrowableBuffer[event.Event]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	feed   Subscriber
	logger *slog.Logger

	buf *GrowableBuffer[event.Event]

	// Lifecycle
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool

	mu         sync.Mutex
	subs       map[string]*connection.Subscription
	received   int64
	routed     int64
	rejected   int64
	perChannel map[string]int64
}

// NewRouter creates a new event router.
func NewRouter(cfg RouterConfig, feed Subscriber, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultRouterConfig().BufferSize
	}

	channels := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if event.IsLifecycle(ch) {
			logger.Warn("ignoring lifecycle channel for recording", "channel", ch)
			continue
		}
		channels = append(channels, ch)
	}
	cfg.Channels = channels

	return &router{
		cfg:        cfg,
		feed:       feed,
		logger:     logger.With("component", "router"),
		buf:        NewBoundedBuffer[event.Event](cfg.BufferSize, cfg.MaxBufferSize),
		subs:       make(map[string]*connection.Subscription),
		perChannel: make(map[string]int64),
	}
}

// Start subscribes to every configured channel.
func (r *router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	ctx, r.cancel = context.WithCancel(ctx)
	r.Attach()

	if r.cfg.StatsInterval > 0 {
		r.wg.Add(1)
		go r.statsLoop(ctx)
	}

	r.logger.Info("event router started",
		"channels", r.cfg.Channels,
		"buffer", r.cfg.BufferSize,
		"max_buffer", r.cfg.MaxBufferSize,
	)
	return nil
}

// Stop unsubscribes from the feed and closes the buffer.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping event router")

	r.mu.Lock()
	r.stopped = true
	subs := r.subs
	r.subs = make(map[string]*connection.Subscription)
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
	}

	r.buf.Close()
	return nil
}

// Attach subscribes every channel without an active subscription.
func (r *router) Attach() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return 0
	}

	attached := 0
	for _, ch := range r.cfg.Channels {
		if r.subs[ch].Active() {
			continue
		}
		r.subs[ch] = r.feed.Subscribe(ch, r.route)
		attached++
	}
	if attached > 0 {
		r.logger.Debug("router attached", "channels", attached)
	}
	return attached
}

// Buffer returns the output buffer.
func (r *router) Buffer() *GrowableBuffer[event.Event] {
	return r.buf
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.Lock()
	perChannel := make(map[string]int64, len(r.perChannel))
	for ch, n := range r.perChannel {
		perChannel[ch] = n
	}
	stats := RouterStats{
		EventsReceived: r.received,
		EventsRouted:   r.routed,
		EventsRejected: r.rejected,
		PerChannel:     perChannel,
	}
	r.mu.Unlock()

	stats.Buffer = r.buf.Stats()
	return stats
}

// route is the connection handler. It runs on the manager's dispatch path and
// never blocks.
func (r *router) route(ev event.Event) {
	ok := r.buf.Send(ev)

	r.mu.Lock()
	r.received++
	if ok {
		r.routed++
		r.perChannel[ev.Channel]++
	} else {
		r.rejected++
	}
	r.mu.Unlock()
}

// statsLoop periodically logs buffer pressure.
func (r *router) statsLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()

	var lastDropped int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.buf.Stats()
			if stats.Dropped > lastDropped {
				r.logger.Warn("recorder buffer overflowed",
					"dropped", stats.Dropped-lastDropped,
					"capacity", stats.Capacity,
				)
				lastDropped = stats.Dropped
			}
			r.logger.Debug("router stats",
				"buffered", stats.Count,
				"capacity", stats.Capacity,
				"resizes", stats.ResizeCount,
			)
		}
	}
}
