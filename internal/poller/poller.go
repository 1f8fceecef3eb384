package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tradedash/internal/event"
)

// Fetcher retrieves last-known events over REST.
type Fetcher interface {
	GetSnapshot(ctx context.Context, channels []string) ([]event.Event, error)
}

// FeedState reports whether the live stream is up.
type FeedState interface {
	IsConnected() bool
}

// ChannelSource provides the channels to poll.
type ChannelSource interface {
	Channels() []string
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(channel string, events []event.Event) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(channel string, events []event.Event) error

func (f SnapshotHandlerFunc) HandleSnapshot(channel string, events []event.Event) error {
	return f(channel, events)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 30s)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats holds poller statistics.
type Stats struct {
	Cycles  int64
	Skipped int64
	Fetched int64
	Errors  int64
}

// Poller refreshes last-known data over REST while the live stream is down.
type Poller struct {
	cfg      Config
	fetcher  Fetcher
	feed     FeedState
	channels ChannelSource
	handler  SnapshotHandler
	logger   *slog.Logger

	cycles  atomic.Int64
	skipped atomic.Int64
	fetched atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, feed FeedState, channels ChannelSource, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:      cfg,
		fetcher:  fetcher,
		feed:     feed,
		channels: channels,
		handler:  handler,
		logger:   logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Skipped: p.skipped.Load(),
		Fetched: p.fetched.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches every channel concurrently unless the live stream is up.
func (p *Poller) pollAll() {
	if p.feed != nil && p.feed.IsConnected() {
		p.skipped.Add(1)
		p.logger.Debug("live feed connected, skipping poll")
		return
	}

	start := time.Now()
	p.cycles.Add(1)

	channels := p.channels.Channels()
	if len(channels) == 0 {
		p.logger.Debug("no channels to poll")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, failed atomic.Int64

	for _, ch := range channels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			n, err := p.pollChannel(channel)
			if err != nil {
				p.logger.Warn("failed to poll channel",
					"channel", channel,
					"err", err,
				)
				failed.Add(1)
				return
			}

			fetched.Add(int64(n))
		}(ch)
	}

	wg.Wait()

	p.fetched.Add(fetched.Load())
	p.errors.Add(failed.Load())

	p.logger.Info("poll cycle complete",
		"channels", len(channels),
		"events", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollChannel fetches and handles a single channel's snapshot.
func (p *Poller) pollChannel(channel string) (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	events, err := p.fetcher.GetSnapshot(ctx, []string{channel})
	if err != nil {
		return 0, err
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(channel, events); err != nil {
			return 0, err
		}
	}

	return len(events), nil
}
