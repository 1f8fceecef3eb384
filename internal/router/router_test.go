package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
)

// fakeFeed hands events straight to the registered handlers.
type fakeFeed struct {
	mu       sync.Mutex
	handlers map[string][]connection.Handler
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[string][]connection.Handler)}
}

func (f *fakeFeed) Subscribe(channel string, h connection.Handler) *connection.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[channel] = append(f.handlers[channel], h)
	return &connection.Subscription{Channel: channel}
}

func (f *fakeFeed) emit(ev event.Event) {
	f.mu.Lock()
	hs := append([]connection.Handler(nil), f.handlers[ev.Channel]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeFeed) subscribed(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[channel])
}

func priceEvent(symbol string, p int64) event.Event {
	return event.Event{
		Channel:    event.ChannelPriceUpdate,
		Payload:    event.PriceUpdate{Symbol: symbol, Price: decimal.NewFromInt(p)},
		ReceivedAt: time.Now(),
	}
}

func testRouterConfig(channels ...string) RouterConfig {
	cfg := DefaultRouterConfig()
	cfg.Channels = channels
	cfg.StatsInterval = 0
	return cfg
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()

	if cfg.BufferSize != 10000 {
		t.Errorf("BufferSize = %d, want 10000", cfg.BufferSize)
	}
	if cfg.MaxBufferSize != 0 {
		t.Errorf("MaxBufferSize = %d, want 0 (unbounded)", cfg.MaxBufferSize)
	}
	if cfg.StatsInterval != time.Minute {
		t.Errorf("StatsInterval = %v, want 1m", cfg.StatsInterval)
	}
}

func TestRouter_StartStop(t *testing.T) {
	feed := newFakeFeed()
	r := NewRouter(testRouterConfig(event.ChannelPriceUpdate), feed, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(ctx); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if !r.Buffer().Closed() {
		t.Error("buffer should be closed after Stop")
	}
}

func TestRouter_RoutesSubscribedChannels(t *testing.T) {
	feed := newFakeFeed()
	r := NewRouter(testRouterConfig(event.ChannelPriceUpdate, event.ChannelSignalAlert), feed, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	feed.emit(priceEvent("AAPL", 190))
	feed.emit(priceEvent("MSFT", 410))
	feed.emit(event.Event{
		Channel:    event.ChannelSignalAlert,
		Payload:    event.SignalAlert{Symbol: "AAPL"},
		ReceivedAt: time.Now(),
	})

	items := r.Buffer().DrainTo(0)
	if len(items) != 3 {
		t.Fatalf("buffered %d events, want 3", len(items))
	}
	if p := items[0].Payload.(event.PriceUpdate); p.Symbol != "AAPL" {
		t.Errorf("first event symbol = %q, want AAPL", p.Symbol)
	}

	stats := r.Stats()
	if stats.EventsReceived != 3 || stats.EventsRouted != 3 {
		t.Errorf("stats = %+v, want 3 received and routed", stats)
	}
	if stats.PerChannel[event.ChannelPriceUpdate] != 2 {
		t.Errorf("PerChannel[price-update] = %d, want 2", stats.PerChannel[event.ChannelPriceUpdate])
	}
	if stats.Buffer.TotalSent != 3 {
		t.Errorf("Buffer.TotalSent = %d, want 3", stats.Buffer.TotalSent)
	}
}

func TestRouter_SkipsLifecycleChannels(t *testing.T) {
	feed := newFakeFeed()
	r := NewRouter(testRouterConfig(event.ChannelConnect, event.ChannelError, event.ChannelPriceUpdate), feed, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	if n := feed.subscribed(event.ChannelConnect); n != 0 {
		t.Errorf("subscribed to connect %d times, want 0", n)
	}
	if n := feed.subscribed(event.ChannelError); n != 0 {
		t.Errorf("subscribed to error %d times, want 0", n)
	}
	if n := feed.subscribed(event.ChannelPriceUpdate); n != 1 {
		t.Errorf("subscribed to price-update %d times, want 1", n)
	}
}

func TestRouter_RejectsAfterStop(t *testing.T) {
	feed := newFakeFeed()
	r := NewRouter(testRouterConfig(event.ChannelPriceUpdate), feed, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Stop(context.Background())

	// The fake feed keeps the handler; a late dispatch must not panic
	feed.emit(priceEvent("AAPL", 190))

	stats := r.Stats()
	if stats.EventsRejected != 1 {
		t.Errorf("EventsRejected = %d, want 1", stats.EventsRejected)
	}
	if r.Attach() != 0 {
		t.Error("Attach after Stop should not subscribe")
	}
}

func TestRouter_BoundedBufferDropsOldest(t *testing.T) {
	feed := newFakeFeed()
	cfg := testRouterConfig(event.ChannelPriceUpdate)
	cfg.BufferSize = 2
	cfg.MaxBufferSize = 4
	r := NewRouter(cfg, feed, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	for i := 0; i < 6; i++ {
		feed.emit(priceEvent("AAPL", int64(i)))
	}

	stats := r.Stats()
	if stats.Buffer.Dropped != 2 {
		t.Errorf("Buffer.Dropped = %d, want 2", stats.Buffer.Dropped)
	}
	items := r.Buffer().DrainTo(0)
	first := items[0].Payload.(event.PriceUpdate)
	if !first.Price.Equal(decimal.NewFromInt(2)) {
		t.Errorf("oldest retained price = %s, want 2", first.Price)
	}
}

func TestRouter_ReattachAfterManagerReset(t *testing.T) {
	m := connection.NewManager(connection.DefaultManagerConfig(), nil, nil)
	r := NewRouter(testRouterConfig(event.ChannelPriceUpdate, event.ChannelMarketOverview), m, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	if got := m.Stats().Subscriptions; got != 2 {
		t.Fatalf("manager subscriptions = %d, want 2", got)
	}
	if n := r.Attach(); n != 0 {
		t.Errorf("Attach with live subscriptions = %d, want 0", n)
	}

	m.Disconnect()
	if got := m.Stats().Subscriptions; got != 0 {
		t.Fatalf("manager subscriptions after Disconnect = %d, want 0", got)
	}

	if n := r.Attach(); n != 2 {
		t.Errorf("Attach after reset = %d, want 2", n)
	}
	if got := m.Stats().Subscriptions; got != 2 {
		t.Errorf("manager subscriptions after Attach = %d, want 2", got)
	}
}
