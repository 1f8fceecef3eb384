package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tradedash/internal/event"
	"github.com/rickgao/tradedash/internal/router"
)

// fakeCopier records every COPY it receives.
type fakeCopier struct {
	mu      sync.Mutex
	tables  []string
	columns []string
	rows    [][]any
	calls   int
	err     error
}

func (f *fakeCopier) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return 0, f.err
	}

	f.tables = append(f.tables, table.Sanitize())
	f.columns = columns

	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.rows = append(f.rows, vals)
		n++
	}
	return n, src.Err()
}

func (f *fakeCopier) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func priceEvent(symbol string, p int64, at time.Time) event.Event {
	return event.Event{
		Channel:    event.ChannelPriceUpdate,
		Payload:    event.PriceUpdate{Symbol: symbol, Price: decimal.NewFromInt(p)},
		ReceivedAt: at,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTransform(t *testing.T) {
	receivedAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	row, err := transform(priceEvent("RELIANCE", 2950, receivedAt))
	if err != nil {
		t.Fatalf("transform() error = %v", err)
	}

	if !row.ReceivedAt.Equal(receivedAt) || row.ReceivedAt.Location() != time.UTC {
		t.Errorf("ReceivedAt = %v, want %v in UTC", row.ReceivedAt, receivedAt)
	}
	if row.Channel != event.ChannelPriceUpdate {
		t.Errorf("Channel = %s, want %s", row.Channel, event.ChannelPriceUpdate)
	}
	if row.Key != "RELIANCE" {
		t.Errorf("Key = %s, want RELIANCE", row.Key)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["symbol"] != "RELIANCE" {
		t.Errorf("payload symbol = %v, want RELIANCE", payload["symbol"])
	}
}

func TestTransform_ZeroTimestamp(t *testing.T) {
	row, err := transform(event.Event{
		Channel: event.ChannelMarketOverview,
		Payload: event.MarketOverview{Advances: 10, Declines: 5},
	})
	if err != nil {
		t.Fatalf("transform() error = %v", err)
	}
	if row.ReceivedAt.IsZero() {
		t.Error("zero ReceivedAt should be replaced with the current time")
	}
	if row.Key != event.KeyMarket {
		t.Errorf("Key = %s, want %s", row.Key, event.KeyMarket)
	}
}

func TestEventWriter_FlushesFullBatch(t *testing.T) {
	db := &fakeCopier{}
	input := router.NewGrowableBuffer[event.Event](10)
	w := NewEventWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		input.Send(priceEvent("TCS", int64(4000+i), now))
	}

	waitFor(t, func() bool { return db.rowCount() == 3 })

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if db.tables[0] != `"live_events"` {
		t.Errorf("table = %s, want \"live_events\"", db.tables[0])
	}
	if len(db.columns) != 4 || db.columns[3] != "payload" {
		t.Errorf("columns = %v", db.columns)
	}

	stats := w.Stats()
	if stats.Inserts != 3 || stats.Flushes != 1 {
		t.Errorf("stats = %+v, want 3 inserts in 1 flush", stats)
	}
}

func TestEventWriter_FlushInterval(t *testing.T) {
	db := &fakeCopier{}
	input := router.NewGrowableBuffer[event.Event](10)
	w := NewEventWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(context.Background())

	input.Send(priceEvent("INFY", 1500, time.Now()))

	waitFor(t, func() bool { return db.rowCount() == 1 })
}

func TestEventWriter_StopFlushesRemainder(t *testing.T) {
	db := &fakeCopier{}
	input := router.NewGrowableBuffer[event.Event](10)
	w := NewEventWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	now := time.Now()
	input.Send(priceEvent("HDFC", 1600, now))
	input.Send(priceEvent("ITC", 450, now))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := db.rowCount(); got != 2 {
		t.Errorf("rows written = %d, want 2", got)
	}
}

func TestEventWriter_CopyFailureDropsBatch(t *testing.T) {
	db := &fakeCopier{err: errors.New("connection refused")}
	input := router.NewGrowableBuffer[event.Event](10)
	w := NewEventWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, input, db, nil)

	w.add(priceEvent("SBIN", 800, time.Now()))
	w.add(priceEvent("SBIN", 801, time.Now()))

	if err := w.flush(context.Background()); err == nil {
		t.Fatal("flush() should return the copy error")
	}

	stats := w.Stats()
	if stats.Errors != 1 || stats.DroppedRows != 2 {
		t.Errorf("stats = %+v, want 1 error and 2 dropped rows", stats)
	}

	w.batchMu.Lock()
	pending := len(w.batch)
	w.batchMu.Unlock()
	if pending != 0 {
		t.Errorf("batch length after failed flush = %d, want 0", pending)
	}
}

func TestEventWriter_AddReportsFullBatch(t *testing.T) {
	input := router.NewGrowableBuffer[event.Event](10)
	w := NewEventWriter(WriterConfig{BatchSize: 2}, input, &fakeCopier{}, nil)

	if w.add(priceEvent("A", 1, time.Now())) {
		t.Error("add() reported full after 1 of 2")
	}
	if !w.add(priceEvent("B", 2, time.Now())) {
		t.Error("add() should report full at batch size")
	}
}

func TestEventWriter_EmptyFlushIsNoop(t *testing.T) {
	db := &fakeCopier{}
	w := NewEventWriter(DefaultWriterConfig(), router.NewGrowableBuffer[event.Event](1), db, nil)

	if err := w.flush(context.Background()); err != nil {
		t.Errorf("flush() error = %v", err)
	}
	if db.calls != 0 {
		t.Errorf("CopyFrom called %d times, want 0", db.calls)
	}
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
}
