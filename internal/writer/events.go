package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tradedash/internal/event"
	"github.com/rickgao/tradedash/internal/router"
)

// pollInterval is how long consumeLoop waits when the buffer is empty.
const pollInterval = 10 * time.Millisecond

// EventWriter consumes events from the router buffer and copies them into
// the live_events table.
type EventWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the router
	input *router.GrowableBuffer[event.Event]

	// Database
	db Copier

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Serializes COPY statements
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics, guarded by batchMu
	metrics WriterMetrics
}

// NewEventWriter creates a new EventWriter.
func NewEventWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[event.Event],
	db Copier,
	logger *slog.Logger,
) *EventWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}

	return &EventWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("component", "writer"),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *EventWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("event writer started",
		"table", EventsTable,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer and flushes whatever is still buffered.
func (w *EventWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping event writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event writer stop timed out")
		return ctx.Err()
	}

	// Pick up events that arrived after the consumer exited
	for _, ev := range w.input.DrainTo(0) {
		w.add(ev)
	}
	for {
		w.batchMu.Lock()
		pending := len(w.batch)
		w.batchMu.Unlock()
		if pending == 0 {
			break
		}
		if err := w.flush(ctx); err != nil {
			return fmt.Errorf("final flush: %w", err)
		}
	}

	w.logger.Info("event writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *EventWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the input buffer and accumulates batches.
func (w *EventWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		events := w.input.DrainTo(w.cfg.BatchSize)
		if len(events) == 0 {
			// Buffer empty, wait a bit before trying again
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(pollInterval):
				continue
			}
		}

		for _, ev := range events {
			if w.add(ev) {
				w.flushWithTimeout()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *EventWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushWithTimeout()
		}
	}
}

// add transforms ev and appends it to the batch. Reports whether the batch
// is full.
func (w *EventWriter) add(ev event.Event) bool {
	row, err := transform(ev)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if err != nil {
		w.metrics.EncodeErrors++
		w.logger.Warn("skipping event with unencodable payload",
			"channel", ev.Channel,
			"error", err,
		)
		return false
	}
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts an event to a live_events row.
func transform(ev event.Event) (eventRow, error) {
	payload, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return eventRow{}, err
	}

	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return eventRow{
		ReceivedAt: receivedAt.UTC(),
		Channel:    ev.Channel,
		Key:        event.Key(ev),
		Payload:    string(payload),
	}, nil
}

func (w *EventWriter) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
	defer cancel()
	w.flush(ctx)
}

// flush writes the current batch to the database. A failed batch is
// dropped and counted.
func (w *EventWriter) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	n, err := w.copy(ctx, batch)
	if err != nil {
		w.logger.Error("copy into live_events failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.metrics.DroppedRows += int64(len(batch))
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += n
	w.metrics.Flushes++
	w.metrics.LastFlushRows = len(batch)
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", n,
		"duration", time.Since(start),
	)
	return nil
}

// copy bulk-loads rows with COPY FROM.
func (w *EventWriter) copy(ctx context.Context, rows []eventRow) (int64, error) {
	src := make([][]any, len(rows))
	for i, r := range rows {
		src[i] = r.values()
	}
	return w.db.CopyFrom(ctx, pgx.Identifier{EventsTable}, eventColumns, pgx.CopyFromRows(src))
}
