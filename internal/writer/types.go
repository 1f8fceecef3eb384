package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Table and columns written by EventWriter.
const (
	EventsTable = "live_events"
)

var eventColumns = []string{"received_at", "channel", "key", "payload"}

// Schema creates the recorder table. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS live_events (
	received_at TIMESTAMPTZ NOT NULL,
	channel     TEXT        NOT NULL,
	key         TEXT        NOT NULL,
	payload     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS live_events_channel_key_idx
	ON live_events (channel, key, received_at DESC);
`

// Copier bulk-loads rows. *pgxpool.Pool and *pgx.Conn satisfy it.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int           // Default: 500
	FlushInterval time.Duration // Default: 1s
	FlushTimeout  time.Duration // Default: 10s
}

// DefaultWriterConfig returns default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
	}
}

// WriterMetrics holds writer counters.
type WriterMetrics struct {
	Inserts       int64 `json:"inserts"`
	Flushes       int64 `json:"flushes"`
	Errors        int64 `json:"errors"`
	EncodeErrors  int64 `json:"encodeErrors"`
	DroppedRows   int64 `json:"droppedRows"`
	LastFlushRows int   `json:"lastFlushRows"`
}

// eventRow is one live_events row.
type eventRow struct {
	ReceivedAt time.Time
	Channel    string
	Key        string
	Payload    string
}

func (r eventRow) values() []any {
	return []any{r.ReceivedAt, r.Channel, r.Key, r.Payload}
}
