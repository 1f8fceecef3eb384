package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/tradedash/internal/event"
)

// snapshotPageSize is the largest page the snapshot endpoint serves.
const snapshotPageSize = 500

// GetSnapshotPage fetches one page of last-known events.
func (c *Client) GetSnapshotPage(ctx context.Context, opts GetSnapshotOptions) (*SnapshotResponse, error) {
	query := url.Values{}

	if len(opts.Channels) > 0 {
		query.Set("channels", strings.Join(opts.Channels, ","))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}

	var resp SnapshotResponse
	if err := c.get(ctx, "/stream/snapshot", query, &resp); err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	return &resp, nil
}

// GetSnapshot fetches the last-known event for every key on the given
// channels, following pagination. Envelopes that cannot be decoded are
// skipped and logged.
func (c *Client) GetSnapshot(ctx context.Context, channels []string) ([]event.Event, error) {
	opts := GetSnapshotOptions{
		Channels: channels,
		Limit:    snapshotPageSize,
	}
	receivedAt := time.Now()

	var events []event.Event
	for {
		resp, err := c.GetSnapshotPage(ctx, opts)
		if err != nil {
			return nil, err
		}

		for _, env := range resp.Events {
			ev, err := event.FromEnvelope(env, receivedAt)
			if err != nil {
				c.logger.Warn("skipping snapshot entry",
					"event", env.Event,
					"error", err,
				)
				continue
			}
			events = append(events, ev)
		}

		if resp.Cursor == "" {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return events, nil
}
