package api

import "github.com/rickgao/tradedash/internal/event"

// SnapshotResponse from GET /stream/snapshot
type SnapshotResponse struct {
	Events []event.Envelope `json:"events"`
	Cursor string           `json:"cursor"`
}

// GetSnapshotOptions configures a GetSnapshotPage request.
type GetSnapshotOptions struct {
	Channels []string
	Limit    int
	Cursor   string
}
