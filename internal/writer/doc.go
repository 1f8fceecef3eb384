// Package writer records live events to PostgreSQL.
//
// EventWriter drains the router buffer in batches and appends them to the
// live_events table with COPY. Rows are never updated.
package writer
