// Package poller implements the Snapshot Poller component.
//
// The Snapshot Poller:
//   - Polls the REST snapshot endpoint while the live stream is down
//   - Skips cycles while the stream is connected
//   - Fetches one request per channel with bounded concurrency
//   - Hands results to a SnapshotHandler, normally the last-known data cache
package poller
