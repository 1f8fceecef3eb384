// Package api provides the dashboard REST client.
//
// The only endpoint the live feed needs is the snapshot:
//
//	GET /stream/snapshot?channels=price-update,signal-alert&limit=500&cursor=...
//
// It returns {"events":[{"event":...,"data":...}],"cursor":"..."} using the
// same envelope as the live stream, so snapshot entries decode into the same
// typed events.
package api
