// Package connection implements the live-feed Connection Manager.
//
// The Connection Manager:
//   - Owns at most one WebSocket session to the dashboard backend at a time
//   - Keys the session by its bearer token; a new token replaces the session
//   - De-duplicates concurrent Connect calls into a single attempt
//   - Retries dialing with a fixed delay and a fixed attempt cap
//   - Decodes inbound frames and fans them out to channel subscribers
//   - Synthesizes connect, disconnect and error lifecycle events
package connection
