// Package event defines the typed events delivered by the live feed.
//
// Every frame on the stream is a JSON envelope:
//
//	{"event": "price-update", "data": {...}}
//
// Decode turns an envelope into an Event whose Payload is one of the concrete
// types in this package, chosen by channel name. Channels without a known
// payload shape decode to Unknown so consumers can still see the raw data.
//
// The connect, disconnect and error channels are reserved for lifecycle events
// synthesized by the connection manager and are never accepted from the wire.
package event
