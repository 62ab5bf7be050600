// Package world serves world sessions over HTTP for clients that cannot hold a
// realtime connection to the store.
//
// Reads return the flat state of a session, optionally unflattened; writes are
// published through the transport exactly like a participant would publish them,
// so realtime participants see them as ordinary deltas or resets.
//
// # Recording
//
// When a database is configured, the Recorder persists every change notification of
// every session, so a session survives a store restart and can be listed.
//
// # Endpoints
//
//	GET  /world                   sessions with persisted state
//	GET  /world/:session          flat state (?structured=true adds the unflattened world)
//	GET  /world/:session/pieces   live pieces
//	POST /world/:session/delta    {"set": {...}, "remove": [ids]}
//	POST /world/:session/reset    {"pieces": {...}}
package world
