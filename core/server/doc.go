// Package server holds the HTTP server configuration.
//
// The HTTP server is the fallback surface of the world store: it serves snapshots
// of a session to clients that cannot hold a realtime connection and accepts
// deltas and resets on their behalf.
package server
