// Package transport connects a world to the replicated key/value store shared by
// every participant of a session.
//
// All implementations follow the same store convention: writing a key drops every
// live key that is an ancestor or a descendant of it, and writing the reset marker
// drops every key that was not written in the same change-set. Dropped keys are
// reported to subscribers as removed keys.
//
// MemoryHub replicates in process and is used by tests and single-node setups.
// RedisTransport keeps the state in a Redis hash and fans change notifications out
// over Redis pub/sub.
package transport
