// Package session joins a world to a transport.
//
// A Session keeps a flat mirror of the store, turns every store notification into a
// structured update for the synchronizer, and runs all reconciliation and application
// code on a single loop goroutine.
package session
