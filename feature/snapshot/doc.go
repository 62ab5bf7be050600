// Package snapshot archives world sessions in object storage and restores them.
//
// A snapshot is the flat state of a session at one point in time, stored as JSON
// under snapshots/<session>/<unix>.json. Restoring publishes the snapshot as a world
// reset, so every participant rebuilds its world from it.
//
// With a retention set (STORAGE_RETAIN), each export deletes all but the newest
// snapshots of its session.
package snapshot
