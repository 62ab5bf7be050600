package transport

import (
	"context"
	"errors"
	"sort"

	"world-sync/core/keypath"
)

var (
	// ErrClosed is returned when using a transport after Close.
	ErrClosed = errors.New("transport closed")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown transport driver")
)

// KeyValue is one written flat key.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StateChange is the notification delivered to subscribers after a write.
type StateChange struct {
	// Added holds the written keys, sorted by key.
	Added []KeyValue `json:"added"`
	// Removed holds the keys dropped by the write, sorted.
	Removed []string `json:"removed"`
}

// Empty reports whether the change carries nothing.
func (c StateChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// AddedFlat returns the added keys as a flat map.
func (c StateChange) AddedFlat() keypath.Flat {
	flat := make(keypath.Flat, len(c.Added))
	for _, kv := range c.Added {
		flat[kv.Key] = kv.Value
	}
	return flat
}

// Notification is a state change tagged with its session and writer.
// It is the JSON payload of the Redis change channels.
type Notification struct {
	Session string `json:"session"`
	Origin  string `json:"origin"`
	StateChange
}

// Handler receives state changes in the order the store applied them.
type Handler func(change StateChange)

// Transport is a participant's connection to one session of the replicated store.
type Transport interface {
	// Publish writes a flat change-set. Other participants see it through Subscribe.
	Publish(ctx context.Context, flat keypath.Flat) error
	// State returns the full current state, used when joining late.
	State(ctx context.Context) (keypath.Flat, error)
	// Subscribe delivers every change applied after the call returns, including the
	// participant's own writes. The returned function stops delivery.
	Subscribe(ctx context.Context, handler Handler) (func(), error)
	// Ready is closed once the session can be read and written.
	Ready() <-chan struct{}
	// Close releases the connection. It does not delete any state.
	Close() error
}

// Sessions opens transports for named sessions over a shared connection.
type Sessions interface {
	Open(session string) Transport
}

// Watcher delivers the notifications of every session until ctx is done.
type Watcher interface {
	Run(ctx context.Context, handle func(Notification)) error
}

func sortedKeyValues(flat keypath.Flat) []KeyValue {
	out := make([]KeyValue, 0, len(flat))
	for _, k := range flat.Keys() {
		out = append(out, KeyValue{Key: k, Value: flat[k]})
	}
	return out
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
