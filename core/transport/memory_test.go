package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"world-sync/core/keypath"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	changes []StateChange
}

func (c *collector) handle(change StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func (c *collector) all() []StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StateChange(nil), c.changes...)
}

// TestMemoryHub_Fanout tests that every subscriber, the publisher included, sees a write in order.
func TestMemoryHub_Fanout(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub(nil)
	alice := hub.Join("alice")
	bob := hub.Join("bob")

	var fromAlice, fromBob collector
	_, err := alice.Subscribe(ctx, fromAlice.handle)
	require.NoError(t, err)
	_, err = bob.Subscribe(ctx, fromBob.handle)
	require.NoError(t, err)

	require.NoError(t, alice.Publish(ctx, keypath.Flat{"pieces|0|x": "1"}))
	require.NoError(t, alice.Publish(ctx, keypath.Flat{"pieces|0": keypath.NullSentinel}))

	assert.Eventually(t, func() bool { return fromAlice.len() == 2 && fromBob.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, fromAlice.all(), fromBob.all())
	assert.Equal(t, []string{"pieces|0|x"}, fromBob.all()[1].Removed)

	state, err := bob.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, keypath.Flat{"pieces|0": keypath.NullSentinel}, state)
}

// TestMemoryHub_Unsubscribe tests that delivery stops after unsubscribe.
func TestMemoryHub_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub(nil)
	tr := hub.Join("p")

	var c collector
	stop, err := tr.Subscribe(ctx, c.handle)
	require.NoError(t, err)
	stop()
	stop()

	require.NoError(t, tr.Publish(ctx, keypath.Flat{"a": "1"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

// TestMemoryTransport_Closed tests that a closed transport rejects every call.
func TestMemoryTransport_Closed(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryHub(nil).Join("p")
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Publish(ctx, keypath.Flat{"a": "1"}), ErrClosed)
	_, err := tr.State(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Subscribe(ctx, func(StateChange) {})
	assert.ErrorIs(t, err, ErrClosed)
}

// TestMemoryTransport_Ready tests that a joined transport is ready immediately.
func TestMemoryTransport_Ready(t *testing.T) {
	tr := NewMemoryHub(nil).Join("p")
	select {
	case <-tr.Ready():
	default:
		t.Fatal("memory transport should be ready")
	}
}

// TestMemorySessions tests that sessions are isolated and reused.
func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemorySessions(nil)

	require.NoError(t, sessions.Open("a").Publish(ctx, keypath.Flat{"k": "1"}))

	assert.Same(t, sessions.Hub("a"), sessions.Hub("a"))
	assert.Equal(t, keypath.Flat{"k": "1"}, sessions.Hub("a").Snapshot())
	assert.Empty(t, sessions.Hub("b").Snapshot())
}

// TestMemorySessions_Watch tests that a watcher receives changes of every session.
func TestMemorySessions_Watch(t *testing.T) {
	sessions := NewMemorySessions(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	go func() {
		_ = sessions.Run(ctx, func(n Notification) {
			mu.Lock()
			seen[n.Session] += len(n.Added)
			mu.Unlock()
		})
	}()

	// Wait for the watcher to be registered.
	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return len(sessions.watchers) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sessions.Open("a").Publish(context.Background(), keypath.Flat{"k": "1"}))
	require.NoError(t, sessions.Open("b").Publish(context.Background(), keypath.Flat{"k": "1", "j": "2"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["a"] == 1 && seen["b"] == 2
	}, time.Second, 5*time.Millisecond)
}
