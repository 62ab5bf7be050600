package world

import (
	"context"
	"sync"
	"time"

	"world-sync/core/keypath"

	"golang.org/x/sync/singleflight"
)

// stateCache holds recently read session states.
type stateCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]cachedState
	sf      singleflight.Group
}

type cachedState struct {
	flat  keypath.Flat
	built time.Time
}

func newStateCache(ttl time.Duration) *stateCache {
	return &stateCache{ttl: ttl, entries: make(map[string]cachedState)}
}

func (c *stateCache) fresh(e cachedState) bool {
	return c.ttl > 0 && time.Since(e.built) <= c.ttl
}

// get returns the cached state of a session, loading it at most once for
// concurrent callers.
func (c *stateCache) get(ctx context.Context, session string, load func(context.Context) (keypath.Flat, error)) (keypath.Flat, error) {
	c.mu.RLock()
	e, ok := c.entries[session]
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		return e.flat, nil
	}

	result, err, _ := c.sf.Do(session, func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[session]
		c.mu.RUnlock()
		if ok && c.fresh(e) {
			return e.flat, nil
		}

		flat, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[session] = cachedState{flat: flat, built: time.Now()}
			c.mu.Unlock()
		}
		return flat, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(keypath.Flat), nil
}

// invalidate drops the cached state of a session.
func (c *stateCache) invalidate(session string) {
	c.mu.Lock()
	delete(c.entries, session)
	c.mu.Unlock()
}
