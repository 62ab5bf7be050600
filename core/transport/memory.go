package transport

import (
	"context"
	"sync"

	"world-sync/core/keypath"

	"go.uber.org/zap"
)

// MemoryHub is an in-process replicated store for a single session.
type MemoryHub struct {
	mu     sync.Mutex
	state  keypath.Flat
	subs   map[int]*subscriber
	nextID int
	logger *zap.Logger
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(logger *zap.Logger) *MemoryHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHub{
		state:  keypath.Flat{},
		subs:   make(map[int]*subscriber),
		logger: logger,
	}
}

// Join returns a transport for one participant of the hub.
func (h *MemoryHub) Join(participant string) *MemoryTransport {
	ready := make(chan struct{})
	close(ready)
	return &MemoryTransport{
		hub:         h,
		participant: participant,
		ready:       ready,
		subs:        make(map[int]struct{}),
	}
}

// Snapshot returns a copy of the hub state.
func (h *MemoryHub) Snapshot() keypath.Flat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return copyFlat(h.state)
}

func (h *MemoryHub) publish(participant string, delta keypath.Flat) {
	h.mu.Lock()
	defer h.mu.Unlock()

	change := Merge(h.state, delta)
	if change.Empty() {
		return
	}
	h.logger.Debug("Applied change-set",
		zap.String("participant", participant),
		zap.Int("added", len(change.Added)),
		zap.Int("removed", len(change.Removed)),
	)
	for _, sub := range h.subs {
		sub.enqueue(change)
	}
}

func (h *MemoryHub) subscribe(handler Handler) (int, *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := newSubscriber(handler)
	h.subs[id] = sub
	go sub.pump()
	return id, sub
}

func (h *MemoryHub) unsubscribe(id int) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		sub.stop()
	}
}

// MemoryTransport is a participant connection to a MemoryHub.
type MemoryTransport struct {
	hub         *MemoryHub
	participant string
	ready       chan struct{}

	mu     sync.Mutex
	closed bool
	subs   map[int]struct{}
}

// Publish implements Transport.
func (t *MemoryTransport) Publish(ctx context.Context, flat keypath.Flat) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.hub.publish(t.participant, copyFlat(flat))
	return nil
}

// State implements Transport.
func (t *MemoryTransport) State(ctx context.Context) (keypath.Flat, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.hub.Snapshot(), nil
}

// Subscribe implements Transport. Each subscription has its own unbounded queue,
// so a slow handler never blocks publishers.
func (t *MemoryTransport) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, sub := t.hub.subscribe(handler)
	t.subs[id] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			t.hub.unsubscribe(id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return unsubscribe, nil
}

// Ready implements Transport. A memory transport is ready as soon as it is joined.
func (t *MemoryTransport) Ready() <-chan struct{} {
	return t.ready
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	t.subs = map[int]struct{}{}
	t.mu.Unlock()

	for _, id := range ids {
		t.hub.unsubscribe(id)
	}
	return nil
}

func (t *MemoryTransport) check(ctx context.Context) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

// MemorySessions hands out one MemoryHub per session name and implements Watcher
// over all of them.
type MemorySessions struct {
	mu       sync.Mutex
	hubs     map[string]*MemoryHub
	watchers map[int]func(Notification)
	nextID   int
	logger   *zap.Logger
}

// NewMemorySessions creates an empty set of in-process sessions.
func NewMemorySessions(logger *zap.Logger) *MemorySessions {
	return &MemorySessions{
		hubs:     make(map[string]*MemoryHub),
		watchers: make(map[int]func(Notification)),
		logger:   logger,
	}
}

// Hub returns the hub of a session, creating it on first use.
func (m *MemorySessions) Hub(session string) *MemoryHub {
	m.mu.Lock()
	defer m.mu.Unlock()
	hub, ok := m.hubs[session]
	if !ok {
		hub = NewMemoryHub(m.logger)
		hub.subscribe(func(change StateChange) {
			m.dispatch(Notification{Session: session, StateChange: change})
		})
		m.hubs[session] = hub
	}
	return hub
}

// Run implements Watcher.
func (m *MemorySessions) Run(ctx context.Context, handle func(Notification)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = handle
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) dispatch(n Notification) {
	m.mu.Lock()
	handlers := make([]func(Notification), 0, len(m.watchers))
	for _, h := range m.watchers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}

// Open implements Sessions.
func (m *MemorySessions) Open(session string) Transport {
	return m.Hub(session).Join("server")
}

// subscriber delivers queued changes to a handler on its own goroutine.
type subscriber struct {
	handler Handler

	mu      sync.Mutex
	pending []StateChange
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscriber(handler Handler) *subscriber {
	return &subscriber{
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) enqueue(change StateChange) {
	s.mu.Lock()
	s.pending = append(s.pending, change)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, change := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(change)
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func copyFlat(flat keypath.Flat) keypath.Flat {
	out := make(keypath.Flat, len(flat))
	for k, v := range flat {
		out[k] = v
	}
	return out
}
