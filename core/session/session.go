package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"world-sync/core/keypath"
	"world-sync/core/transport"
	"world-sync/core/world"

	"go.uber.org/zap"
)

// ErrNotReady is returned when publishing before the session has joined the store.
var ErrNotReady = errors.New("session not ready")

// ErrStopped is returned by Do once the session loop has exited.
var ErrStopped = errors.New("session stopped")

const queueSize = 256

// Session owns one world and its connection to the store.
//
// Reconciliation, callbacks and Do run on the goroutine executing Run. World and
// Batcher may be used directly from callbacks; any other goroutine goes through Do.
type Session struct {
	transport transport.Transport
	world     *world.Synchronizer
	batcher   *world.Batcher
	mirror    *Mirror
	logger    *zap.Logger

	tasks   chan func()
	stopped chan struct{}
	stop    sync.Once

	ready       atomic.Bool
	startOnce   sync.Once
	startErr    error
	unsubscribe func()
}

// New creates a session over tr. Run must be running for Start and Do to complete.
func New(tr transport.Transport, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		transport: tr,
		mirror:    NewMirror(),
		logger:    logger,
		tasks:     make(chan func(), queueSize),
		stopped:   make(chan struct{}),
	}
	s.world = world.New(s, logger)
	s.batcher = world.NewBatcher(s.world)
	return s
}

// World returns the session's synchronizer.
func (s *Session) World() *world.Synchronizer {
	return s.world
}

// Batcher returns the session's update batcher.
func (s *Session) Batcher() *world.Batcher {
	return s.batcher
}

// Mirror returns the flat mirror. Only safe on the session loop.
func (s *Session) Mirror() *Mirror {
	return s.mirror
}

// Ready reports whether Start has completed.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Run executes queued work until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.stop.Do(func() { close(s.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-s.tasks:
			task()
		}
	}
}

// Start waits for the transport, then joins the session: it subscribes to changes,
// reads the current state and reconciles it as a reset. Later calls return the
// result of the first.
func (s *Session) Start(ctx context.Context) error {
	select {
	case <-s.transport.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.startOnce.Do(func() {
		s.startErr = s.join(ctx)
	})
	return s.startErr
}

func (s *Session) join(ctx context.Context) error {
	unsubscribe, err := s.transport.Subscribe(context.Background(), s.enqueue)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.unsubscribe = unsubscribe

	err = s.exec(ctx, func() error {
		state, err := s.transport.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}
		s.mirror.Reset(state)

		update := keypath.Unflatten(state)
		update[world.ResetField] = true
		plan, err := s.reconcile(update)
		if err != nil {
			s.logger.Error("Initial state did not reconcile cleanly", zap.Error(err))
		}

		s.ready.Store(true)
		fields := []zap.Field{zap.Int("keys", len(state))}
		if plan != nil {
			fields = append(fields, zap.Int("pieces", plan.Summary.New))
		}
		s.logger.Info("Session ready", fields...)
		return nil
	})
	if err != nil {
		unsubscribe()
		return err
	}
	return nil
}

// Close stops receiving changes. It does not close the transport.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Publish implements world.Publisher.
func (s *Session) Publish(ctx context.Context, flat keypath.Flat) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	return s.transport.Publish(ctx, flat)
}

// Do runs fn on the session loop and returns its error.
// It must not be called from a callback.
func (s *Session) Do(ctx context.Context, fn func(*world.Synchronizer, *world.Batcher) error) error {
	return s.exec(ctx, func() error {
		return fn(s.world, s.batcher)
	})
}

// Handle applies one store notification. Changes arriving before Start are dropped;
// their effect is part of the state read by Start.
func (s *Session) Handle(change transport.StateChange) (err error) {
	if !s.ready.Load() {
		s.logger.Debug("Dropping change received before join")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling change: %v", r)
		}
		if err != nil {
			s.logger.Error("Failed to handle change", zap.Error(err))
		}
	}()

	delta := s.mirror.Apply(change)
	if len(delta) == 0 {
		return nil
	}
	_, err = s.reconcile(keypath.Unflatten(delta))
	return err
}

func (s *Session) reconcile(update map[string]any) (*world.Plan, error) {
	return s.world.Reconcile(update)
}

func (s *Session) enqueue(change transport.StateChange) {
	select {
	case s.tasks <- func() { _ = s.Handle(change) }:
	case <-s.stopped:
	}
}

func (s *Session) exec(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic in session task: %v", r)
			}
		}()
		result <- fn()
	}

	select {
	case s.tasks <- task:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
