package world

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"world-sync/core/keypath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Synchronizer owns the piece handler registry and the index allocator of one world.
// It is not safe for concurrent use.
type Synchronizer struct {
	allocator *Allocator
	handlers  map[PieceID]ChangeHandler
	onNew     NewPieceHandler
	publisher Publisher
	logger    *zap.Logger
	newToken  func() string
}

// New creates a synchronizer publishing local changes through publisher.
func New(publisher Publisher, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		allocator: NewAllocator(),
		handlers:  make(map[PieceID]ChangeHandler),
		onNew:     func(PieceID, map[string]any) {},
		publisher: publisher,
		logger:    logger,
		newToken:  uuid.NewString,
	}
}

// OnNewPiece sets the handler invoked when a previously unseen piece appears.
// The handler should register a change handler for the piece with OnPieceChange.
func (s *Synchronizer) OnNewPiece(handler NewPieceHandler) {
	if handler == nil {
		handler = func(PieceID, map[string]any) {}
	}
	s.onNew = handler
}

// OnPieceChange registers the change handler of a piece, replacing any previous one.
func (s *Synchronizer) OnPieceChange(id PieceID, handler ChangeHandler) {
	if handler == nil {
		delete(s.handlers, id)
		return
	}
	s.handlers[id] = handler
}

// HasPiece reports whether a change handler is registered for id.
func (s *Synchronizer) HasPiece(id PieceID) bool {
	_, ok := s.handlers[id]
	return ok
}

// Registered returns the ids with a change handler, in ascending order.
func (s *Synchronizer) Registered() []PieceID {
	ids := make([]PieceID, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MaxIndex returns the largest piece index allocated or observed, -1 if none.
func (s *Synchronizer) MaxIndex() int {
	return s.allocator.Current()
}

// AddPiece allocates a new piece index and publishes its initial record.
func (s *Synchronizer) AddPiece(ctx context.Context, record any) (PieceID, error) {
	id := PieceID(s.allocator.Next())
	if s.HasPiece(id) {
		s.logger.DPanic("Allocated piece index is already live", zap.Int("piece", int(id)))
		return id, fmt.Errorf("%w: %d", ErrPieceCollision, id)
	}
	return id, s.UpdatePiece(ctx, id, record)
}

// UpdatePiece publishes a partial record for a piece. Only the given fields change
// for other participants. A nil record deletes the piece.
func (s *Synchronizer) UpdatePiece(ctx context.Context, id PieceID, partial any) error {
	return s.Submit(ctx, map[string]any{
		PiecesField: map[string]any{id.String(): partial},
	})
}

// DeletePiece publishes the deletion of a piece.
func (s *Synchronizer) DeletePiece(ctx context.Context, id PieceID) error {
	return s.UpdatePiece(ctx, id, nil)
}

// ResetWorld publishes a new world made of the given pieces. Stores drop every key
// not written together with the reset marker.
func (s *Synchronizer) ResetWorld(ctx context.Context, pieces map[PieceID]any) error {
	entries := make(map[string]any, len(pieces))
	for id, record := range pieces {
		entries[id.String()] = record
	}
	return s.Submit(ctx, map[string]any{
		ResetField:  s.newToken(),
		PiecesField: entries,
	})
}

// Submit flattens a structured update and publishes it.
func (s *Synchronizer) Submit(ctx context.Context, update map[string]any) error {
	flat, err := keypath.Flatten(update)
	if err != nil {
		return fmt.Errorf("failed to flatten update: %w", err)
	}
	if len(flat) == 0 {
		return nil
	}

	s.logger.Debug("Publishing world update", zap.Int("keys", len(flat)))
	if err := s.publisher.Publish(ctx, flat); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Reconcile applies an incoming structured update to the registry and fires callbacks.
//
// A malformed update returns ErrMalformedUpdate and leaves the registry untouched.
// Panics in callbacks are recovered; every action still runs and the failures are
// returned together with the applied plan.
func (s *Synchronizer) Reconcile(update any) (*Plan, error) {
	env := Classify(update)
	if env.Kind == EnvelopeMalformed {
		return nil, fmt.Errorf("%w: %s", ErrMalformedUpdate, env.Reason)
	}

	plan := s.buildPlan(env)
	err := s.apply(plan)

	s.logger.Debug("Reconciled world update",
		zap.Bool("reset", plan.Reset),
		zap.Int("new", plan.Summary.New),
		zap.Int("changed", plan.Summary.Changed),
		zap.Int("deleted", plan.Summary.Deleted),
		zap.Int("max_index", s.allocator.Current()),
	)
	return plan, err
}

// apply executes a plan in order.
func (s *Synchronizer) apply(plan *Plan) error {
	var errs []error

	if plan.Reset {
		s.allocator.Reset()
	}

	observed := false
	for _, action := range plan.Actions {
		// On reset, indexes of the new world (deleted entries included) are folded in
		// after the old pieces are gone and before new ones are announced.
		if plan.Reset && !observed && action.Type == ActionNewPiece {
			s.observeAll(plan.Observe)
			observed = true
		}

		switch action.Type {
		case ActionDeletePiece:
			handler := s.handlers[action.ID]
			delete(s.handlers, action.ID)
			if handler != nil {
				errs = append(errs, s.invoke(action, func() { handler(nil) }))
			}
		case ActionChangePiece:
			if handler := s.handlers[action.ID]; handler != nil {
				errs = append(errs, s.invoke(action, func() { handler(action.Record) }))
			}
		case ActionNewPiece:
			s.allocator.Observe(int(action.ID))
			errs = append(errs, s.invoke(action, func() { s.onNew(action.ID, action.Record) }))
		}
	}
	if plan.Reset && !observed {
		s.observeAll(plan.Observe)
	}

	return errors.Join(errs...)
}

func (s *Synchronizer) observeAll(ids []PieceID) {
	for _, id := range ids {
		s.allocator.Observe(int(id))
	}
}

// invoke runs a callback, turning a panic into an error.
func (s *Synchronizer) invoke(action Action, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Piece handler panicked",
				zap.String("action", string(action.Type)),
				zap.Int("piece", int(action.ID)),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("%w: %s %d: %v", ErrHandlerPanic, action.Type, action.ID, r)
		}
	}()
	fn()
	return nil
}
