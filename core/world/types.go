package world

import (
	"context"
	"errors"
	"strconv"

	"world-sync/core/keypath"
)

const (
	// PiecesField is the world field holding the piece mapping.
	PiecesField = "pieces"
	// ResetField marks an update as a full-world reset.
	ResetField = "__new"
)

var (
	// ErrMalformedUpdate is returned by Reconcile for updates with an unexpected shape.
	ErrMalformedUpdate = errors.New("malformed update")
	// ErrPieceCollision is returned when the allocator hands out an id that is already live.
	ErrPieceCollision = errors.New("piece index collision")
	// ErrHandlerPanic wraps a recovered panic from an application callback.
	ErrHandlerPanic = errors.New("piece handler panicked")
)

// PieceID identifies a piece within a world.
type PieceID int

// String returns the key under which the piece is stored.
func (id PieceID) String() string {
	return strconv.Itoa(int(id))
}

// NewPieceHandler is called when a previously unseen piece appears.
type NewPieceHandler func(id PieceID, record map[string]any)

// ChangeHandler is called with a partial record when a piece changes, or nil when it is deleted.
type ChangeHandler func(record map[string]any)

// Publisher delivers flat change-sets to the replicated store.
type Publisher interface {
	Publish(ctx context.Context, flat keypath.Flat) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, flat keypath.Flat) error

// Publish calls f(ctx, flat).
func (f PublisherFunc) Publish(ctx context.Context, flat keypath.Flat) error {
	return f(ctx, flat)
}

// ActionType represents the kind of piece-level event produced by reconciliation.
type ActionType string

const (
	// ActionNewPiece announces a previously unseen piece.
	ActionNewPiece ActionType = "new_piece"
	// ActionChangePiece delivers a partial record to a registered piece.
	ActionChangePiece ActionType = "change_piece"
	// ActionDeletePiece tells a registered piece it was deleted and unregisters it.
	ActionDeletePiece ActionType = "delete_piece"
)

// Action represents a planned callback invocation.
type Action struct {
	// Type specifies the callback to invoke.
	Type ActionType `json:"type"`

	// ID is the piece identifier.
	ID PieceID `json:"id"`

	// Record is the value handed to the callback. Nil for deletions.
	Record map[string]any `json:"record,omitempty"`
}

// Plan contains the actions derived from one update.
type Plan struct {
	// Reset is true when the update replaces the whole world.
	Reset bool `json:"reset"`

	// Observe lists ids whose index must be folded into the allocator after a reset,
	// including deleted entries.
	Observe []PieceID `json:"observe,omitempty"`

	// Actions are applied in order.
	Actions []Action `json:"actions"`

	// Summary provides aggregate counts.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary provides aggregate statistics for a plan.
type PlanSummary struct {
	// New counts new-piece actions.
	New int `json:"new"`

	// Changed counts change actions.
	Changed int `json:"changed"`

	// Deleted counts delete actions.
	Deleted int `json:"deleted"`

	// Ignored counts entries that produced no action (deletes of unknown pieces).
	Ignored int `json:"ignored"`
}
