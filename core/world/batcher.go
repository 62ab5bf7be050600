package world

import (
	"context"
)

// Batcher accumulates piece updates and publishes them as a single world update.
//
// A second Accumulate for the same piece replaces the earlier record instead of
// merging into it. It is not safe for concurrent use.
type Batcher struct {
	sync    *Synchronizer
	pending map[string]any
}

// NewBatcher creates a batcher publishing through s.
func NewBatcher(s *Synchronizer) *Batcher {
	return &Batcher{sync: s}
}

// Accumulate records a partial update for a piece in the pending batch.
func (b *Batcher) Accumulate(id PieceID, partial any) {
	if b.pending == nil {
		b.pending = make(map[string]any)
	}
	b.pending[id.String()] = partial
}

// Pending reports whether a batch is waiting to be flushed.
func (b *Batcher) Pending() bool {
	return b.pending != nil
}

// Len returns the number of pieces in the pending batch.
func (b *Batcher) Len() int {
	return len(b.pending)
}

// Flush publishes the pending batch, if any, and clears it.
// The batch is dropped even when publishing fails.
func (b *Batcher) Flush(ctx context.Context) error {
	if b.pending == nil {
		return nil
	}
	pieces := b.pending
	b.pending = nil

	return b.sync.Submit(ctx, map[string]any{PiecesField: pieces})
}
