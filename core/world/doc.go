// Package world reconciles a shared world of pieces against structured updates.
//
// A world is a mapping with one well-known field, "pieces", from piece identifier
// (a non-negative integer encoded as a string key) to an arbitrarily nested record.
// A nil record means the piece was deleted. Identifiers are never reused while the
// world is live; a reset (the "__new" field, or an update that is not a mapping)
// clears every piece and restarts allocation.
//
// # Components
//
//   - Allocator: monotonic piece index counter, also tracking the max index seen remotely.
//   - Synchronizer: owns the allocator and the per-piece handler registry. Writes go out
//     through Submit (flatten, then publish). Incoming updates go through Reconcile.
//   - Batcher: coalesces piece updates issued during one unit of work into a single publish.
//
// # Reconciliation
//
// Reconcile classifies an update into an Envelope (Reset, Delta or Malformed), builds a
// Plan of actions against the current registry and then applies it:
//
//   - ActionNewPiece: a record for an id with no handler. The new-piece handler runs and is
//     expected to register a change handler with OnPieceChange.
//   - ActionChangePiece: a partial record for a registered id.
//   - ActionDeletePiece: nil for a registered id, or any registered id on reset. The handler
//     sees nil exactly once and is then unregistered.
//
// # Concurrency
//
// A Synchronizer and its Batcher are not safe for concurrent use. They are meant to be
// driven from one goroutine, see core/session for the event loop that does this.
//
// # Usage
//
//	w := world.New(publisher, logger)
//	w.OnNewPiece(func(id world.PieceID, record map[string]any) {
//	    ui.Add(id, record)
//	    w.OnPieceChange(id, func(record map[string]any) {
//	        if record == nil {
//	            ui.Remove(id)
//	            return
//	        }
//	        ui.Update(id, record)
//	    })
//	})
//	id, err := w.AddPiece(ctx, map[string]any{"pos": map[string]any{"x": 10, "y": 20}})
package world
