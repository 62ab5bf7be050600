package world

import (
	"context"
	"fmt"

	"world-sync/core/keypath"
)

// recordingPublisher captures every published change-set.
type recordingPublisher struct {
	published []keypath.Flat
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, flat keypath.Flat) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, flat)
	return nil
}

// app mimics a UI layer: it registers a change handler for every new piece and
// records every callback as a string event.
type app struct {
	events []string
	pieces map[PieceID]map[string]any
}

func attachApp(s *Synchronizer) *app {
	a := &app{pieces: make(map[PieceID]map[string]any)}
	s.OnNewPiece(func(id PieceID, record map[string]any) {
		a.events = append(a.events, fmt.Sprintf("new %d", id))
		a.pieces[id] = record
		s.OnPieceChange(id, func(record map[string]any) {
			if record == nil {
				a.events = append(a.events, fmt.Sprintf("delete %d", id))
				delete(a.pieces, id)
				return
			}
			a.events = append(a.events, fmt.Sprintf("change %d", id))
			for k, v := range record {
				a.pieces[id][k] = v
			}
		})
	})
	return a
}

// populate registers pieces through a delta, as if they arrived from the store.
func populate(s *Synchronizer, ids ...int) {
	pieces := map[string]any{}
	for _, id := range ids {
		pieces[PieceID(id).String()] = map[string]any{"x": "0"}
	}
	if _, err := s.Reconcile(map[string]any{PiecesField: pieces}); err != nil {
		panic(err)
	}
}
