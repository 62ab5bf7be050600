package world

import (
	"context"
	"errors"
	"testing"

	"world-sync/core/keypath"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddPiece_PublishesFlatUpdate tests that AddPiece allocates from 0 and publishes flattened records.
func TestAddPiece_PublishesFlatUpdate(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)

	id, err := s.AddPiece(context.Background(), map[string]any{
		"pos": map[string]any{"x": 10, "y": 20},
	})
	require.NoError(t, err)
	assert.Equal(t, PieceID(0), id)

	id, err = s.AddPiece(context.Background(), map[string]any{"locked": true})
	require.NoError(t, err)
	assert.Equal(t, PieceID(1), id)

	require.Len(t, pub.published, 2)
	assert.Equal(t, keypath.Flat{"pieces|0|pos|x": "10", "pieces|0|pos|y": "20"}, pub.published[0])
	assert.Equal(t, keypath.Flat{"pieces|1|locked": "true"}, pub.published[1])
}

// TestDeletePiece_PublishesSentinel tests that deletion is expressed as a nil record.
func TestDeletePiece_PublishesSentinel(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)

	require.NoError(t, s.DeletePiece(context.Background(), 4))
	assert.Equal(t, []keypath.Flat{{"pieces|4": keypath.NullSentinel}}, pub.published)
}

// TestSubmit_Errors tests that flatten and transport failures are returned to the caller.
func TestSubmit_Errors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("store unavailable")}
	s := New(pub, nil)

	err := s.UpdatePiece(context.Background(), 1, map[string]any{"x": 1})
	assert.ErrorContains(t, err, "store unavailable")

	err = New(&recordingPublisher{}, nil).UpdatePiece(context.Background(), 1, map[string]any{"f": func() {}})
	assert.ErrorIs(t, err, keypath.ErrUnsupportedValue)
}

// TestSubmit_EmptyIsNoop tests that an update with no paths does not publish.
func TestSubmit_EmptyIsNoop(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)

	require.NoError(t, s.Submit(context.Background(), map[string]any{}))
	assert.Empty(t, pub.published)
}

// TestReconcile_Incremental tests new, change and delete transitions of a delta.
func TestReconcile_Incremental(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	a := attachApp(s)

	plan, err := s.Reconcile(map[string]any{
		PiecesField: map[string]any{"2": map[string]any{"x": "1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, PlanSummary{New: 1}, plan.Summary)
	assert.True(t, s.HasPiece(2))
	assert.Equal(t, 2, s.MaxIndex())

	_, err = s.Reconcile(map[string]any{
		PiecesField: map[string]any{"2": map[string]any{"y": "5"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": "1", "y": "5"}, a.pieces[2])

	plan, err = s.Reconcile(map[string]any{
		PiecesField: map[string]any{"2": nil, "8": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, PlanSummary{Deleted: 1, Ignored: 1}, plan.Summary)
	assert.False(t, s.HasPiece(2))

	assert.Equal(t, []string{"new 2", "change 2", "delete 2"}, a.events)
	// A delete of an unknown piece does not move the max index.
	assert.Equal(t, 2, s.MaxIndex())
}

// TestReconcile_Idempotent tests that replaying the same delta does not re-announce pieces.
func TestReconcile_Idempotent(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	a := attachApp(s)

	update := map[string]any{
		PiecesField: map[string]any{
			"0": map[string]any{"x": "1"},
			"1": map[string]any{"x": "2"},
		},
	}

	_, err := s.Reconcile(update)
	require.NoError(t, err)
	registered := s.Registered()
	max := s.MaxIndex()

	_, err = s.Reconcile(update)
	require.NoError(t, err)

	assert.Equal(t, registered, s.Registered())
	assert.Equal(t, max, s.MaxIndex())
	assert.Equal(t, []string{"new 0", "new 1", "change 0", "change 1"}, a.events)
}

// TestReconcile_Reset tests the reset transition over a populated registry.
func TestReconcile_Reset(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	a := attachApp(s)
	populate(s, 0, 1, 2)
	a.events = nil

	plan, err := s.Reconcile(map[string]any{
		ResetField:  true,
		PiecesField: map[string]any{"5": map[string]any{"x": 1}},
	})
	require.NoError(t, err)
	assert.True(t, plan.Reset)

	assert.Equal(t, []string{"delete 0", "delete 1", "delete 2", "new 5"}, a.events)
	assert.Equal(t, []PieceID{5}, s.Registered())
	assert.Equal(t, map[string]any{"x": 1}, a.pieces[5])
	assert.Equal(t, 5, s.MaxIndex())
}

// TestReconcile_ResetNonStructured tests that a scalar update clears the world and the allocator.
func TestReconcile_ResetNonStructured(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)
	a := attachApp(s)
	populate(s, 3, 4)
	a.events = nil

	_, err := s.Reconcile("new world")
	require.NoError(t, err)

	assert.Equal(t, []string{"delete 3", "delete 4"}, a.events)
	assert.Empty(t, s.Registered())
	assert.Equal(t, -1, s.MaxIndex())

	id, err := s.AddPiece(context.Background(), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, PieceID(0), id)
}

// TestReconcile_ResetObservesDeletedEntries tests that null entries of a reset still advance the max index.
func TestReconcile_ResetObservesDeletedEntries(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	attachApp(s)

	_, err := s.Reconcile(map[string]any{
		ResetField: "token",
		PiecesField: map[string]any{
			"1": map[string]any{"x": "1"},
			"9": nil,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, s.MaxIndex())
	assert.Equal(t, []PieceID{1}, s.Registered())
}

// TestReconcile_Malformed tests fail-fast on shapes that cannot be reconciled.
func TestReconcile_Malformed(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	a := attachApp(s)
	populate(s, 0)
	a.events = nil

	_, err := s.Reconcile(map[string]any{PiecesField: []any{"a"}})
	assert.ErrorIs(t, err, ErrMalformedUpdate)

	_, err = s.Reconcile(map[string]any{ResetField: "x", PiecesField: map[string]any{"bad": nil}})
	assert.ErrorIs(t, err, ErrMalformedUpdate)

	// Registry untouched.
	assert.Empty(t, a.events)
	assert.Equal(t, []PieceID{0}, s.Registered())
}

// TestReconcile_NoReuseAfterDelete tests that a deleted id is never allocated again.
func TestReconcile_NoReuseAfterDelete(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)
	attachApp(s)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		id, err := s.AddPiece(ctx, map[string]any{"n": i})
		require.NoError(t, err)
		// Echo the publish back as the store would.
		_, err = s.Reconcile(keypath.Unflatten(pub.published[len(pub.published)-1]))
		require.NoError(t, err)
		assert.True(t, s.HasPiece(id))
	}

	require.NoError(t, s.DeletePiece(ctx, 7))
	_, err := s.Reconcile(keypath.Unflatten(pub.published[len(pub.published)-1]))
	require.NoError(t, err)
	assert.False(t, s.HasPiece(7))

	for i := 0; i < 50; i++ {
		id, err := s.AddPiece(ctx, map[string]any{"n": i})
		require.NoError(t, err)
		assert.NotEqual(t, PieceID(7), id)
		assert.Greater(t, int(id), 7)
	}
}

// TestReconcile_RemoteIndexAdvancesAllocator tests that pieces created elsewhere push local allocation forward.
func TestReconcile_RemoteIndexAdvancesAllocator(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	attachApp(s)

	_, err := s.Reconcile(map[string]any{PiecesField: map[string]any{"41": map[string]any{"x": "1"}}})
	require.NoError(t, err)

	id, err := s.AddPiece(context.Background(), map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, PieceID(42), id)
}

// TestAddPiece_Collision tests the allocator invariant guard.
func TestAddPiece_Collision(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)
	s.OnPieceChange(0, func(map[string]any) {})

	_, err := s.AddPiece(context.Background(), map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrPieceCollision)
	assert.Empty(t, pub.published)
}

// TestReconcile_HandlerPanicIsolated tests that one failing callback does not stop the others.
func TestReconcile_HandlerPanicIsolated(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	var seen []PieceID
	s.OnNewPiece(func(id PieceID, record map[string]any) {
		if id == 1 {
			panic("boom")
		}
		seen = append(seen, id)
		s.OnPieceChange(id, func(map[string]any) {})
	})

	_, err := s.Reconcile(map[string]any{PiecesField: map[string]any{
		"0": map[string]any{"x": "1"},
		"1": map[string]any{"x": "1"},
		"2": map[string]any{"x": "1"},
	}})
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Equal(t, []PieceID{0, 2}, seen)
	assert.Equal(t, 2, s.MaxIndex())
}

// TestReconcile_DeleteHandlerUnregisteredOnPanic tests that a panicking delete handler is still removed.
func TestReconcile_DeleteHandlerUnregisteredOnPanic(t *testing.T) {
	s := New(&recordingPublisher{}, nil)
	s.OnPieceChange(3, func(record map[string]any) {
		if record == nil {
			panic("cannot delete")
		}
	})

	_, err := s.Reconcile(map[string]any{PiecesField: map[string]any{"3": nil}})
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.False(t, s.HasPiece(3))
}

// TestResetWorld tests that a reset publishes the marker and the new pieces together.
func TestResetWorld(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, nil)
	s.newToken = func() string { return "token-1" }

	err := s.ResetWorld(context.Background(), map[PieceID]any{
		0: map[string]any{"x": 1},
		3: map[string]any{"y": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []keypath.Flat{{
		ResetField:   "token-1",
		"pieces|0|x": "1",
		"pieces|3|y": "2",
	}}, pub.published)
}
