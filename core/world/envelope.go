package world

import (
	"fmt"
	"sort"

	"world-sync/core/utils"
)

// EnvelopeKind tells how an incoming update must be reconciled.
type EnvelopeKind int

const (
	// EnvelopeDelta is an incremental update of some pieces.
	EnvelopeDelta EnvelopeKind = iota
	// EnvelopeReset replaces the whole world.
	EnvelopeReset
	// EnvelopeMalformed is an update whose shape cannot be reconciled.
	EnvelopeMalformed
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeDelta:
		return "delta"
	case EnvelopeReset:
		return "reset"
	default:
		return "malformed"
	}
}

// PieceEntry is one entry of an update's piece mapping. A nil Record is a deletion.
type PieceEntry struct {
	ID     PieceID
	Record map[string]any
}

// Envelope is a classified update.
type Envelope struct {
	Kind EnvelopeKind
	// Pieces is sorted by ascending ID.
	Pieces []PieceEntry
	// Reason explains a malformed classification.
	Reason string
}

// Classify inspects the shape of an update.
//
// Anything that is not a map[string]any, and any map carrying ResetField, is a reset.
// A map carrying PiecesField is a delta. Unknown fields are ignored.
func Classify(update any) Envelope {
	m, ok := update.(map[string]any)
	if !ok {
		return Envelope{Kind: EnvelopeReset}
	}

	kind := EnvelopeDelta
	if _, reset := m[ResetField]; reset {
		kind = EnvelopeReset
	}

	raw, has := m[PiecesField]
	if !has || raw == nil {
		return Envelope{Kind: kind}
	}

	pieces, err := pieceEntries(raw)
	if err != nil {
		return Envelope{Kind: EnvelopeMalformed, Reason: err.Error()}
	}
	return Envelope{Kind: kind, Pieces: pieces}
}

func pieceEntries(raw any) ([]PieceEntry, error) {
	var entries []PieceEntry

	switch pieces := raw.(type) {
	case map[string]any:
		entries = make([]PieceEntry, 0, len(pieces))
		for key, value := range pieces {
			idx, err := utils.ParseIndex(key)
			if err != nil {
				return nil, fmt.Errorf("piece key: %w", err)
			}
			record, err := pieceRecord(value)
			if err != nil {
				return nil, fmt.Errorf("piece %s: %w", key, err)
			}
			entries = append(entries, PieceEntry{ID: PieceID(idx), Record: record})
		}
	case map[PieceID]any:
		entries = make([]PieceEntry, 0, len(pieces))
		for id, value := range pieces {
			if id < 0 {
				return nil, fmt.Errorf("piece key: negative index %d", id)
			}
			record, err := pieceRecord(value)
			if err != nil {
				return nil, fmt.Errorf("piece %d: %w", id, err)
			}
			entries = append(entries, PieceEntry{ID: id, Record: record})
		}
	default:
		return nil, fmt.Errorf("%s is %T, want a mapping", PiecesField, raw)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func pieceRecord(value any) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}
	record, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is %T, want a mapping or nil", value)
	}
	if record == nil {
		return nil, nil
	}
	return record, nil
}
