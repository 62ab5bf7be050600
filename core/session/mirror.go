package session

import (
	"world-sync/core/keypath"
	"world-sync/core/transport"
	"world-sync/core/world"
)

// Mirror is the local copy of a session's flat state.
type Mirror struct {
	state keypath.Flat
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{state: keypath.Flat{}}
}

// Reset replaces the mirror with flat.
func (m *Mirror) Reset(flat keypath.Flat) {
	m.state = make(keypath.Flat, len(flat))
	for k, v := range flat {
		m.state[k] = v
	}
}

// Snapshot returns a copy of the mirror.
func (m *Mirror) Snapshot() keypath.Flat {
	out := make(keypath.Flat, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out
}

// Len returns the number of live keys.
func (m *Mirror) Len() int {
	return len(m.state)
}

// Apply merges a store notification and returns the flat delta to reconcile.
//
// Removed keys that no added key replaces come back as NullSentinel. When a piece has
// no live key left, its entries collapse into a single piece deletion. A reset carries
// only its added keys: the reset itself retires every old piece, and null entries for
// them would be folded into the new world's max index.
func (m *Mirror) Apply(change transport.StateChange) keypath.Flat {
	added := change.AddedFlat()
	_, reset := added[world.ResetField]

	for _, k := range change.Removed {
		delete(m.state, k)
	}
	live := m.state.Keys()
	for k := range added {
		for _, c := range keypath.Conflicts(live, k) {
			if _, written := added[c]; !written {
				delete(m.state, c)
			}
		}
	}
	for k, v := range added {
		m.state[k] = v
	}

	delta := make(keypath.Flat, len(added)+len(change.Removed))
	for k, v := range added {
		delta[k] = v
	}
	for _, r := range change.Removed {
		if !reset && !covered(added, r) {
			delta[r] = keypath.NullSentinel
		}
	}

	m.collapse(delta)
	return delta
}

// collapse turns the delta entries of dead pieces into piece deletions.
func (m *Mirror) collapse(delta keypath.Flat) {
	dead := make(map[string]bool)
	for k := range delta {
		piece, ok := pieceKey(k)
		if !ok {
			continue
		}
		if _, seen := dead[piece]; !seen {
			dead[piece] = !m.pieceLive(piece)
		}
	}

	for piece, isDead := range dead {
		if !isDead {
			continue
		}
		for k := range delta {
			if keypath.IsPrefix(piece, k) {
				delete(delta, k)
			}
		}
		delta[piece] = keypath.NullSentinel
	}
}

func (m *Mirror) pieceLive(piece string) bool {
	for k, v := range m.state {
		if keypath.IsPrefix(piece, k) {
			return true
		}
		if k == piece && v != keypath.NullSentinel {
			return true
		}
	}
	return false
}

// pieceKey returns the "pieces|<id>" prefix of a key under the piece mapping.
func pieceKey(key string) (string, bool) {
	parts := keypath.Split(key)
	if len(parts) < 2 || parts[0] != world.PiecesField {
		return "", false
	}
	return keypath.Join(parts[0], parts[1]), true
}

func covered(added keypath.Flat, key string) bool {
	for k := range added {
		if keypath.Related(k, key) {
			return true
		}
	}
	return false
}
