package transport

import (
	"world-sync/core/keypath"
	"world-sync/core/world"
)

// Merge applies a change-set to state in place following the store convention and
// returns the resulting notification.
//
// A key of delta that is a path-prefix of another key of the same delta is not
// written: the deeper key wins, so the store never holds a key and its ancestor.
func Merge(state keypath.Flat, delta keypath.Flat) StateChange {
	if len(delta) == 0 {
		return StateChange{}
	}

	written := settle(delta)
	removed := make(map[string]struct{})

	if _, reset := written[world.ResetField]; reset {
		for k := range state {
			if _, kept := written[k]; !kept {
				removed[k] = struct{}{}
			}
		}
	} else {
		live := state.Keys()
		for k := range written {
			for _, c := range keypath.Conflicts(live, k) {
				removed[c] = struct{}{}
			}
		}
	}
	for k := range removed {
		delete(state, k)
	}

	for k, v := range written {
		state[k] = v
	}

	return StateChange{
		Added:   sortedKeyValues(written),
		Removed: sortedSet(removed),
	}
}

// settle drops the keys of delta shadowed by a deeper key of the same delta.
func settle(delta keypath.Flat) keypath.Flat {
	keys := delta.Keys()
	out := make(keypath.Flat, len(delta))
	for _, k := range keys {
		shadowed := false
		for _, other := range keys {
			if keypath.IsPrefix(k, other) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out[k] = delta[k]
		}
	}
	return out
}
