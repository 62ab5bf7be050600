// Package keypath converts between nested structures and flat key/value change-sets.
//
// The replicated store used by world-sync only holds string values under string keys,
// with last-write-wins semantics per key. Structured updates are therefore flattened
// into a mapping of "|"-joined paths to string-encoded scalars before publishing, and
// change notifications are unflattened back into nested maps before reconciliation.
//
// # Encoding
//
//   - Mappings recurse by key, sequences recurse by index.
//   - Scalars are encoded canonically (see utils.ScalarString).
//   - nil leaves are encoded as the NullSentinel "_NULL_", which Unflatten turns back into nil.
//
// # Example
//
//	flat, _ := keypath.Flatten(map[string]any{
//	    "pieces": map[string]any{"3": map[string]any{"pos": map[string]any{"x": 10}}},
//	})
//	// flat == keypath.Flat{"pieces|3|pos|x": "10"}
//
// # Store rule
//
// No live key may be a strict path-prefix of another live key. Stores call Conflicts
// before writing a key and drop the related keys it reports.
package keypath
