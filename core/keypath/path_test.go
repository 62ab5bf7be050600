package keypath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinSplit(t *testing.T) {
	assert.Equal(t, "pieces|3|x", Join("pieces", "3", "x"))
	assert.Equal(t, []string{"pieces", "3", "x"}, Split("pieces|3|x"))
	assert.Equal(t, []string{"solo"}, Split("solo"))
}

func TestRelated(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"pieces|3", "pieces|3", true},
		{"pieces|3", "pieces|3|x", true},
		{"pieces|3|x", "pieces|3", true},
		{"pieces|3", "pieces|30", false},
		{"pieces|3", "pieces|4|x", false},
		{"pieces", "pieces|3|x", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Related(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

// TestConflicts tests detection of keys violating the no-prefix invariant.
func TestConflicts(t *testing.T) {
	live := []string{"pieces|3|pos|x", "pieces|3|pos|y", "pieces|30|x", "pieces|4", "__new"}

	assert.Equal(t, []string{"pieces|3|pos|x", "pieces|3|pos|y"}, Conflicts(live, "pieces|3"))
	assert.Equal(t, []string{"pieces|4"}, Conflicts(live, "pieces|4|x"))
	assert.Empty(t, Conflicts(live, "pieces|3|pos|x"))
	assert.Empty(t, Conflicts(live, "pieces|5"))
}
