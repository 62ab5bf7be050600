package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAllocator_Monotonic tests that N calls yield 0..N-1 and Reset restarts at 0.
func TestAllocator_Monotonic(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, -1, a.Current())

	prev := -1
	for i := 0; i < 100; i++ {
		next := a.Next()
		assert.Equal(t, i, next)
		assert.Greater(t, next, prev)
		prev = next
	}

	a.Reset()
	assert.Equal(t, 0, a.Next())
}

// TestAllocator_Observe tests that observed indexes are never handed out.
func TestAllocator_Observe(t *testing.T) {
	a := NewAllocator()
	a.Observe(5)
	assert.Equal(t, 6, a.Next())

	// Observing a smaller index does not move the counter back.
	a.Observe(2)
	assert.Equal(t, 7, a.Next())
	assert.Equal(t, 7, a.Current())
}
