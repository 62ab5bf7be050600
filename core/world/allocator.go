package world

// Allocator hands out piece indexes.
//
// The counter starts at -1 and is pre-incremented, so the first index is 0.
// It is not safe for concurrent use.
type Allocator struct {
	current int
}

// NewAllocator returns an allocator whose next index is 0.
func NewAllocator() *Allocator {
	return &Allocator{current: -1}
}

// Next returns the next unused index.
func (a *Allocator) Next() int {
	a.current++
	return a.current
}

// Observe raises the counter to id if id is larger, so locally allocated
// indexes never collide with ones seen from other participants.
func (a *Allocator) Observe(id int) {
	if id > a.current {
		a.current = id
	}
}

// Current returns the largest index allocated or observed, -1 if none.
func (a *Allocator) Current() int {
	return a.current
}

// Reset restores the initial state. Only a full-world reset may call it.
func (a *Allocator) Reset() {
	a.current = -1
}
