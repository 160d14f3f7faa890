// Package ring provides a fixed-capacity buffer that keeps the most recent
// values. It is not safe for concurrent use; owners guard it.
package ring

type Buffer[T any] struct {
	items []T
	start int // index of the oldest value
	size  int
}

// New returns an empty buffer. Capacities below one are raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, overwriting the oldest value when full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int { return b.size }
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Oldest returns a copy ordered oldest to newest.
func (b *Buffer[T]) Oldest() []T {
	out := make([]T, b.size)
	for i := range b.size {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Newest returns a copy ordered newest to oldest.
func (b *Buffer[T]) Newest() []T {
	out := make([]T, b.size)
	for i := range b.size {
		out[i] = b.items[(b.start+b.size-1-i)%len(b.items)]
	}
	return out
}

func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.start, b.size = 0, 0
}
