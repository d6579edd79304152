package circuit

// ring is a fixed-capacity buffer with head-index eviction: pushing onto a
// full ring overwrites the oldest entry. Not safe for concurrent use;
// callers hold their own lock.
type ring[T any] struct {
	buf   []T
	head  int // index of the oldest entry
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.count }

// snapshot returns entries oldest-first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// latest returns the newest n entries, oldest-first. n larger than the
// ring's contents returns everything.
func (r *ring[T]) latest(n int) []T {
	if n >= r.count {
		return r.snapshot()
	}
	out := make([]T, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}
