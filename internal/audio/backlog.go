package audio

import "sync"

// Backlog holds the most recent audio while a recognition connection is down.
// When full, the oldest bytes are discarded so a reconnect resumes close to live.
type Backlog struct {
	mu       sync.Mutex
	buf      []byte
	start    int
	size     int
	capacity int
}

// NewBacklog creates a backlog holding at most capacity bytes.
func NewBacklog(capacity int) *Backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &Backlog{buf: make([]byte, capacity), capacity: capacity}
}

// Write appends p and returns how many older bytes were discarded to make room.
func (b *Backlog) Write(p []byte) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.capacity {
		dropped = b.size + len(p) - b.capacity
		copy(b.buf, p[len(p)-b.capacity:])
		b.start = 0
		b.size = b.capacity
		return dropped
	}

	if over := b.size + len(p) - b.capacity; over > 0 {
		b.start = (b.start + over) % b.capacity
		b.size -= over
		dropped = over
	}

	end := (b.start + b.size) % b.capacity
	n := copy(b.buf[end:], p)
	copy(b.buf, p[n:])
	b.size += len(p)
	return dropped
}

// Drain returns the buffered bytes in order and empties the backlog.
func (b *Backlog) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.size)
	n := copy(out, b.buf[b.start:min(b.start+b.size, b.capacity)])
	copy(out[n:], b.buf[:b.size-n])

	b.start = 0
	b.size = 0
	return out
}

// Len returns the number of buffered bytes.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
