package video

import "sync"

// DefaultBufferSize is the number of frames retained by default
const DefaultBufferSize = 10

// FrameBuffer is a bounded ring that keeps the most recent frames. Pushing
// into a full buffer evicts the oldest frame.
type FrameBuffer struct {
	mu    sync.Mutex
	ring  []*Frame
	head  int // index of the oldest frame
	count int
}

// NewFrameBuffer creates a buffer holding at most capacity frames. A
// capacity below one is raised to one.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{ring: make([]*Frame, capacity)}
}

// Push stores a private copy of frame
func (b *FrameBuffer) Push(frame *Frame) {
	c := frame.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.ring) {
		b.ring[(b.head+b.count)%len(b.ring)] = c
		b.count++
		return
	}
	b.ring[b.head] = c
	b.head = (b.head + 1) % len(b.ring)
}

// Latest returns the most recently pushed frame without blocking
func (b *FrameBuffer) Latest() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil, false
	}
	return b.ring[(b.head+b.count-1)%len(b.ring)], true
}

// Snapshot returns the retained frames, oldest first
func (b *FrameBuffer) Snapshot() []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Frame, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	return out
}

// Len returns the number of retained frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity
func (b *FrameBuffer) Cap() int {
	return len(b.ring)
}

// Clear drops all retained frames
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.ring {
		b.ring[i] = nil
	}
	b.head = 0
	b.count = 0
}
