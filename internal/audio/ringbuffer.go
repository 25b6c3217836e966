package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RingBuffer is a fixed-capacity FIFO byte queue shared by the capture loop
// and the transport sender. Writes are all-or-nothing: a chunk that does not
// fit within the push timeout is rejected, never queued partially. Reads
// treat the contents as a byte stream, so push boundaries are not preserved.
type RingBuffer struct {
	data []byte
	head int // next read position
	size int // bytes currently stored

	pushed   uint64
	popped   uint64
	rejected uint64

	// changed is closed and replaced whenever size changes, waking any
	// goroutine waiting for space or data.
	changed chan struct{}

	mu sync.Mutex
}

// RingStats represents ring buffer statistics for monitoring
type RingStats struct {
	Capacity int    `json:"capacity_bytes"`
	Used     int    `json:"used_bytes"`
	Pushed   uint64 `json:"pushed_bytes"`
	Popped   uint64 `json:"popped_bytes"`
	Rejected uint64 `json:"rejected_pushes"`
}

// NewRingBuffer allocates a ring of the given byte capacity
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}

	return &RingBuffer{
		data:    make([]byte, capacity),
		changed: make(chan struct{}),
	}, nil
}

// Push copies p into the ring. If there is not enough free space it waits up
// to timeout for the consumer to make room. It returns false when the chunk
// was dropped: timeout, ctx cancelled, or p larger than the whole ring.
func (r *RingBuffer) Push(ctx context.Context, p []byte, timeout time.Duration) bool {
	if len(p) == 0 {
		return true
	}
	if len(p) > len(r.data) {
		r.recordReject()
		return false
	}

	var deadline <-chan time.Time
	for {
		r.mu.Lock()
		if len(r.data)-r.size >= len(p) {
			r.write(p)
			r.mu.Unlock()
			return true
		}
		wait := r.changed
		r.mu.Unlock()

		if timeout <= 0 {
			r.recordReject()
			return false
		}
		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-wait:
		case <-deadline:
			r.recordReject()
			return false
		case <-ctx.Done():
			r.recordReject()
			return false
		}
	}
}

// PopUpTo removes and returns up to maxBytes bytes. While the ring is empty it
// waits up to timeout; a zero timeout polls once. It returns nil when no data
// arrived in time or ctx was cancelled.
func (r *RingBuffer) PopUpTo(ctx context.Context, maxBytes int, timeout time.Duration) []byte {
	if maxBytes <= 0 {
		return nil
	}

	var deadline <-chan time.Time
	for {
		r.mu.Lock()
		if r.size > 0 {
			out := r.read(maxBytes)
			r.mu.Unlock()
			return out
		}
		wait := r.changed
		r.mu.Unlock()

		if timeout <= 0 {
			return nil
		}
		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-wait:
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// write copies p at the tail. Caller holds mu and has checked free space.
func (r *RingBuffer) write(p []byte) {
	tail := (r.head + r.size) % len(r.data)
	n := copy(r.data[tail:], p)
	if n < len(p) {
		copy(r.data, p[n:])
	}
	r.size += len(p)
	r.pushed += uint64(len(p))
	r.signal()
}

// read copies up to maxBytes from the head. Caller holds mu and has
// checked that size > 0.
func (r *RingBuffer) read(maxBytes int) []byte {
	n := min(r.size, maxBytes)

	out := make([]byte, n)
	copied := copy(out, r.data[r.head:])
	if copied < n {
		copy(out[copied:], r.data)
	}

	r.head = (r.head + n) % len(r.data)
	r.size -= n
	if r.size == 0 {
		r.head = 0
	}
	r.popped += uint64(n)
	r.signal()
	return out
}

func (r *RingBuffer) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *RingBuffer) recordReject() {
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
}

// Reset discards all buffered bytes
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.size = 0
	r.signal()
}

// Len returns the number of buffered bytes
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity in bytes
func (r *RingBuffer) Cap() int {
	return len(r.data)
}

// Free returns the number of bytes that can be pushed without waiting
func (r *RingBuffer) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data) - r.size
}

// GetStats returns current ring statistics
func (r *RingBuffer) GetStats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RingStats{
		Capacity: len(r.data),
		Used:     r.size,
		Pushed:   r.pushed,
		Popped:   r.popped,
		Rejected: r.rejected,
	}
}
