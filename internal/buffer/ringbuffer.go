package buffer

import (
	"strings"
	"sync"
)

// DefaultSize is the capacity used when a non-positive size is requested
const DefaultSize = 500

// RingBuffer is a fixed-capacity buffer of text lines. Once full, every
// appended line evicts the oldest one.
type RingBuffer struct {
	mu       sync.RWMutex
	lines    []string
	head     int // index of the oldest line
	count    int
	appended uint64
	evicted  uint64
}

// BufferMetrics is a point-in-time view of buffer counters
type BufferMetrics struct {
	Appended    uint64  `json:"appended"`
	Evicted     uint64  `json:"evicted"`
	CurrentSize int     `json:"current_size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// NewRingBuffer creates a ring buffer holding at most size lines
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &RingBuffer{
		lines: make([]string, size),
	}
}

// Append adds lines in order and returns how many old lines were evicted
func (rb *RingBuffer) Append(lines ...string) int {
	if len(lines) == 0 {
		return 0
	}

	capacity := len(rb.lines)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.appended += uint64(len(lines))

	// Only the newest capacity lines can survive this call
	var evicted int
	if len(lines) > capacity {
		evicted = len(lines) - capacity
		lines = lines[evicted:]
	}

	for _, line := range lines {
		if rb.count < capacity {
			rb.lines[(rb.head+rb.count)%capacity] = line
			rb.count++
			continue
		}
		rb.lines[rb.head] = line
		rb.head = (rb.head + 1) % capacity
		evicted++
	}

	rb.evicted += uint64(evicted)
	return evicted
}

// Lines returns a copy of the buffered lines, oldest first
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]string, rb.count)
	for i := 0; i < rb.count; i++ {
		out[i] = rb.lines[(rb.head+i)%len(rb.lines)]
	}
	return out
}

// Join returns the buffered lines joined by sep, oldest first
func (rb *RingBuffer) Join(sep string) string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return ""
	}

	size := len(sep) * (rb.count - 1)
	for i := 0; i < rb.count; i++ {
		size += len(rb.lines[(rb.head+i)%len(rb.lines)])
	}

	var b strings.Builder
	b.Grow(size)
	for i := 0; i < rb.count; i++ {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(rb.lines[(rb.head+i)%len(rb.lines)])
	}
	return b.String()
}

// Len returns the number of buffered lines
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Capacity returns the maximum number of lines the buffer holds
func (rb *RingBuffer) Capacity() int {
	return len(rb.lines)
}

// Reset drops all buffered lines but keeps the counters
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.lines {
		rb.lines[i] = ""
	}
	rb.head = 0
	rb.count = 0
}

// Metrics returns buffer metrics
func (rb *RingBuffer) Metrics() BufferMetrics {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	capacity := len(rb.lines)
	return BufferMetrics{
		Appended:    rb.appended,
		Evicted:     rb.evicted,
		CurrentSize: rb.count,
		Capacity:    capacity,
		Utilization: float64(rb.count) / float64(capacity) * 100.0,
	}
}
