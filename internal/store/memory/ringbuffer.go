package memory

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
)

// RingBuffer is a thread-safe circular buffer of raw samples in insertion
// order. When full, the oldest sample is overwritten.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []store.RawSample
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64
	capacity int64

	// Statistics
	pushCount atomic.Int64
	dropCount atomic.Int64
}

// NewRingBuffer creates a RingBuffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]store.RawSample, capacity),
		capacity: int64(capacity),
	}
}

// Push adds a sample, overwriting the oldest if the buffer is full.
func (rb *RingBuffer) Push(samples ...store.RawSample) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, s := range samples {
		if rb.count >= rb.capacity {
			rb.tail++
			rb.count--
			rb.dropCount.Add(1)
		}

		rb.data[rb.head%rb.capacity] = s
		rb.head++
		rb.count++
		rb.pushCount.Add(1)
	}
}

// Query returns copies of the samples whose start time lies in w, oldest
// inserted first.
func (rb *RingBuffer) Query(w metric.TimeWindow) []store.RawSample {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []store.RawSample
	for i := int64(0); i < rb.count; i++ {
		s := rb.data[(rb.tail+i)%rb.capacity]
		if w.Contains(s.StartMs) {
			out = append(out, s)
		}
	}
	return out
}

// EvictOlderThan removes samples that ended before cutoffMs, scanning from
// the oldest inserted. It stops at the first sample that is recent enough.
func (rb *RingBuffer) EvictOlderThan(cutoffMs int64) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := 0
	for rb.count > 0 {
		idx := rb.tail % rb.capacity
		if rb.data[idx].EndMs >= cutoffMs {
			break
		}
		rb.data[idx] = store.RawSample{}
		rb.tail++
		rb.count--
		evicted++
	}
	return evicted
}

// Len returns the number of samples held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// Clear removes all samples.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.data {
		rb.data[i] = store.RawSample{}
	}
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	DropCount  int64
}
