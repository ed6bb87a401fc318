package core

import (
	"sync/atomic"
)

const (
	defaultQueueCap = 1024
	minQueueCap     = 2

	cacheLinePad = 64
)

// queueSlot is one cell of the ring. seq tells producers and consumers whose
// turn the cell is for the current lap.
type queueSlot[T any] struct {
	seq   atomic.Uint64
	value T
}

// BoundedQueue is a fixed-capacity lock-free multi-producer multi-consumer
// FIFO ring. Push and Pop never block; a full queue is reported to the caller,
// which decides how to apply backpressure.
type BoundedQueue[T any] struct {
	ring []queueSlot[T]
	mask uint64

	_    [cacheLinePad]byte
	head atomic.Uint64
	_    [cacheLinePad - 8]byte
	tail atomic.Uint64
	_    [cacheLinePad - 8]byte
}

// NewBoundedQueue creates a queue holding at least capacity items. Capacity is
// rounded up to a power of two and is never below 2.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity <= 0 {
		capacity = defaultQueueCap
	}
	capacity = nextPowerOfTwo(max(capacity, minQueueCap))

	q := &BoundedQueue[T]{
		ring: make([]queueSlot[T], capacity),
		mask: uint64(capacity - 1),
	}
	for i := range q.ring {
		q.ring[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush appends v. It returns false when the queue is full.
func (q *BoundedQueue[T]) TryPush(v T) bool {
	for {
		pos := q.tail.Load()
		slot := &q.ring[pos&q.mask]
		diff := int64(slot.seq.Load()) - int64(pos)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				slot.value = v
				slot.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		}
		// Another producer claimed pos; reload.
	}
}

// TryPop removes the oldest item. It returns false when the queue is empty.
func (q *BoundedQueue[T]) TryPop() (T, bool) {
	var zero T
	for {
		pos := q.head.Load()
		slot := &q.ring[pos&q.mask]
		diff := int64(slot.seq.Load()) - int64(pos+1)

		switch {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := slot.value
				slot.value = zero
				slot.seq.Store(pos + q.mask + 1)
				return v, true
			}
		case diff < 0:
			return zero, false
		}
	}
}

// Len is approximate under concurrent use.
func (q *BoundedQueue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail > head {
		return int(tail - head)
	}
	return 0
}

func (q *BoundedQueue[T]) Cap() int { return len(q.ring) }

func (q *BoundedQueue[T]) IsEmpty() bool { return q.Len() == 0 }

// Clear drops every queued item. Only safe once producers have stopped.
func (q *BoundedQueue[T]) Clear() {
	for {
		if _, ok := q.TryPop(); !ok {
			return
		}
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
