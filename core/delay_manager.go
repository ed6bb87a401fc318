package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedJob is a job waiting for its release time.
type delayedJob struct {
	runAt time.Time
	job   Job
	index int // for heap interface
}

// delayedJobHeap implements heap.Interface, earliest runAt first.
type delayedJobHeap []*delayedJob

func (h delayedJobHeap) Len() int           { return len(h) }
func (h delayedJobHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayedJobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedJobHeap) Push(x any) {
	item := x.(*delayedJob)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayedJobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func (h delayedJobHeap) peek() *delayedJob {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// delayManager holds SubmitAfter jobs and enqueues them when due. One
// goroutine per system sleeps until the earliest release time.
type delayManager struct {
	sys    *System
	pq     delayedJobHeap
	mu     sync.Mutex
	wakeup chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	stopped bool
}

func newDelayManager(sys *System) *delayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &delayManager{
		sys:    sys,
		wakeup: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go dm.loop(ctx)
	return dm
}

// add schedules job and reports false once the manager has stopped.
func (dm *delayManager) add(job Job, delay time.Duration) bool {
	dm.mu.Lock()
	if dm.stopped {
		dm.mu.Unlock()
		return false
	}
	item := &delayedJob{runAt: time.Now().Add(delay), job: job}
	heap.Push(&dm.pq, item)
	first := item.index == 0
	dm.mu.Unlock()

	if first {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return true
}

func (dm *delayManager) loop(ctx context.Context) {
	defer close(dm.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		next, ok := dm.untilNext()
		if ok && next <= 0 {
			dm.releaseExpired()
			continue
		}
		if !ok {
			next = time.Hour
		}
		timer.Reset(next)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.releaseExpired()
		case <-dm.wakeup:
			timer.Stop()
		}
	}
}

// untilNext reports the wait before the earliest job, and false when
// nothing is pending.
func (dm *delayManager) untilNext() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.peek()
	if item == nil {
		return 0, false
	}
	return time.Until(item.runAt), true
}

// releaseExpired enqueues every due job. Jobs are collected under the lock
// and enqueued outside it.
func (dm *delayManager) releaseExpired() {
	dm.mu.Lock()
	now := time.Now()
	var expired []Job
	for item := dm.pq.peek(); item != nil && !item.runAt.After(now); item = dm.pq.peek() {
		heap.Pop(&dm.pq)
		expired = append(expired, item.job)
	}
	dm.mu.Unlock()

	for _, job := range expired {
		dm.sys.enqueue(context.Background(), job)
	}
}

// stop ends the loop and returns the jobs that never became due, in
// release order.
func (dm *delayManager) stop() []Job {
	dm.cancel()
	<-dm.done

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.stopped = true
	pending := make([]Job, 0, len(dm.pq))
	for dm.pq.Len() > 0 {
		pending = append(pending, heap.Pop(&dm.pq).(*delayedJob).job)
	}
	return pending
}

// Len returns the number of jobs waiting for their release time.
func (dm *delayManager) Len() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
