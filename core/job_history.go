package core

import (
	"sync"
)

// executionHistory is a fixed-size ring of the most recent job runs.
type executionHistory struct {
	mu    sync.Mutex
	items []JobExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 0 {
		return &executionHistory{}
	}
	if capacity == 0 {
		capacity = DefaultHistoryCapacity
	}
	return &executionHistory{items: make([]JobExecutionRecord, capacity)}
}

func (h *executionHistory) enabled() bool { return len(h.items) > 0 }

func (h *executionHistory) Add(record JobExecutionRecord) {
	if !h.enabled() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *executionHistory) Recent(limit int) []JobExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}
	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]JobExecutionRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (JobExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return JobExecutionRecord{}, false
	}
	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

func (h *executionHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.items)
	h.head = 0
	h.count = 0
}
