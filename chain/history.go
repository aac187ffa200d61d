package chain

import (
	"sync"

	list "github.com/bahlo/generic-list-go"
)

const DefaultHistoryCapacity = 10

// History keeps the most recent completed runs, newest first.
type History struct {
	mu       sync.RWMutex
	runs     *list.List[Run]
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{runs: list.New[Run](), capacity: capacity}
}

func (h *History) Add(run Run) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs.PushFront(run)
	for h.runs.Len() > h.capacity {
		h.runs.Remove(h.runs.Back())
	}
}

func (h *History) List() []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Run, 0, h.runs.Len())
	for e := h.runs.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runs.Len()
}
