package observe

import (
	"context"
	"sync"
)

// Hub fans events out to live subscribers. Slow subscribers miss events
// rather than block the emitter.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	history []Event
	limit   int
}

func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = 200
	}
	return &Hub{subs: map[chan Event]struct{}{}, limit: historyLimit}
}

func (h *Hub) Emit(_ context.Context, event Event) error {
	event.Normalize()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of future events and a function that releases it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns the buffered events oldest first.
func (h *Hub) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.history...)
}
