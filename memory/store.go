// Package memory keeps the bounded conversation window replayed to the model.
package memory

import (
	"time"

	list "github.com/bahlo/generic-list-go"

	"github.com/PipeOpsHQ/sai/types"
)

const DefaultCapacity = 10

// Turn is one immutable conversation entry.
type Turn struct {
	Role      types.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store is a FIFO window of turns. It is not safe for concurrent use; the
// owning session serializes access.
type Store struct {
	turns    *list.List[Turn]
	capacity int
	enabled  bool
	now      func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(capacity int, enabled bool, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		turns:    list.New[Turn](),
		capacity: capacity,
		enabled:  enabled,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records a turn and evicts the oldest ones beyond capacity. It is a
// no-op while memory is disabled.
func (s *Store) Append(role types.Role, content string) {
	if !s.enabled {
		return
	}
	s.turns.PushBack(Turn{Role: role, Content: content, CreatedAt: s.now()})
	for s.turns.Len() > s.capacity {
		s.turns.Remove(s.turns.Front())
	}
}

// Snapshot returns the visible turns oldest first.
func (s *Store) Snapshot() []Turn {
	if !s.enabled {
		return []Turn{}
	}
	return s.Retained()
}

// Retained returns every stored turn, including those kept while memory is
// disabled.
func (s *Store) Retained() []Turn {
	out := make([]Turn, 0, s.turns.Len())
	for e := s.turns.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

// Context returns the visible turns as model messages.
func (s *Store) Context() []types.Message {
	if !s.enabled {
		return nil
	}
	out := make([]types.Message, 0, s.turns.Len())
	for e := s.turns.Front(); e != nil; e = e.Next() {
		out = append(out, types.Message{Role: e.Value.Role, Content: e.Value.Content})
	}
	return out
}

func (s *Store) Clear() {
	s.turns.Init()
}

// SetCapacity changes the window size. Existing turns are trimmed on the next
// append, not here.
func (s *Store) SetCapacity(capacity int) {
	if capacity > 0 {
		s.capacity = capacity
	}
}

func (s *Store) Capacity() int { return s.capacity }

// SetEnabled toggles memory. Turns already stored stay put while disabled and
// reappear when memory is turned back on.
func (s *Store) SetEnabled(enabled bool) { s.enabled = enabled }

func (s *Store) Enabled() bool { return s.enabled }

// Len reports the number of visible turns.
func (s *Store) Len() int {
	if !s.enabled {
		return 0
	}
	return s.turns.Len()
}
