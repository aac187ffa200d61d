// Package store defines the event journal: a durable record of session
// events that outlives the process, queried by session or chain run.
package store

import (
	"context"
	"time"

	"github.com/PipeOpsHQ/sai/observe"
	"github.com/PipeOpsHQ/sai/types"
)

type ListQuery struct {
	Limit  int
	Offset int
}

type SummaryQuery struct {
	SessionID string
	Since     *time.Time
}

// Summary counts journaled events by lifecycle type.
type Summary struct {
	Sends           int64 `json:"sends"`
	SendFailures    int64 `json:"sendFailures"`
	ToolReplies     int64 `json:"toolReplies"`
	ToolExecutions  int64 `json:"toolExecutions"`
	ChainsStarted   int64 `json:"chainsStarted"`
	ChainsCompleted int64 `json:"chainsCompleted"`
	ChainsFailed    int64 `json:"chainsFailed"`
	MemoryClears    int64 `json:"memoryClears"`
}

// Add folds n events named name into the summary.
func (s *Summary) Add(name string, n int64) {
	switch types.EventType(name) {
	case types.EventSendCompleted:
		s.Sends += n
	case types.EventSendFailed:
		s.SendFailures += n
	case types.EventToolRouted:
		s.ToolReplies += n
	case types.EventToolExecuted:
		s.ToolExecutions += n
	case types.EventChainStarted:
		s.ChainsStarted += n
	case types.EventChainCompleted:
		s.ChainsCompleted += n
	case types.EventChainFailed:
		s.ChainsFailed += n
	case types.EventMemoryCleared:
		s.MemoryClears += n
	}
}

type Store interface {
	SaveEvent(ctx context.Context, event observe.Event) error
	ListEventsBySession(ctx context.Context, sessionID string, query ListQuery) ([]observe.Event, error)
	ListEventsByChain(ctx context.Context, chainID string, query ListQuery) ([]observe.Event, error)
	Summarize(ctx context.Context, query SummaryQuery) (Summary, error)
	Close() error
}

// Sink adapts a journal to observe.Sink.
func Sink(s Store) observe.Sink {
	return observe.SinkFunc(func(ctx context.Context, event observe.Event) error {
		return s.SaveEvent(ctx, event)
	})
}
