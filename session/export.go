package session

import (
	"context"
	"time"

	"github.com/PipeOpsHQ/sai/analytics"
	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/memory"
	"github.com/PipeOpsHQ/sai/types"
)

type MemorySettings struct {
	Enabled bool `json:"enabled"`
	Window  int  `json:"window"`
}

// MemoryExport is the conversation download offered to users.
type MemoryExport struct {
	ConversationHistory []memory.Turn  `json:"conversationHistory"`
	ExportDate          time.Time      `json:"exportDate"`
	MemorySettings      MemorySettings `json:"memorySettings"`
}

type ExportSettings struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"maxTokens"`
	MemoryEnabled bool    `json:"memoryEnabled"`
	MemoryWindow  int     `json:"memoryWindow"`
}

// DataExport is the full session snapshot. There is no import path.
type DataExport struct {
	Analytics           analytics.Report `json:"analytics"`
	ConversationHistory []memory.Turn    `json:"conversationHistory"`
	ChainHistory        []chain.Run      `json:"chainHistory"`
	Settings            ExportSettings   `json:"settings"`
}

func (s *Session) ClearMemory(ctx context.Context) error {
	return s.do(ctx, func() {
		s.memory.Clear()
		s.emit(ctx, types.Event{Type: types.EventMemoryCleared})
	})
}

func (s *Session) MemorySnapshot(ctx context.Context) ([]memory.Turn, error) {
	var out []memory.Turn
	err := s.do(ctx, func() { out = s.memory.Snapshot() })
	return out, err
}

func (s *Session) Analytics(ctx context.Context) (analytics.Report, error) {
	var out analytics.Report
	err := s.do(ctx, func() { out = s.usage.Report() })
	return out, err
}

func (s *Session) ExportMemory(ctx context.Context) (MemoryExport, error) {
	var out MemoryExport
	err := s.do(ctx, func() {
		out = MemoryExport{
			ConversationHistory: s.memory.Retained(),
			ExportDate:          s.now().UTC(),
			MemorySettings: MemorySettings{
				Enabled: s.settings.MemoryEnabled,
				Window:  s.settings.MemoryWindow,
			},
		}
	})
	return out, err
}

func (s *Session) ExportData(ctx context.Context) (DataExport, error) {
	var out DataExport
	err := s.do(ctx, func() {
		out = DataExport{
			Analytics:           s.usage.Report(),
			ConversationHistory: s.memory.Retained(),
			ChainHistory:        s.chains.History().List(),
			Settings: ExportSettings{
				Model:         s.settings.Model,
				Temperature:   s.settings.Temperature,
				MaxTokens:     s.settings.MaxTokens,
				MemoryEnabled: s.settings.MemoryEnabled,
				MemoryWindow:  s.settings.MemoryWindow,
			},
		}
	})
	return out, err
}
