package state

import (
	"time"

	"github.com/PipeOpsHQ/sai/chain"
)

// SettingsRecord is the persisted form of a session's tunable settings.
type SettingsRecord struct {
	SessionID     string    `json:"sessionId"`
	Model         string    `json:"model"`
	Temperature   float64   `json:"temperature"`
	MaxTokens     int       `json:"maxTokens"`
	TopP          float64   `json:"topP"`
	TopK          int       `json:"topK"`
	MemoryEnabled bool      `json:"memoryEnabled"`
	MemoryWindow  int       `json:"memoryWindow"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ChainRunRecord archives one completed chain run.
type ChainRunRecord struct {
	SessionID string    `json:"sessionId"`
	Run       chain.Run `json:"run"`
}
