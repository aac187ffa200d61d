package state

import (
	"context"
	"errors"

	"github.com/PipeOpsHQ/sai/chain"
)

var (
	ErrNotFound = errors.New("state: not found")
	ErrInvalid  = errors.New("state: invalid record")
)

type ListChainRunsQuery struct {
	SessionID string
	Limit     int
	Offset    int
}

// Store persists what a session wants to outlive the process: its settings,
// the saved chain templates, and an archive of completed chain runs.
type Store interface {
	SaveSettings(ctx context.Context, settings SettingsRecord) error
	LoadSettings(ctx context.Context, sessionID string) (SettingsRecord, error)

	SaveTemplate(ctx context.Context, template chain.Template) error
	LoadTemplate(ctx context.Context, name string) (chain.Template, error)
	ListTemplates(ctx context.Context) ([]chain.Template, error)
	DeleteTemplate(ctx context.Context, name string) error

	SaveChainRun(ctx context.Context, run ChainRunRecord) error
	ListChainRuns(ctx context.Context, query ListChainRunsQuery) ([]ChainRunRecord, error)

	Close() error
}
