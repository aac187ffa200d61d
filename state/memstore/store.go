// Package memstore is a process-local state.Store. Nothing survives a restart.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
)

var ErrWriteFailed = errors.New("memstore: write failed")

type Store struct {
	mu        sync.Mutex
	settings  map[string]state.SettingsRecord
	templates map[string]chain.Template
	runs      []state.ChainRunRecord

	// FailWrites makes every write return ErrWriteFailed.
	FailWrites bool
}

func New() *Store {
	return &Store{
		settings:  map[string]state.SettingsRecord{},
		templates: map[string]chain.Template{},
	}
}

func (s *Store) SaveSettings(_ context.Context, rec state.SettingsRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrWriteFailed
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.settings[rec.SessionID] = rec
	return nil
}

func (s *Store) LoadSettings(_ context.Context, sessionID string) (state.SettingsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.settings[sessionID]
	if !ok {
		return state.SettingsRecord{}, state.ErrNotFound
	}
	return rec, nil
}

func (s *Store) SaveTemplate(_ context.Context, tpl chain.Template) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrWriteFailed
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	tpl.Steps = append([]string(nil), tpl.Steps...)
	s.templates[tpl.Name] = tpl
	return nil
}

func (s *Store) LoadTemplate(_ context.Context, name string) (chain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[name]
	if !ok {
		return chain.Template{}, state.ErrNotFound
	}
	return tpl, nil
}

func (s *Store) ListTemplates(context.Context) ([]chain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chain.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteTemplate(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrWriteFailed
	}
	if _, ok := s.templates[name]; !ok {
		return state.ErrNotFound
	}
	delete(s.templates, name)
	return nil
}

func (s *Store) SaveChainRun(_ context.Context, rec state.ChainRunRecord) error {
	if rec.Run.ID == "" || rec.SessionID == "" {
		return fmt.Errorf("%w: run id and session_id are required", state.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrWriteFailed
	}
	s.runs = append(s.runs, rec)
	return nil
}

func (s *Store) ListChainRuns(_ context.Context, query state.ListChainRunsQuery) ([]state.ChainRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]state.ChainRunRecord, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		if query.SessionID != "" && s.runs[i].SessionID != query.SessionID {
			continue
		}
		out = append(out, s.runs[i])
	}
	if query.Offset > 0 {
		if query.Offset >= len(out) {
			return []state.ChainRunRecord{}, nil
		}
		out = out[query.Offset:]
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
