package session

import (
	"context"
	"fmt"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
	"github.com/PipeOpsHQ/sai/types"
)

// RunChain executes instructions in order, feeding each output into the next
// step. Steps go straight to the remote model without tool routing. The whole
// chain holds the session, so chat sends wait until it finishes. A failed step
// returns *chain.ChainStepError; turns and analytics from earlier steps stay.
func (s *Session) RunChain(ctx context.Context, instructions []string, input string) (chain.Run, error) {
	if err := chain.Validate(instructions, input); err != nil {
		return chain.Run{}, err
	}
	var (
		run    chain.Run
		runErr error
	)
	err := s.do(ctx, func() {
		var (
			runID   string
			curStep int
		)
		sender := chain.SenderFunc(func(ctx context.Context, prompt string) (string, error) {
			reply, err := s.send(ctx, prompt, sendScope{chainID: runID, step: curStep})
			return reply.Text, err
		})
		hooks := chain.Hooks{
			OnStart: func(id string) {
				runID = id
				s.emit(ctx, types.Event{Type: types.EventChainStarted, ChainID: id, Message: input})
			},
			OnStepStart: func(step int, prompt string) {
				curStep = step
				s.emit(ctx, types.Event{Type: types.EventChainStepStarted, ChainID: runID, Step: step, Message: prompt})
			},
			OnStepDone: func(step chain.Step) {
				s.emit(ctx, types.Event{Type: types.EventChainStepDone, ChainID: runID, Step: step.Index})
			},
		}
		run, runErr = s.chains.Run(ctx, sender, instructions, input, hooks)
		if runErr != nil {
			s.emit(ctx, types.Event{Type: types.EventChainFailed, ChainID: runID, Error: runErr.Error()})
			return
		}
		s.emit(ctx, types.Event{Type: types.EventChainCompleted, ChainID: run.ID, Message: run.FinalOutput})
	})
	if err != nil {
		return chain.Run{}, err
	}
	if runErr != nil {
		return chain.Run{}, runErr
	}
	if s.store != nil {
		if err := s.store.SaveChainRun(ctx, state.ChainRunRecord{SessionID: s.id, Run: run}); err != nil {
			s.logger.Warn().Err(err).Str("session", s.id).Str("chain", run.ID).Msg("failed to archive chain run")
		}
	}
	return run, nil
}

// RunTemplate runs a saved template against input.
func (s *Session) RunTemplate(ctx context.Context, name, input string) (chain.Run, error) {
	tpl, err := s.LoadTemplate(ctx, name)
	if err != nil {
		return chain.Run{}, err
	}
	return s.RunChain(ctx, tpl.Steps, input)
}

// ChainHistory returns the in-memory run history, newest first.
func (s *Session) ChainHistory(ctx context.Context) ([]chain.Run, error) {
	var out []chain.Run
	err := s.do(ctx, func() { out = s.chains.History().List() })
	return out, err
}

// ArchivedChainRuns lists runs persisted for this session, newest first.
func (s *Session) ArchivedChainRuns(ctx context.Context, limit int) ([]chain.Run, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	recs, err := s.store.ListChainRuns(ctx, state.ListChainRunsQuery{SessionID: s.id, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list archived chain runs: %w", err)
	}
	out := make([]chain.Run, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Run)
	}
	return out, nil
}

func (s *Session) SaveTemplate(ctx context.Context, tpl chain.Template) (chain.Template, error) {
	if s.store == nil {
		return chain.Template{}, ErrNoStore
	}
	if err := tpl.Validate(); err != nil {
		return chain.Template{}, err
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = s.now().UTC()
	}
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return chain.Template{}, fmt.Errorf("save template: %w", err)
	}
	return tpl, nil
}

func (s *Session) LoadTemplate(ctx context.Context, name string) (chain.Template, error) {
	if s.store == nil {
		return chain.Template{}, ErrNoStore
	}
	return s.store.LoadTemplate(ctx, name)
}

func (s *Session) Templates(ctx context.Context) ([]chain.Template, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListTemplates(ctx)
}

func (s *Session) DeleteTemplate(ctx context.Context, name string) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.DeleteTemplate(ctx, name)
}
