package hybrid

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
)

// HybridStore writes through to a durable store and keeps a best-effort cache
// in front of point lookups. Cache failures are logged, never returned.
type HybridStore struct {
	durable state.Store
	cache   state.Store
	logger  zerolog.Logger
}

type Option func(*HybridStore)

func WithLogger(logger zerolog.Logger) Option {
	return func(h *HybridStore) { h.logger = logger }
}

func New(durable state.Store, cache state.Store, opts ...Option) (*HybridStore, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable store is required")
	}
	h := &HybridStore{
		durable: durable,
		cache:   cache,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *HybridStore) cacheFailed(op string, err error) {
	h.logger.Warn().Err(err).Str("op", op).Msg("hybrid store cache operation failed")
}

func (h *HybridStore) SaveSettings(ctx context.Context, rec state.SettingsRecord) error {
	if err := h.durable.SaveSettings(ctx, rec); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.SaveSettings(ctx, rec); err != nil {
			h.cacheFailed("SaveSettings", err)
		}
	}
	return nil
}

func (h *HybridStore) LoadSettings(ctx context.Context, sessionID string) (state.SettingsRecord, error) {
	if h.cache != nil {
		rec, err := h.cache.LoadSettings(ctx, sessionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			h.cacheFailed("LoadSettings", err)
		}
	}

	rec, err := h.durable.LoadSettings(ctx, sessionID)
	if err != nil {
		return state.SettingsRecord{}, err
	}
	if h.cache != nil {
		if err := h.cache.SaveSettings(ctx, rec); err != nil {
			h.cacheFailed("backfill SaveSettings", err)
		}
	}
	return rec, nil
}

func (h *HybridStore) SaveTemplate(ctx context.Context, tpl chain.Template) error {
	if err := h.durable.SaveTemplate(ctx, tpl); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.SaveTemplate(ctx, tpl); err != nil {
			h.cacheFailed("SaveTemplate", err)
		}
	}
	return nil
}

func (h *HybridStore) LoadTemplate(ctx context.Context, name string) (chain.Template, error) {
	if h.cache != nil {
		tpl, err := h.cache.LoadTemplate(ctx, name)
		if err == nil {
			return tpl, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			h.cacheFailed("LoadTemplate", err)
		}
	}

	tpl, err := h.durable.LoadTemplate(ctx, name)
	if err != nil {
		return chain.Template{}, err
	}
	if h.cache != nil {
		if err := h.cache.SaveTemplate(ctx, tpl); err != nil {
			h.cacheFailed("backfill SaveTemplate", err)
		}
	}
	return tpl, nil
}

func (h *HybridStore) ListTemplates(ctx context.Context) ([]chain.Template, error) {
	return h.durable.ListTemplates(ctx)
}

func (h *HybridStore) DeleteTemplate(ctx context.Context, name string) error {
	if err := h.durable.DeleteTemplate(ctx, name); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.DeleteTemplate(ctx, name); err != nil && !errors.Is(err, state.ErrNotFound) {
			h.cacheFailed("DeleteTemplate", err)
		}
	}
	return nil
}

func (h *HybridStore) SaveChainRun(ctx context.Context, rec state.ChainRunRecord) error {
	if err := h.durable.SaveChainRun(ctx, rec); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.SaveChainRun(ctx, rec); err != nil {
			h.cacheFailed("SaveChainRun", err)
		}
	}
	return nil
}

func (h *HybridStore) ListChainRuns(ctx context.Context, query state.ListChainRunsQuery) ([]state.ChainRunRecord, error) {
	return h.durable.ListChainRuns(ctx, query)
}

func (h *HybridStore) Close() error {
	var errs []error
	if h.cache != nil {
		if err := h.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.durable.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
