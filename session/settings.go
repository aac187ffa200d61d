package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/sai/internal/config"
	"github.com/PipeOpsHQ/sai/state"
	"github.com/PipeOpsHQ/sai/tools"
)

// Settings are the tunables a user can change while a session runs.
type Settings struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"maxTokens"`
	TopP          float64 `json:"topP"`
	TopK          int     `json:"topK"`
	MemoryEnabled bool    `json:"memoryEnabled"`
	MemoryWindow  int     `json:"memoryWindow"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:         config.DefaultModel,
		Temperature:   config.DefaultTemperature,
		MaxTokens:     config.DefaultMaxTokens,
		TopP:          config.DefaultTopP,
		TopK:          config.DefaultTopK,
		MemoryEnabled: true,
		MemoryWindow:  config.DefaultMemoryWindow,
	}
}

func (st Settings) validate() error {
	switch {
	case strings.TrimSpace(st.Model) == "":
		return fmt.Errorf("%w: model is required", ErrInvalidSettings)
	case st.Temperature < 0 || st.Temperature > 2:
		return fmt.Errorf("%w: temperature must be within [0, 2], got %v", ErrInvalidSettings, st.Temperature)
	case st.MaxTokens <= 0:
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidSettings, st.MaxTokens)
	case st.TopP < 0 || st.TopP > 1:
		return fmt.Errorf("%w: topP must be within [0, 1], got %v", ErrInvalidSettings, st.TopP)
	case st.TopK < 0:
		return fmt.Errorf("%w: topK must not be negative, got %d", ErrInvalidSettings, st.TopK)
	case st.MemoryWindow <= 0:
		return fmt.Errorf("%w: memory window must be positive, got %d", ErrInvalidSettings, st.MemoryWindow)
	}
	return nil
}

// Patch changes a subset of settings. Nil fields keep their current value.
type Patch struct {
	Model         *string  `json:"model,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	TopK          *int     `json:"topK,omitempty"`
	MemoryEnabled *bool    `json:"memoryEnabled,omitempty"`
	MemoryWindow  *int     `json:"memoryWindow,omitempty"`
}

func (p Patch) apply(st Settings) Settings {
	if p.Model != nil {
		st.Model = strings.TrimSpace(*p.Model)
	}
	if p.Temperature != nil {
		st.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		st.MaxTokens = *p.MaxTokens
	}
	if p.TopP != nil {
		st.TopP = *p.TopP
	}
	if p.TopK != nil {
		st.TopK = *p.TopK
	}
	if p.MemoryEnabled != nil {
		st.MemoryEnabled = *p.MemoryEnabled
	}
	if p.MemoryWindow != nil {
		st.MemoryWindow = *p.MemoryWindow
	}
	return st
}

func (s *Session) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := s.do(ctx, func() { out = s.settings })
	return out, err
}

// Configure applies patch atomically; an invalid result leaves the settings
// unchanged.
func (s *Session) Configure(ctx context.Context, patch Patch) (Settings, error) {
	var (
		out    Settings
		cfgErr error
	)
	err := s.do(ctx, func() {
		next := patch.apply(s.settings)
		if cfgErr = next.validate(); cfgErr != nil {
			out = s.settings
			return
		}
		s.applySettings(next)
		out = next
	})
	if err != nil {
		return Settings{}, err
	}
	return out, cfgErr
}

func (s *Session) SetMemoryEnabled(ctx context.Context, enabled bool) error {
	_, err := s.Configure(ctx, Patch{MemoryEnabled: &enabled})
	return err
}

func (s *Session) SetMemoryWindow(ctx context.Context, window int) error {
	_, err := s.Configure(ctx, Patch{MemoryWindow: &window})
	return err
}

func (s *Session) applySettings(next Settings) {
	s.settings = next
	s.memory.SetEnabled(next.MemoryEnabled)
	s.memory.SetCapacity(next.MemoryWindow)
}

// SaveSettings persists the current settings under the session id.
func (s *Session) SaveSettings(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	var rec state.SettingsRecord
	if err := s.do(ctx, func() {
		rec = state.SettingsRecord{
			SessionID:     s.id,
			Model:         s.settings.Model,
			Temperature:   s.settings.Temperature,
			MaxTokens:     s.settings.MaxTokens,
			TopP:          s.settings.TopP,
			TopK:          s.settings.TopK,
			MemoryEnabled: s.settings.MemoryEnabled,
			MemoryWindow:  s.settings.MemoryWindow,
			UpdatedAt:     s.now().UTC(),
		}
	}); err != nil {
		return err
	}
	if err := s.store.SaveSettings(ctx, rec); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RestoreSettings loads previously saved settings for this session id. It
// returns state.ErrNotFound when none were saved.
func (s *Session) RestoreSettings(ctx context.Context) (Settings, error) {
	if s.store == nil {
		return Settings{}, ErrNoStore
	}
	rec, err := s.store.LoadSettings(ctx, s.id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return Settings{}, err
		}
		return Settings{}, fmt.Errorf("restore settings: %w", err)
	}
	return s.Configure(ctx, Patch{
		Model:         &rec.Model,
		Temperature:   &rec.Temperature,
		MaxTokens:     &rec.MaxTokens,
		TopP:          &rec.TopP,
		TopK:          &rec.TopK,
		MemoryEnabled: &rec.MemoryEnabled,
		MemoryWindow:  &rec.MemoryWindow,
	})
}

func (s *Session) Tools(ctx context.Context) ([]tools.Descriptor, error) {
	var out []tools.Descriptor
	err := s.do(ctx, func() { out = s.registry.Catalog() })
	return out, err
}
