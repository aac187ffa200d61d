// Package runtimeconfig loads an optional session profile file (json, yaml or
// toml) and layers it over the environment-derived configuration.
package runtimeconfig

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/PipeOpsHQ/sai/internal/config"
)

type Profile struct {
	Model          string   `mapstructure:"model"`
	Temperature    *float64 `mapstructure:"temperature"`
	MaxTokens      int      `mapstructure:"max_tokens"`
	TopP           *float64 `mapstructure:"top_p"`
	TopK           int      `mapstructure:"top_k"`
	MemoryEnabled  *bool    `mapstructure:"memory_enabled"`
	MemoryWindow   int      `mapstructure:"memory_window"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	SessionID      string   `mapstructure:"session_id"`
	Addr           string   `mapstructure:"addr"`
	StateBackend   string   `mapstructure:"state_backend"`
	SQLitePath     string   `mapstructure:"sqlite_path"`
	RedisAddr      string   `mapstructure:"redis_addr"`
	EventsPath     string   `mapstructure:"events_path"`
}

func Load(path string) (Profile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Profile{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	if err := v.ReadInConfig(); err != nil {
		return Profile{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return Profile{}, fmt.Errorf("failed to decode config file %q: %w", absPath, err)
	}
	p.Model = strings.TrimSpace(p.Model)
	p.StateBackend = strings.ToLower(strings.TrimSpace(p.StateBackend))
	if p.RequestTimeout != "" {
		if _, err := time.ParseDuration(p.RequestTimeout); err != nil {
			return Profile{}, fmt.Errorf("invalid request_timeout %q: %w", p.RequestTimeout, err)
		}
	}
	return p, nil
}

// Apply overlays the non-empty profile fields onto cfg.
func (p Profile) Apply(cfg config.Config) config.Config {
	if p.Model != "" {
		cfg.Model = p.Model
	}
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
	}
	if p.MaxTokens > 0 {
		cfg.MaxTokens = p.MaxTokens
	}
	if p.TopP != nil {
		cfg.TopP = *p.TopP
	}
	if p.TopK > 0 {
		cfg.TopK = p.TopK
	}
	if p.MemoryEnabled != nil {
		cfg.MemoryEnabled = *p.MemoryEnabled
	}
	if p.MemoryWindow > 0 {
		cfg.MemoryWindow = p.MemoryWindow
	}
	if d, err := time.ParseDuration(p.RequestTimeout); err == nil && d > 0 {
		cfg.RequestTimeout = d
	}
	if p.SessionID != "" {
		cfg.SessionID = p.SessionID
	}
	if p.Addr != "" {
		cfg.Addr = p.Addr
	}
	if p.StateBackend != "" {
		cfg.State.Backend = p.StateBackend
	}
	if p.SQLitePath != "" {
		cfg.State.SQLitePath = p.SQLitePath
	}
	if p.RedisAddr != "" {
		cfg.State.RedisAddr = p.RedisAddr
	}
	if p.EventsPath != "" {
		cfg.EventsPath = p.EventsPath
	}
	return cfg
}
