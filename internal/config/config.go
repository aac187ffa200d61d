// Package config resolves runtime settings from the environment. Credentials
// are only ever read here; nothing in the module carries a default API key.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModel          = "gemini-1.5-flash"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 1000
	DefaultTopP           = 0.8
	DefaultTopK           = 10
	DefaultMemoryWindow   = 10
	DefaultRequestTimeout = 60 * time.Second
	DefaultAddr           = "127.0.0.1:7171"
	DefaultSQLitePath     = "./.sai/state.db"
)

type StateConfig struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	TopP           float64
	TopK           int
	MemoryEnabled  bool
	MemoryWindow   int
	RequestTimeout time.Duration
	SessionID      string
	Addr           string
	LogLevel       string
	// EventsPath enables the sqlite event journal when set.
	EventsPath string
	State      StateConfig
}

func Default() Config {
	return Config{
		Model:          DefaultModel,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		TopP:           DefaultTopP,
		TopK:           DefaultTopK,
		MemoryEnabled:  true,
		MemoryWindow:   DefaultMemoryWindow,
		RequestTimeout: DefaultRequestTimeout,
		Addr:           DefaultAddr,
		LogLevel:       "info",
		State: StateConfig{
			Backend:    "none",
			SQLitePath: DefaultSQLitePath,
			RedisAddr:  "127.0.0.1:6379",
			RedisTTL:   72 * time.Hour,
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %q: %w", p, err)
		}
	}
	return nil
}

// FromEnv starts from Default and applies SAI_* overrides plus GEMINI_API_KEY.
func FromEnv() Config {
	cfg := Default()
	cfg.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.BaseURL = Getenv("SAI_BASE_URL", "")
	cfg.Model = Getenv("SAI_MODEL", cfg.Model)
	cfg.Temperature = ParseFloatEnv("SAI_TEMPERATURE", cfg.Temperature)
	cfg.MaxTokens = ParseIntEnv("SAI_MAX_TOKENS", cfg.MaxTokens)
	cfg.TopP = ParseFloatEnv("SAI_TOP_P", cfg.TopP)
	cfg.TopK = ParseIntEnv("SAI_TOP_K", cfg.TopK)
	cfg.MemoryEnabled = ParseBoolEnv("SAI_MEMORY_ENABLED", cfg.MemoryEnabled)
	cfg.MemoryWindow = ParseIntEnv("SAI_MEMORY_WINDOW", cfg.MemoryWindow)
	cfg.RequestTimeout = ParseDurationEnv("SAI_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.SessionID = Getenv("SAI_SESSION_ID", "")
	cfg.Addr = Getenv("SAI_ADDR", cfg.Addr)
	cfg.LogLevel = Getenv("SAI_LOG_LEVEL", cfg.LogLevel)
	cfg.EventsPath = Getenv("SAI_EVENTS_PATH", "")

	cfg.State.Backend = strings.ToLower(Getenv("SAI_STATE_BACKEND", cfg.State.Backend))
	cfg.State.SQLitePath = Getenv("SAI_SQLITE_PATH", cfg.State.SQLitePath)
	cfg.State.RedisAddr = Getenv("SAI_REDIS_ADDR", cfg.State.RedisAddr)
	cfg.State.RedisPassword = strings.TrimSpace(os.Getenv("SAI_REDIS_PASSWORD"))
	cfg.State.RedisDB = ParseIntEnv("SAI_REDIS_DB", cfg.State.RedisDB)
	cfg.State.RedisTTL = ParseDurationEnv("SAI_REDIS_TTL", cfg.State.RedisTTL)
	return cfg
}

func (c Config) Validate() error {
	if c.MemoryWindow <= 0 {
		return fmt.Errorf("memory window must be positive, got %d", c.MemoryWindow)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature)
	}
	switch c.State.Backend {
	case "", "none", "memory", "sqlite", "redis", "hybrid":
	default:
		return fmt.Errorf("unsupported state backend %q (use none, memory, sqlite, redis, or hybrid)", c.State.Backend)
	}
	return nil
}
