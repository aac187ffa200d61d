package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PipeOpsHQ/sai/internal/config"
	"github.com/PipeOpsHQ/sai/state"
	"github.com/PipeOpsHQ/sai/state/hybrid"
	"github.com/PipeOpsHQ/sai/state/memstore"
	redisstore "github.com/PipeOpsHQ/sai/state/redis"
	sqlitestore "github.com/PipeOpsHQ/sai/state/sqlite"
)

// FromConfig opens the configured backend. The "none" backend yields a nil
// store, which sessions treat as persistence disabled.
func FromConfig(ctx context.Context, cfg config.StateConfig, logger zerolog.Logger) (state.Store, error) {
	_ = ctx

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "none":
		return nil, nil

	case "memory":
		return memstore.New(), nil

	case "sqlite":
		return sqlitestore.New(sqlitePath(cfg))

	case "redis":
		return newRedisStore(cfg)

	case "hybrid":
		durable, err := sqlitestore.New(sqlitePath(cfg))
		if err != nil {
			return nil, err
		}
		cache, err := newRedisStore(cfg)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis cache unavailable, continuing with sqlite only")
			return hybrid.New(durable, nil, hybrid.WithLogger(logger))
		}
		return hybrid.New(durable, cache, hybrid.WithLogger(logger))

	default:
		return nil, fmt.Errorf("unsupported SAI_STATE_BACKEND %q (use none, memory, sqlite, redis, or hybrid)", backend)
	}
}

func sqlitePath(cfg config.StateConfig) string {
	if strings.TrimSpace(cfg.SQLitePath) == "" {
		return config.DefaultSQLitePath
	}
	return cfg.SQLitePath
}

func newRedisStore(cfg config.StateConfig) (state.Store, error) {
	addr := cfg.RedisAddr
	if strings.TrimSpace(addr) == "" {
		addr = "127.0.0.1:6379"
	}
	return redisstore.New(addr,
		redisstore.WithPassword(cfg.RedisPassword),
		redisstore.WithDB(cfg.RedisDB),
		redisstore.WithTTL(cfg.RedisTTL),
	)
}
