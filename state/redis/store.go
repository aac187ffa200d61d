package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultLimit  = 50
	defaultPrefix = "sai"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

// WithTTL bounds how long chain runs and settings live. Templates never expire.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) SaveSettings(ctx context.Context, rec state.SettingsRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, s.settingsKey(rec.SessionID), string(raw), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save settings in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context, sessionID string) (state.SettingsRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return state.SettingsRecord{}, fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	raw, err := s.client.Get(ctx, s.settingsKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return state.SettingsRecord{}, state.ErrNotFound
		}
		return state.SettingsRecord{}, fmt.Errorf("failed to load settings from redis: %w", err)
	}
	var rec state.SettingsRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return state.SettingsRecord{}, fmt.Errorf("failed to decode settings from redis: %w", err)
	}
	return rec, nil
}

func (s *Store) SaveTemplate(ctx context.Context, tpl chain.Template) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalid, err)
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	if err := s.client.HSet(ctx, s.templatesKey(), tpl.Name, string(raw)).Err(); err != nil {
		return fmt.Errorf("failed to save template in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadTemplate(ctx context.Context, name string) (chain.Template, error) {
	raw, err := s.client.HGet(ctx, s.templatesKey(), name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return chain.Template{}, state.ErrNotFound
		}
		return chain.Template{}, fmt.Errorf("failed to load template from redis: %w", err)
	}
	var tpl chain.Template
	if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
		return chain.Template{}, fmt.Errorf("failed to decode template from redis: %w", err)
	}
	return tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]chain.Template, error) {
	values, err := s.client.HGetAll(ctx, s.templatesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list templates from redis: %w", err)
	}
	out := make([]chain.Template, 0, len(values))
	for _, raw := range values {
		var tpl chain.Template
		if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
			continue
		}
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	n, err := s.client.HDel(ctx, s.templatesKey(), name).Result()
	if err != nil {
		return fmt.Errorf("failed to delete template from redis: %w", err)
	}
	if n == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) SaveChainRun(ctx context.Context, rec state.ChainRunRecord) error {
	if rec.Run.ID == "" {
		return fmt.Errorf("%w: run id is required", state.ErrInvalid)
	}
	if rec.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	if rec.Run.CreatedAt.IsZero() {
		rec.Run.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal chain run: %w", err)
	}

	score := float64(rec.Run.CreatedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(rec.Run.ID), string(raw), s.ttl)
	for _, idx := range []string{s.sessionIndexKey(rec.SessionID), s.allRunsIndexKey()} {
		pipe.ZAdd(ctx, idx, goredis.Z{Score: score, Member: rec.Run.ID})
		pipe.Expire(ctx, idx, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save chain run in redis: %w", err)
	}
	return nil
}

func (s *Store) ListChainRuns(ctx context.Context, query state.ListChainRunsQuery) ([]state.ChainRunRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	idx := s.allRunsIndexKey()
	if query.SessionID != "" {
		idx = s.sessionIndexKey(query.SessionID)
	}
	ids, err := s.client.ZRevRange(ctx, idx, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chain run ids: %w", err)
	}
	if len(ids) == 0 {
		return []state.ChainRunRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	loaded, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget chain runs from redis: %w", err)
	}

	out := make([]state.ChainRunRecord, 0, len(loaded))
	stale := make([]any, 0)
	for i, raw := range loaded {
		str, ok := raw.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec state.ChainRunRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, idx, stale...).Err()
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) settingsKey(sessionID string) string {
	return fmt.Sprintf("%s:settings:%s", s.prefix, sessionID)
}

func (s *Store) templatesKey() string {
	return fmt.Sprintf("%s:templates", s.prefix)
}

func (s *Store) runKey(runID string) string {
	return fmt.Sprintf("%s:chainrun:%s", s.prefix, runID)
}

func (s *Store) sessionIndexKey(sessionID string) string {
	return fmt.Sprintf("%s:chainidx:session:%s", s.prefix, sessionID)
}

func (s *Store) allRunsIndexKey() string {
	return fmt.Sprintf("%s:chainidx:all", s.prefix)
}
