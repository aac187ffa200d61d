package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
	// fixed width so text ordering matches time ordering
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) SaveSettings(ctx context.Context, rec state.SettingsRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO settings (
  session_id, model, temperature, max_tokens, top_p, top_k, memory_enabled, memory_window, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  model=excluded.model,
  temperature=excluded.temperature,
  max_tokens=excluded.max_tokens,
  top_p=excluded.top_p,
  top_k=excluded.top_k,
  memory_enabled=excluded.memory_enabled,
  memory_window=excluded.memory_window,
  updated_at=excluded.updated_at;
`
	_, err := s.db.ExecContext(ctx, q,
		rec.SessionID,
		rec.Model,
		rec.Temperature,
		rec.MaxTokens,
		rec.TopP,
		rec.TopK,
		boolToInt(rec.MemoryEnabled),
		rec.MemoryWindow,
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context, sessionID string) (state.SettingsRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return state.SettingsRecord{}, fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	const q = `
SELECT session_id, model, temperature, max_tokens, top_p, top_k, memory_enabled, memory_window, updated_at
FROM settings
WHERE session_id = ?;
`
	var (
		rec        state.SettingsRecord
		enabled    int
		updatedRaw string
	)
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(
		&rec.SessionID,
		&rec.Model,
		&rec.Temperature,
		&rec.MaxTokens,
		&rec.TopP,
		&rec.TopK,
		&enabled,
		&rec.MemoryWindow,
		&updatedRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.SettingsRecord{}, state.ErrNotFound
		}
		return state.SettingsRecord{}, fmt.Errorf("failed to load settings: %w", err)
	}
	rec.MemoryEnabled = enabled != 0
	if rec.UpdatedAt, err = parseRequiredTime(updatedRaw); err != nil {
		return state.SettingsRecord{}, fmt.Errorf("failed to parse settings updated_at: %w", err)
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
	stepsRaw, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal template steps: %w", err)
	}
	const q = `
INSERT INTO chain_templates (name, steps, created_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET steps=excluded.steps, created_at=excluded.created_at;
`
	if _, err := s.db.ExecContext(ctx, q, tpl.Name, string(stepsRaw), formatTime(tpl.CreatedAt)); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *Store) LoadTemplate(ctx context.Context, name string) (chain.Template, error) {
	const q = `SELECT name, steps, created_at FROM chain_templates WHERE name = ?;`
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, q, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chain.Template{}, state.ErrNotFound
		}
		return chain.Template{}, fmt.Errorf("failed to load template: %w", err)
	}
	return tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]chain.Template, error) {
	const q = `SELECT name, steps, created_at FROM chain_templates ORDER BY name ASC;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := []chain.Template{}
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chain_templates WHERE name = ?;`, name)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) SaveChainRun(ctx context.Context, rec state.ChainRunRecord) error {
	run := rec.Run
	if run.ID == "" {
		return fmt.Errorf("%w: run id is required", state.ErrInvalid)
	}
	if rec.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", state.ErrInvalid)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	instructionsRaw, err := json.Marshal(run.Instructions)
	if err != nil {
		return fmt.Errorf("failed to marshal instructions: %w", err)
	}
	stepsRaw, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	const q = `
INSERT INTO chain_runs (run_id, session_id, instructions, initial_input, steps, final_output, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO NOTHING;
`
	_, err = s.db.ExecContext(ctx, q,
		run.ID,
		rec.SessionID,
		string(instructionsRaw),
		run.InitialInput,
		string(stepsRaw),
		run.FinalOutput,
		formatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save chain run: %w", err)
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

	sqlText := `
SELECT run_id, session_id, instructions, initial_input, steps, final_output, created_at
FROM chain_runs
`
	var args []any
	if query.SessionID != "" {
		sqlText += " WHERE session_id = ?"
		args = append(args, query.SessionID)
	}
	sqlText += " ORDER BY created_at DESC LIMIT ? OFFSET ?;"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chain runs: %w", err)
	}
	defer rows.Close()

	out := make([]state.ChainRunRecord, 0, limit)
	for rows.Next() {
		var (
			rec             state.ChainRunRecord
			instructionsRaw string
			stepsRaw        string
			createdRaw      string
		)
		if err := rows.Scan(
			&rec.Run.ID,
			&rec.SessionID,
			&instructionsRaw,
			&rec.Run.InitialInput,
			&stepsRaw,
			&rec.Run.FinalOutput,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chain run row: %w", err)
		}
		if err := json.Unmarshal([]byte(instructionsRaw), &rec.Run.Instructions); err != nil {
			return nil, fmt.Errorf("failed to decode chain run instructions: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsRaw), &rec.Run.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode chain run steps: %w", err)
		}
		if rec.Run.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
			return nil, fmt.Errorf("failed to parse chain run created_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chain runs: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (chain.Template, error) {
	var (
		tpl        chain.Template
		stepsRaw   string
		createdRaw string
	)
	if err := row.Scan(&tpl.Name, &stepsRaw, &createdRaw); err != nil {
		return chain.Template{}, err
	}
	if err := json.Unmarshal([]byte(stepsRaw), &tpl.Steps); err != nil {
		return chain.Template{}, fmt.Errorf("failed to decode template steps: %w", err)
	}
	created, err := parseRequiredTime(createdRaw)
	if err != nil {
		return chain.Template{}, fmt.Errorf("failed to parse template created_at: %w", err)
	}
	tpl.CreatedAt = created
	return tpl, nil
}

func parseRequiredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
