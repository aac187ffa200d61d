package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/sai/observe"
	observestore "github.com/PipeOpsHQ/sai/observe/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultLimit = 200
	timeLayout   = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	db *sql.DB
}

var _ observestore.Store = (*Store)(nil)

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveEvent(ctx context.Context, event observe.Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	event.Normalize()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode event attributes: %w", err)
	}
	const q = `
INSERT INTO session_events (
  event_id, chain_id, session_id, span_id, parent_span_id, kind, status, name, provider, tool_name,
  message, error, duration_ms, attributes, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(
		ctx,
		q,
		event.ID,
		event.RunID,
		event.SessionID,
		event.SpanID,
		event.ParentSpanID,
		string(event.Kind),
		string(event.Status),
		event.Name,
		event.Provider,
		event.ToolName,
		event.Message,
		event.Error,
		event.DurationMs,
		string(attrs),
		event.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsBySession(ctx context.Context, sessionID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("sessionID is required")
	}
	return s.list(ctx, "session_id = ?", sessionID, query)
}

func (s *Store) ListEventsByChain(ctx context.Context, chainID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(chainID) == "" {
		return nil, fmt.Errorf("chainID is required")
	}
	return s.list(ctx, "chain_id = ?", chainID, query)
}

func (s *Store) list(ctx context.Context, predicate string, value string, query observestore.ListQuery) ([]observe.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(query.Offset, 0)

	q := fmt.Sprintf(`
SELECT event_id, chain_id, session_id, span_id, parent_span_id, kind, status, name, provider, tool_name,
       message, error, duration_ms, attributes, timestamp
FROM session_events
WHERE %s
ORDER BY timestamp ASC, rowid ASC
LIMIT ? OFFSET ?;
`, predicate)

	rows, err := s.db.QueryContext(ctx, q, value, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := make([]observe.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (observe.Event, error) {
	var (
		e      observe.Event
		kind   string
		status string
		attrs  string
		tsRaw  string
	)
	if err := scanner.Scan(
		&e.ID,
		&e.RunID,
		&e.SessionID,
		&e.SpanID,
		&e.ParentSpanID,
		&kind,
		&status,
		&e.Name,
		&e.Provider,
		&e.ToolName,
		&e.Message,
		&e.Error,
		&e.DurationMs,
		&attrs,
		&tsRaw,
	); err != nil {
		return observe.Event{}, fmt.Errorf("failed to scan event: %w", err)
	}
	e.Kind = observe.Kind(kind)
	e.Status = observe.Status(status)
	if ts, err := time.Parse(timeLayout, tsRaw); err == nil {
		e.Timestamp = ts
	}
	if attrs != "" {
		_ = json.Unmarshal([]byte(attrs), &e.Attributes)
	}
	e.Normalize()
	return e, nil
}

func (s *Store) Summarize(ctx context.Context, query observestore.SummaryQuery) (observestore.Summary, error) {
	if s == nil || s.db == nil {
		return observestore.Summary{}, nil
	}
	var (
		conds []string
		args  []any
	)
	if query.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, query.SessionID)
	}
	if query.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, query.Since.UTC().Format(timeLayout))
	}
	q := "SELECT name, COUNT(*) FROM session_events"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " GROUP BY name"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return observestore.Summary{}, fmt.Errorf("failed to summarize events: %w", err)
	}
	defer rows.Close()

	var summary observestore.Summary
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return observestore.Summary{}, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.Add(name, n)
	}
	if err := rows.Err(); err != nil {
		return observestore.Summary{}, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return summary, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
