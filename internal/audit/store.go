// Package audit records sessions and tool calls in an embedded libSQL
// database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/mediamcp/pkg/schema"
)

// SessionRecord is the audit row of one session.
type SessionRecord struct {
	ID           string
	AccessKey    string
	Region       string
	Endpoint     string
	Containers   []string
	CreatedAt    time.Time
	IndexItems   *int
	IndexError   string
	IndexElapsed time.Duration
	IndexedAt    *time.Time
	RemovedAt    *time.Time
	RemoveReason string
}

// ToolCall is the audit row of one dispatch.
type ToolCall struct {
	ID        int64
	Tool      string
	SessionID string
	Outcome   string
	Error     string
	Duration  time.Duration
	CalledAt  time.Time
}

// ToolCallFilter narrows ListToolCalls. Zero values match everything.
type ToolCallFilter struct {
	SessionID string
	Tool      string
	Limit     int
}

// Store is the libSQL-backed audit database.
type Store struct {
	db *sql.DB
}

// Open opens a libSQL database at path ("file:/path/to/audit.db" or a bare
// file path) and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: database path is empty")
	}
	if len(path) < 5 || path[:5] != "file:" {
		path = "file:" + path
	}
	db, err := sql.Open("libsql", path)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// InsertSession records a new session.
func (s *Store) InsertSession(ctx context.Context, id string, cfg schema.TenantConfig, createdAt time.Time) error {
	containers, err := json.Marshal(cfg.Containers())
	if err != nil {
		return fmt.Errorf("marshal containers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, access_key, region, endpoint, containers, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, cfg.AccessKey, cfg.Region, cfg.EndpointURL, string(containers), timeOrNow(createdAt),
	)
	return err
}

// RecordIndex stores the outcome of a session's index build.
func (s *Store) RecordIndex(ctx context.Context, id string, items int, elapsed time.Duration, buildErr error, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET index_items = ?, index_error = ?, index_ms = ?, indexed_at = ? WHERE id = ?`,
		items, errString(buildErr), elapsed.Milliseconds(), timeOrNow(at), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

// MarkRemoved stamps the removal time and reason of a session.
func (s *Store) MarkRemoved(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET removed_at = ?, remove_reason = ? WHERE id = ?`,
		timeOrNow(at), reason, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

// InsertToolCall records one dispatch.
func (s *Store) InsertToolCall(ctx context.Context, c ToolCall) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool, session_id, outcome, error, duration_ms, called_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Tool, nullStr(c.SessionID), c.Outcome, nullStr(c.Error), c.Duration.Milliseconds(), timeOrNow(c.CalledAt),
	)
	return err
}

const sessionColumns = `id, access_key, region, endpoint, containers, created_at,
	index_items, index_error, index_ms, indexed_at, removed_at, remove_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	r := &SessionRecord{}
	var (
		containers           string
		items, indexMS       sql.NullInt64
		indexErr, reason     sql.NullString
		indexedAt, removedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.AccessKey, &r.Region, &r.Endpoint, &containers, &r.CreatedAt,
		&items, &indexErr, &indexMS, &indexedAt, &removedAt, &reason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(containers), &r.Containers); err != nil {
		return nil, fmt.Errorf("decode containers: %w", err)
	}
	if items.Valid {
		n := int(items.Int64)
		r.IndexItems = &n
	}
	r.IndexError = indexErr.String
	r.IndexElapsed = time.Duration(indexMS.Int64) * time.Millisecond
	if indexedAt.Valid {
		r.IndexedAt = &indexedAt.Time
	}
	if removedAt.Valid {
		r.RemovedAt = &removedAt.Time
	}
	r.RemoveReason = reason.String
	return r, nil
}

// GetSession returns the audit row of a session.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	r, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, schema.NotFound("session", id)
	}
	return r, err
}

// ListSessions returns recorded sessions, newest first. limit <= 0 returns
// all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListToolCalls returns matching calls, newest first.
func (s *Store) ListToolCalls(ctx context.Context, f ToolCallFilter) ([]ToolCall, error) {
	query := `SELECT id, tool, session_id, outcome, error, duration_ms, called_at FROM tool_calls WHERE 1=1`
	var args []any
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, f.Tool)
	}
	query += ` ORDER BY called_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var (
			c             ToolCall
			sessionID, ce sql.NullString
			ms            int64
		)
		if err := rows.Scan(&c.ID, &c.Tool, &sessionID, &c.Outcome, &ce, &ms, &c.CalledAt); err != nil {
			return nil, err
		}
		c.SessionID = sessionID.String
		c.Error = ce.String
		c.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes removed sessions and tool calls older than before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM tool_calls WHERE called_at < ?`,
		`DELETE FROM sessions WHERE removed_at IS NOT NULL AND removed_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, before)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func errString(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
