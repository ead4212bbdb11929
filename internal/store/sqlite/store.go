// Package sqlite provides the zero-infrastructure default persistence layer.
// Delegation history and loop traces share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// Store implements store.DelegationStore and store.TracingStore on a local
// SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent flushes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for stores that share the file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS delegations (
			id                     TEXT PRIMARY KEY,
			delegation_id          TEXT,
			from_agent             TEXT NOT NULL,
			to_agent               TEXT NOT NULL,
			conversation_id        TEXT NOT NULL,
			parent_conversation_id TEXT,
			task                   TEXT NOT NULL,
			expectations           TEXT,
			status                 TEXT NOT NULL,
			result                 TEXT,
			error                  TEXT,
			iterations             INTEGER NOT NULL DEFAULT 0,
			trace_id               TEXT,
			duration_ms            INTEGER NOT NULL DEFAULT 0,
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL,
			completed_at           TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_delegations_from
			ON delegations(from_agent, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_delegations_to
			ON delegations(to_agent, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_delegations_status
			ON delegations(status);

		CREATE TABLE IF NOT EXISTS traces (
			id                  TEXT PRIMARY KEY,
			agent_name          TEXT NOT NULL,
			conversation_id     TEXT NOT NULL,
			delegation_id       TEXT,
			start_time          TEXT NOT NULL,
			end_time            TEXT,
			duration_ms         INTEGER NOT NULL DEFAULT 0,
			name                TEXT,
			input_preview       TEXT,
			output_preview      TEXT,
			total_input_tokens  INTEGER NOT NULL DEFAULT 0,
			total_output_tokens INTEGER NOT NULL DEFAULT 0,
			span_count          INTEGER NOT NULL DEFAULT 0,
			llm_call_count      INTEGER NOT NULL DEFAULT 0,
			tool_call_count     INTEGER NOT NULL DEFAULT 0,
			status              TEXT NOT NULL,
			error               TEXT,
			metadata            TEXT,
			tags                TEXT,
			created_at          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_traces_agent
			ON traces(agent_name, start_time DESC);
		CREATE INDEX IF NOT EXISTS idx_traces_conversation
			ON traces(conversation_id);

		CREATE TABLE IF NOT EXISTS spans (
			id             TEXT PRIMARY KEY,
			trace_id       TEXT NOT NULL,
			parent_span_id TEXT,
			agent_name     TEXT,
			span_type      TEXT NOT NULL,
			name           TEXT,
			start_time     TEXT NOT NULL,
			end_time       TEXT,
			duration_ms    INTEGER NOT NULL DEFAULT 0,
			status         TEXT NOT NULL,
			error          TEXT,
			model          TEXT,
			provider       TEXT,
			input_tokens   INTEGER NOT NULL DEFAULT 0,
			output_tokens  INTEGER NOT NULL DEFAULT 0,
			finish_reason  TEXT,
			tool_name      TEXT,
			tool_call_id   TEXT,
			input_preview  TEXT,
			output_preview TEXT,
			metadata       TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_spans_trace
			ON spans(trace_id, start_time);
	`)
	return err
}

// --- DelegationStore ---

// SaveDelegation upserts a settled delegation record.
func (s *Store) SaveDelegation(ctx context.Context, rec *store.DelegationData) error {
	if rec.ID == uuid.Nil {
		rec.ID = store.NewID()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO delegations (
			id, delegation_id, from_agent, to_agent, conversation_id,
			parent_conversation_id, task, expectations, status, result, error,
			iterations, trace_id, duration_ms, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), nullStr(rec.DelegationID), rec.FromAgent, rec.ToAgent,
		rec.ConversationID,
		nullStr(rec.ParentConvID), rec.Task, nullStr(rec.Expectations),
		rec.Status, rec.Result, rec.Error, rec.Iterations, nullUUID(rec.TraceID),
		rec.DurationMS,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		nullTime(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save delegation: %w", err)
	}
	return nil
}

// GetDelegation retrieves a single delegation record by ID.
func (s *Store) GetDelegation(ctx context.Context, id uuid.UUID) (*store.DelegationData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+delegationCols+` FROM delegations WHERE id = ?`, id.String())
	rec, err := scanDelegation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListDelegations returns records newest-first with the total match count.
func (s *Store) ListDelegations(ctx context.Context, opts store.DelegationListOpts) ([]store.DelegationData, int, error) {
	where, args := buildDelegationWhere(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM delegations"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delegations: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + delegationCols + " FROM delegations" + where +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	var records []store.DelegationData
	for rows.Next() {
		rec, err := scanDelegation(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

const delegationCols = `id, delegation_id, from_agent, to_agent, conversation_id,
	parent_conversation_id, task, expectations, status, result, error,
	iterations, trace_id, duration_ms, created_at, updated_at, completed_at`

func buildDelegationWhere(opts store.DelegationListOpts) (string, []any) {
	var conds []string
	var args []any
	if opts.FromAgent != "" {
		conds = append(conds, "from_agent = ?")
		args = append(args, opts.FromAgent)
	}
	if opts.ToAgent != "" {
		conds = append(conds, "to_agent = ?")
		args = append(args, opts.ToAgent)
	}
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanDelegation(sc scanner) (*store.DelegationData, error) {
	var rec store.DelegationData
	var id string
	var delegationID, parentConv, expectations, result, errStr, traceID sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := sc.Scan(
		&id, &delegationID, &rec.FromAgent, &rec.ToAgent, &rec.ConversationID,
		&parentConv, &rec.Task, &expectations, &rec.Status, &result, &errStr,
		&rec.Iterations, &traceID, &rec.DurationMS,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ID, _ = uuid.Parse(id)
	rec.DelegationID = delegationID.String
	rec.ParentConvID = parentConv.String
	rec.Expectations = expectations.String
	if result.Valid {
		rec.Result = &result.String
	}
	if errStr.Valid {
		rec.Error = &errStr.String
	}
	if traceID.Valid {
		if tid, err := uuid.Parse(traceID.String); err == nil {
			rec.TraceID = &tid
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// --- helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUUID(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func jsonOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
