package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// PGDelegationStore implements store.DelegationStore on PostgreSQL.
type PGDelegationStore struct {
	db *sql.DB
}

// NewPGDelegationStore creates a delegation store on the given connection.
func NewPGDelegationStore(db *sql.DB) *PGDelegationStore {
	return &PGDelegationStore{db: db}
}

// Close is a no-op; the shared *sql.DB is owned by the caller.
func (s *PGDelegationStore) Close() error { return nil }

const delegationCols = `id, delegation_id, from_agent, to_agent, conversation_id,
	parent_conversation_id, task, expectations, status, result, error,
	iterations, trace_id, duration_ms, created_at, updated_at, completed_at`

// SaveDelegation upserts a settled delegation record.
func (s *PGDelegationStore) SaveDelegation(ctx context.Context, rec *store.DelegationData) error {
	if rec.ID == uuid.Nil {
		rec.ID = store.NewID()
	}
	now := nowUTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delegations (`+delegationCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, result = EXCLUDED.result,
			error = EXCLUDED.error, iterations = EXCLUDED.iterations,
			duration_ms = EXCLUDED.duration_ms, updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`,
		rec.ID, nilStr(rec.DelegationID), rec.FromAgent, rec.ToAgent,
		rec.ConversationID,
		nilStr(rec.ParentConvID), rec.Task, nilStr(rec.Expectations),
		rec.Status, rec.Result, rec.Error, rec.Iterations, nilUUID(rec.TraceID),
		rec.DurationMS, rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save delegation: %w", err)
	}
	return nil
}

// GetDelegation retrieves a single delegation record. Returns nil, nil when absent.
func (s *PGDelegationStore) GetDelegation(ctx context.Context, id uuid.UUID) (*store.DelegationData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+delegationCols+` FROM delegations WHERE id = $1`, id)
	rec, err := scanDelegation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListDelegations returns records newest-first with the total match count.
func (s *PGDelegationStore) ListDelegations(ctx context.Context, opts store.DelegationListOpts) ([]store.DelegationData, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argN := 0

	nextArg := func(v any) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}

	if opts.FromAgent != "" {
		where += " AND from_agent = " + nextArg(opts.FromAgent)
	}
	if opts.ToAgent != "" {
		where += " AND to_agent = " + nextArg(opts.ToAgent)
	}
	if opts.Status != "" {
		where += " AND status = " + nextArg(opts.Status)
	}
	if opts.Since != nil {
		where += " AND created_at >= " + nextArg(*opts.Since)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delegations "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delegations: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		"SELECT "+delegationCols+" FROM delegations %s ORDER BY created_at DESC LIMIT %s OFFSET %s",
		where, nextArg(limit), nextArg(offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanDelegation(sc scanner) (*store.DelegationData, error) {
	var rec store.DelegationData
	var delegationID, parentConv, expectations, result, errStr sql.NullString
	var traceID uuid.NullUUID
	var completedAt sql.NullTime

	err := sc.Scan(
		&rec.ID, &delegationID, &rec.FromAgent, &rec.ToAgent, &rec.ConversationID,
		&parentConv, &rec.Task, &expectations, &rec.Status, &result, &errStr,
		&rec.Iterations, &traceID, &rec.DurationMS,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

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
		rec.TraceID = &traceID.UUID
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}
