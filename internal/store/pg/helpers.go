package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- nullable params ---

func nilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilUUID(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return *u
}

func nilTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func jsonOrEmpty(raw json.RawMessage) any {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func jsonOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// --- partial updates ---

// execMapUpdate builds and runs an UPDATE for the given column→value map.
// Columns are sorted for deterministic SQL; updated_at is not touched here.
func execMapUpdate(ctx context.Context, db *sql.DB, table string, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, updates[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		table, strings.Join(sets, ", "), len(cols)+1)
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
