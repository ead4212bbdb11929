package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// --- TracingStore ---

// CreateTrace inserts a new trace row.
func (s *Store) CreateTrace(ctx context.Context, trace *store.TraceData) error {
	if trace.ID == uuid.Nil {
		trace.ID = store.NewID()
	}
	if trace.StartTime.IsZero() {
		trace.StartTime = time.Now().UTC()
	}
	if trace.Status == "" {
		trace.Status = "running"
	}
	trace.CreatedAt = time.Now().UTC()

	var tags any
	if len(trace.Tags) > 0 {
		b, _ := json.Marshal(trace.Tags)
		tags = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (
			id, agent_name, conversation_id, delegation_id, start_time, end_time,
			duration_ms, name, input_preview, output_preview,
			total_input_tokens, total_output_tokens, span_count,
			llm_call_count, tool_call_count, status, error, metadata, tags, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID.String(), trace.AgentName, trace.ConversationID,
		nullStr(trace.DelegationID),
		trace.StartTime.UTC().Format(time.RFC3339Nano), nullTime(trace.EndTime),
		trace.DurationMS, nullStr(trace.Name),
		nullStr(trace.InputPreview), nullStr(trace.OutputPreview),
		trace.TotalInputTokens, trace.TotalOutputTokens, trace.SpanCount,
		trace.LLMCallCount, trace.ToolCallCount, trace.Status,
		nullStr(trace.Error), jsonOrNil(trace.Metadata), tags,
		trace.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	return nil
}

// UpdateTrace applies a partial column update to a trace.
func (s *Store) UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error {
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
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, normalizeArg(updates[col]))
	}
	args = append(args, traceID.String())

	_, err := s.db.ExecContext(ctx,
		"UPDATE traces SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update trace: %w", err)
	}
	return nil
}

// GetTrace retrieves a single trace by ID. Returns nil, nil when absent.
func (s *Store) GetTrace(ctx context.Context, traceID uuid.UUID) (*store.TraceData, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+traceCols+" FROM traces WHERE id = ?", traceID.String())
	trace, err := scanTrace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return trace, err
}

// ListTraces returns traces newest-first.
func (s *Store) ListTraces(ctx context.Context, opts store.TraceListOpts) ([]store.TraceData, error) {
	where, args := buildTraceWhere(opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+traceCols+" FROM traces"+where+
			" ORDER BY start_time DESC LIMIT ? OFFSET ?",
		append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var traces []store.TraceData
	for rows.Next() {
		trace, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, *trace)
	}
	return traces, rows.Err()
}

// CountTraces returns the number of traces matching the filter.
func (s *Store) CountTraces(ctx context.Context, opts store.TraceListOpts) (int, error) {
	where, args := buildTraceWhere(opts)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	return count, nil
}

// CreateSpan inserts a single span row.
func (s *Store) CreateSpan(ctx context.Context, span *store.SpanData) error {
	if span.ID == uuid.Nil {
		span.ID = store.NewID()
	}
	span.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, "INSERT INTO spans ("+spanCols+") VALUES ("+
		strings.TrimSuffix(strings.Repeat("?, ", spanColCount), ", ")+")",
		spanArgs(span)...)
	if err != nil {
		return fmt.Errorf("create span: %w", err)
	}
	return nil
}

// BatchCreateSpans inserts spans in one statement, falling back to
// row-at-a-time on error so one bad span cannot sink the batch.
func (s *Store) BatchCreateSpans(ctx context.Context, spans []store.SpanData) error {
	if len(spans) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(spans))
	args := make([]any, 0, len(spans)*spanColCount)
	for i := range spans {
		if spans[i].ID == uuid.Nil {
			spans[i].ID = store.NewID()
		}
		spans[i].CreatedAt = time.Now().UTC()
		placeholders = append(placeholders,
			"("+strings.TrimSuffix(strings.Repeat("?, ", spanColCount), ", ")+")")
		args = append(args, spanArgs(&spans[i])...)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO spans ("+spanCols+") VALUES "+strings.Join(placeholders, ", "), args...)
	if err == nil {
		return nil
	}

	for i := range spans {
		if ierr := s.CreateSpan(ctx, &spans[i]); ierr != nil {
			return fmt.Errorf("batch create spans: %w", ierr)
		}
	}
	return nil
}

// GetTraceSpans returns all spans of a trace in start order.
func (s *Store) GetTraceSpans(ctx context.Context, traceID uuid.UUID) ([]store.SpanData, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+spanCols+" FROM spans WHERE trace_id = ? ORDER BY start_time", traceID.String())
	if err != nil {
		return nil, fmt.Errorf("get trace spans: %w", err)
	}
	defer rows.Close()

	var spans []store.SpanData
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, *span)
	}
	return spans, rows.Err()
}

// BatchUpdateTraceAggregates recomputes the span/token counters of a trace
// from its stored spans.
func (s *Store) BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE traces SET
			span_count = (SELECT COUNT(*) FROM spans WHERE trace_id = ?),
			llm_call_count = (SELECT COUNT(*) FROM spans WHERE trace_id = ? AND span_type = 'llm_call'),
			tool_call_count = (SELECT COUNT(*) FROM spans WHERE trace_id = ? AND span_type = 'tool_call'),
			total_input_tokens = (SELECT COALESCE(SUM(input_tokens), 0) FROM spans WHERE trace_id = ?),
			total_output_tokens = (SELECT COALESCE(SUM(output_tokens), 0) FROM spans WHERE trace_id = ?)
		WHERE id = ?`,
		traceID.String(), traceID.String(), traceID.String(),
		traceID.String(), traceID.String(), traceID.String(),
	)
	if err != nil {
		return fmt.Errorf("update trace aggregates: %w", err)
	}
	return nil
}

// --- scanning ---

const traceCols = `id, agent_name, conversation_id, delegation_id, start_time, end_time,
	duration_ms, name, input_preview, output_preview,
	total_input_tokens, total_output_tokens, span_count,
	llm_call_count, tool_call_count, status, error, metadata, tags, created_at`

const spanCols = `id, trace_id, parent_span_id, agent_name, span_type, name,
	start_time, end_time, duration_ms, status, error, model, provider,
	input_tokens, output_tokens, finish_reason, tool_name, tool_call_id,
	input_preview, output_preview, metadata, created_at`

const spanColCount = 22

func spanArgs(span *store.SpanData) []any {
	return []any{
		span.ID.String(), span.TraceID.String(), nullUUID(span.ParentSpanID),
		nullStr(span.AgentName), span.SpanType, nullStr(span.Name),
		span.StartTime.UTC().Format(time.RFC3339Nano), nullTime(span.EndTime),
		span.DurationMS, span.Status, nullStr(span.Error),
		nullStr(span.Model), nullStr(span.Provider),
		span.InputTokens, span.OutputTokens, nullStr(span.FinishReason),
		nullStr(span.ToolName), nullStr(span.ToolCallID),
		nullStr(span.InputPreview), nullStr(span.OutputPreview),
		jsonOrNil(span.Metadata),
		span.CreatedAt.Format(time.RFC3339Nano),
	}
}

func buildTraceWhere(opts store.TraceListOpts) (string, []any) {
	var conds []string
	var args []any
	if opts.AgentName != "" {
		conds = append(conds, "agent_name = ?")
		args = append(args, opts.AgentName)
	}
	if opts.ConversationID != "" {
		conds = append(conds, "conversation_id = ?")
		args = append(args, opts.ConversationID)
	}
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, opts.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanTrace(sc scanner) (*store.TraceData, error) {
	var trace store.TraceData
	var id string
	var delegationID, endTime, name, inputPreview, outputPreview sql.NullString
	var errStr, metadata, tags sql.NullString
	var startTime, createdAt string

	err := sc.Scan(
		&id, &trace.AgentName, &trace.ConversationID, &delegationID,
		&startTime, &endTime, &trace.DurationMS, &name,
		&inputPreview, &outputPreview,
		&trace.TotalInputTokens, &trace.TotalOutputTokens, &trace.SpanCount,
		&trace.LLMCallCount, &trace.ToolCallCount, &trace.Status,
		&errStr, &metadata, &tags, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	trace.ID, _ = uuid.Parse(id)
	trace.DelegationID = delegationID.String
	trace.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	if endTime.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endTime.String)
		trace.EndTime = &t
	}
	trace.Name = name.String
	trace.InputPreview = inputPreview.String
	trace.OutputPreview = outputPreview.String
	trace.Error = errStr.String
	if metadata.Valid && metadata.String != "" {
		trace.Metadata = json.RawMessage(metadata.String)
	}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &trace.Tags)
	}
	trace.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &trace, nil
}

func scanSpan(sc scanner) (*store.SpanData, error) {
	var span store.SpanData
	var id, traceID string
	var parentSpanID, agentName, name, endTime, errStr sql.NullString
	var model, provider, finishReason, toolName, toolCallID sql.NullString
	var inputPreview, outputPreview, metadata sql.NullString
	var startTime, createdAt string

	err := sc.Scan(
		&id, &traceID, &parentSpanID, &agentName, &span.SpanType, &name,
		&startTime, &endTime, &span.DurationMS, &span.Status, &errStr,
		&model, &provider, &span.InputTokens, &span.OutputTokens,
		&finishReason, &toolName, &toolCallID,
		&inputPreview, &outputPreview, &metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	span.ID, _ = uuid.Parse(id)
	span.TraceID, _ = uuid.Parse(traceID)
	if parentSpanID.Valid {
		if pid, err := uuid.Parse(parentSpanID.String); err == nil {
			span.ParentSpanID = &pid
		}
	}
	span.AgentName = agentName.String
	span.Name = name.String
	span.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	if endTime.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endTime.String)
		span.EndTime = &t
	}
	span.Error = errStr.String
	span.Model = model.String
	span.Provider = provider.String
	span.FinishReason = finishReason.String
	span.ToolName = toolName.String
	span.ToolCallID = toolCallID.String
	span.InputPreview = inputPreview.String
	span.OutputPreview = outputPreview.String
	if metadata.Valid && metadata.String != "" {
		span.Metadata = json.RawMessage(metadata.String)
	}
	span.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &span, nil
}

func normalizeArg(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return t.String()
	case json.RawMessage:
		return jsonOrNil(t)
	default:
		return v
	}
}
