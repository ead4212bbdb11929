package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// PGTracingStore implements store.TracingStore backed by Postgres.
type PGTracingStore struct {
	db *sql.DB
}

func NewPGTracingStore(db *sql.DB) *PGTracingStore {
	return &PGTracingStore{db: db}
}

const traceCols = `id, agent_name, conversation_id, delegation_id, start_time, end_time,
	duration_ms, name, input_preview, output_preview,
	total_input_tokens, total_output_tokens, span_count, llm_call_count, tool_call_count,
	status, error, metadata, tags, created_at`

func (s *PGTracingStore) CreateTrace(ctx context.Context, trace *store.TraceData) error {
	if trace.ID == uuid.Nil {
		trace.ID = store.NewID()
	}
	if trace.StartTime.IsZero() {
		trace.StartTime = nowUTC()
	}
	if trace.Status == "" {
		trace.Status = "running"
	}
	trace.CreatedAt = nowUTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (`+traceCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		trace.ID, trace.AgentName, trace.ConversationID, nilStr(trace.DelegationID),
		trace.StartTime, nilTime(trace.EndTime),
		nilInt(trace.DurationMS), nilStr(trace.Name),
		nilStr(trace.InputPreview), nilStr(trace.OutputPreview),
		trace.TotalInputTokens, trace.TotalOutputTokens,
		trace.SpanCount, trace.LLMCallCount, trace.ToolCallCount,
		trace.Status, nilStr(trace.Error), jsonOrEmpty(trace.Metadata),
		pq.Array(trace.Tags), trace.CreatedAt,
	)
	return err
}

func (s *PGTracingStore) UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error {
	return execMapUpdate(ctx, s.db, "traces", traceID, updates)
}

func (s *PGTracingStore) GetTrace(ctx context.Context, traceID uuid.UUID) (*store.TraceData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+traceCols+` FROM traces WHERE id = $1`, traceID)
	trace, err := scanTraceRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return trace, err
}

func buildTraceWhere(opts store.TraceListOpts) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIdx := 1

	if opts.AgentName != "" {
		conditions = append(conditions, fmt.Sprintf("agent_name = $%d", argIdx))
		args = append(args, opts.AgentName)
		argIdx++
	}
	if opts.ConversationID != "" {
		conditions = append(conditions, fmt.Sprintf("conversation_id = $%d", argIdx))
		args = append(args, opts.ConversationID)
		argIdx++
	}
	if opts.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, opts.Status)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (s *PGTracingStore) CountTraces(ctx context.Context, opts store.TraceListOpts) (int, error) {
	where, args := buildTraceWhere(opts)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces"+where, args...).Scan(&count)
	return count, err
}

func (s *PGTracingStore) ListTraces(ctx context.Context, opts store.TraceListOpts) ([]store.TraceData, error) {
	where, args := buildTraceWhere(opts)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := "SELECT " + traceCols + " FROM traces" + where +
		fmt.Sprintf(" ORDER BY created_at DESC OFFSET %d LIMIT %d", opts.Offset, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.TraceData
	for rows.Next() {
		trace, err := scanTraceRow(rows.Scan)
		if err != nil {
			slog.Warn("tracing: trace scan failed", "error", err)
			continue
		}
		result = append(result, *trace)
	}
	return result, rows.Err()
}

func scanTraceRow(scan func(dest ...any) error) (*store.TraceData, error) {
	var d store.TraceData
	var delegationID, name, inputPreview, outputPreview, errStr *string
	var endTime *time.Time
	var durationMS *int
	var metadata *[]byte

	err := scan(&d.ID, &d.AgentName, &d.ConversationID, &delegationID, &d.StartTime, &endTime,
		&durationMS, &name, &inputPreview, &outputPreview,
		&d.TotalInputTokens, &d.TotalOutputTokens,
		&d.SpanCount, &d.LLMCallCount, &d.ToolCallCount,
		&d.Status, &errStr, &metadata, pq.Array(&d.Tags), &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.DelegationID = derefStr(delegationID)
	d.EndTime = endTime
	if durationMS != nil {
		d.DurationMS = *durationMS
	}
	d.Name = derefStr(name)
	d.InputPreview = derefStr(inputPreview)
	d.OutputPreview = derefStr(outputPreview)
	d.Error = derefStr(errStr)
	if metadata != nil {
		d.Metadata = *metadata
	}
	return &d, nil
}

const spanCols = `id, trace_id, parent_span_id, agent_name, span_type, name,
	start_time, end_time, duration_ms, status, error,
	model, provider, input_tokens, output_tokens, finish_reason,
	tool_name, tool_call_id, input_preview, output_preview,
	metadata, created_at`

const spanColCount = 22

func spanArgs(span *store.SpanData) []any {
	return []any{
		span.ID, span.TraceID, span.ParentSpanID, nilStr(span.AgentName),
		span.SpanType, nilStr(span.Name),
		span.StartTime, nilTime(span.EndTime), nilInt(span.DurationMS),
		span.Status, nilStr(span.Error),
		nilStr(span.Model), nilStr(span.Provider),
		nilInt(span.InputTokens), nilInt(span.OutputTokens), nilStr(span.FinishReason),
		nilStr(span.ToolName), nilStr(span.ToolCallID),
		nilStr(span.InputPreview), nilStr(span.OutputPreview),
		jsonOrNull(span.Metadata), span.CreatedAt,
	}
}

func (s *PGTracingStore) CreateSpan(ctx context.Context, span *store.SpanData) error {
	if span.ID == uuid.Nil {
		span.ID = store.NewID()
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = nowUTC()
	}
	placeholders := make([]string, spanColCount)
	for j := 0; j < spanColCount; j++ {
		placeholders[j] = fmt.Sprintf("$%d", j+1)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO spans ("+spanCols+") VALUES ("+strings.Join(placeholders, ", ")+")",
		spanArgs(span)...)
	return err
}

func (s *PGTracingStore) GetTraceSpans(ctx context.Context, traceID uuid.UUID) ([]store.SpanData, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+spanCols+" FROM spans WHERE trace_id = $1 ORDER BY start_time", traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.SpanData
	for rows.Next() {
		var d store.SpanData
		var parentSpanID *uuid.UUID
		var agentName, name, errStr, model, provider, finishReason *string
		var toolName, toolCallID, inputPreview, outputPreview *string
		var endTime *time.Time
		var durationMS, inputTokens, outputTokens *int
		var metadata *[]byte

		if err := rows.Scan(&d.ID, &d.TraceID, &parentSpanID, &agentName, &d.SpanType, &name,
			&d.StartTime, &endTime, &durationMS, &d.Status, &errStr,
			&model, &provider, &inputTokens, &outputTokens, &finishReason,
			&toolName, &toolCallID, &inputPreview, &outputPreview,
			&metadata, &d.CreatedAt); err != nil {
			slog.Warn("tracing: span scan failed", "trace_id", traceID, "error", err)
			continue
		}

		d.ParentSpanID = parentSpanID
		d.AgentName = derefStr(agentName)
		d.Name = derefStr(name)
		d.EndTime = endTime
		if durationMS != nil {
			d.DurationMS = *durationMS
		}
		d.Error = derefStr(errStr)
		d.Model = derefStr(model)
		d.Provider = derefStr(provider)
		if inputTokens != nil {
			d.InputTokens = *inputTokens
		}
		if outputTokens != nil {
			d.OutputTokens = *outputTokens
		}
		d.FinishReason = derefStr(finishReason)
		d.ToolName = derefStr(toolName)
		d.ToolCallID = derefStr(toolCallID)
		d.InputPreview = derefStr(inputPreview)
		d.OutputPreview = derefStr(outputPreview)
		if metadata != nil {
			d.Metadata = *metadata
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *PGTracingStore) BatchCreateSpans(ctx context.Context, spans []store.SpanData) error {
	if len(spans) == 0 {
		return nil
	}

	// Build multi-row INSERT
	valueGroups := make([]string, len(spans))
	args := make([]interface{}, 0, len(spans)*spanColCount)

	for i := range spans {
		if spans[i].ID == uuid.Nil {
			spans[i].ID = store.NewID()
		}
		if spans[i].CreatedAt.IsZero() {
			spans[i].CreatedAt = nowUTC()
		}
		base := i * spanColCount
		placeholders := make([]string, spanColCount)
		for j := 0; j < spanColCount; j++ {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueGroups[i] = "(" + strings.Join(placeholders, ", ") + ")"
		args = append(args, spanArgs(&spans[i])...)
	}

	q := "INSERT INTO spans (" + spanCols + ") VALUES " + strings.Join(valueGroups, ", ")
	_, err := s.db.ExecContext(ctx, q, args...)
	if err == nil {
		return nil
	}

	// Batch failed, retry spans one at a time
	slog.Warn("tracing: batch insert failed, falling back to individual inserts", "count", len(spans), "error", err)
	var firstErr error
	for i := range spans {
		if e := s.CreateSpan(ctx, &spans[i]); e != nil {
			slog.Warn("tracing: individual span insert failed", "span_id", spans[i].ID, "error", e)
			if firstErr == nil {
				firstErr = e
			}
		}
	}
	return firstErr
}

func (s *PGTracingStore) BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE traces SET
			span_count = (SELECT COUNT(*) FROM spans WHERE trace_id = $1),
			llm_call_count = (SELECT COUNT(*) FROM spans WHERE trace_id = $1 AND span_type = 'llm_call'),
			tool_call_count = (SELECT COUNT(*) FROM spans WHERE trace_id = $1 AND span_type = 'tool_call'),
			total_input_tokens = COALESCE((SELECT SUM(input_tokens) FROM spans WHERE trace_id = $1 AND span_type = 'llm_call' AND input_tokens IS NOT NULL), 0),
			total_output_tokens = COALESCE((SELECT SUM(output_tokens) FROM spans WHERE trace_id = $1 AND span_type = 'llm_call' AND output_tokens IS NOT NULL), 0)
		WHERE id = $1`, traceID)
	return err
}
