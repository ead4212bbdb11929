package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Span types recorded by the tracing collector.
const (
	SpanTypeLLMCall    = "llm_call"
	SpanTypeToolCall   = "tool_call"
	SpanTypeIteration  = "iteration"
	SpanTypeDelegation = "delegation"
	SpanTypeEvent      = "event"
)

// Trace and span status values.
const (
	TraceStatusRunning   = "running"
	TraceStatusCompleted = "completed"
	TraceStatusError     = "error"

	SpanStatusCompleted = "completed"
	SpanStatusError     = "error"
)

// TraceData represents a top-level trace (one per delegated or free-running loop).
type TraceData struct {
	ID                uuid.UUID       `json:"id"`
	AgentName         string          `json:"agent_name"`
	ConversationID    string          `json:"conversation_id"`
	DelegationID      string          `json:"delegation_id,omitempty"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	DurationMS        int             `json:"duration_ms,omitempty"`
	Name              string          `json:"name,omitempty"`
	InputPreview      string          `json:"input_preview,omitempty"`
	OutputPreview     string          `json:"output_preview,omitempty"`
	TotalInputTokens  int             `json:"total_input_tokens"`
	TotalOutputTokens int             `json:"total_output_tokens"`
	SpanCount         int             `json:"span_count"`
	LLMCallCount      int             `json:"llm_call_count"`
	ToolCallCount     int             `json:"tool_call_count"`
	Status            string          `json:"status"`
	Error             string          `json:"error,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SpanData represents a single operation within a trace.
type SpanData struct {
	ID            uuid.UUID       `json:"id"`
	TraceID       uuid.UUID       `json:"trace_id"`
	ParentSpanID  *uuid.UUID      `json:"parent_span_id,omitempty"`
	AgentName     string          `json:"agent_name,omitempty"`
	SpanType      string          `json:"span_type"`
	Name          string          `json:"name,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	DurationMS    int             `json:"duration_ms,omitempty"`
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	Model         string          `json:"model,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	InputTokens   int             `json:"input_tokens,omitempty"`
	OutputTokens  int             `json:"output_tokens,omitempty"`
	FinishReason  string          `json:"finish_reason,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	InputPreview  string          `json:"input_preview,omitempty"`
	OutputPreview string          `json:"output_preview,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TraceListOpts configures trace listing.
type TraceListOpts struct {
	AgentName      string
	ConversationID string
	Status         string
	Limit          int
	Offset         int
}

// TracingStore manages loop traces and spans.
type TracingStore interface {
	CreateTrace(ctx context.Context, trace *TraceData) error
	UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error
	GetTrace(ctx context.Context, traceID uuid.UUID) (*TraceData, error)
	ListTraces(ctx context.Context, opts TraceListOpts) ([]TraceData, error)
	CountTraces(ctx context.Context, opts TraceListOpts) (int, error)

	CreateSpan(ctx context.Context, span *SpanData) error
	GetTraceSpans(ctx context.Context, traceID uuid.UUID) ([]SpanData, error)

	// Batch operations (async flush)
	BatchCreateSpans(ctx context.Context, spans []SpanData) error
	BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error
}
