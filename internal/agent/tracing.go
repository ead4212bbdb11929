package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tracing"
)

const verboseInputLimit = 50000

// beginIterationSpan reserves a span ID for the iteration and reparents
// everything emitted inside it. The span itself is written when the
// iteration ends, under the iteration's original parent.
func beginIterationSpan(ctx context.Context) (context.Context, uuid.UUID) {
	if tracing.CollectorFromContext(ctx) == nil || store.TraceIDFromContext(ctx) == uuid.Nil {
		return ctx, uuid.Nil
	}
	spanID := store.NewID()
	return tracing.WithParentSpanID(ctx, spanID), spanID
}

// emitIterationSpan records one finished loop iteration. ctx must be the
// pre-iteration context so the span parents correctly.
func (r *Runner) emitIterationSpan(ctx context.Context, spanID uuid.UUID, start time.Time, iteration, toolCalls int, iterErr error) {
	collector := tracing.CollectorFromContext(ctx)
	traceID := store.TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil || spanID == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := store.SpanData{
		ID:         spanID,
		TraceID:    traceID,
		AgentName:  store.AgentNameFromContext(ctx),
		SpanType:   store.SpanTypeIteration,
		Name:       fmt.Sprintf("iteration #%d", iteration),
		StartTime:  start,
		EndTime:    &now,
		DurationMS: int(now.Sub(start).Milliseconds()),
		Status:     store.SpanStatusCompleted,
		CreatedAt:  now,
	}
	if parentID := tracing.ParentSpanIDFromContext(ctx); parentID != uuid.Nil {
		span.ParentSpanID = &parentID
	}
	if b, err := json.Marshal(map[string]int{"tool_calls": toolCalls}); err == nil {
		span.Metadata = b
	}
	if iterErr != nil {
		span.Status = store.SpanStatusError
		span.Error = truncate(iterErr.Error(), 200)
	}
	collector.EmitSpan(span)
}

// emitModelSpan records one model invocation. In verbose mode the full
// message window is serialized as the input preview.
func (r *Runner) emitModelSpan(ctx context.Context, start time.Time, iteration int, model string, messages []providers.Message, resp *providers.ChatResponse, callErr error) {
	collector := tracing.CollectorFromContext(ctx)
	traceID := store.TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := store.SpanData{
		TraceID:    traceID,
		AgentName:  store.AgentNameFromContext(ctx),
		SpanType:   store.SpanTypeLLMCall,
		Name:       fmt.Sprintf("%s #%d", model, iteration),
		StartTime:  start,
		EndTime:    &now,
		DurationMS: int(now.Sub(start).Milliseconds()),
		Model:      model,
		Status:     store.SpanStatusCompleted,
		CreatedAt:  now,
	}
	if parentID := tracing.ParentSpanIDFromContext(ctx); parentID != uuid.Nil {
		span.ParentSpanID = &parentID
	}

	if collector.Verbose() && len(messages) > 0 {
		if b, err := json.Marshal(messages); err == nil {
			span.InputPreview = truncate(string(b), verboseInputLimit)
		}
	}

	if callErr != nil {
		span.Status = store.SpanStatusError
		span.Error = truncate(callErr.Error(), 200)
	} else if resp != nil {
		span.InputTokens = resp.Usage.InputTokens
		span.OutputTokens = resp.Usage.OutputTokens
		if resp.Usage.CachedTokens > 0 {
			if b, err := json.Marshal(map[string]int{"cached_tokens": resp.Usage.CachedTokens}); err == nil {
				span.Metadata = b
			}
		}
		span.FinishReason = resp.FinishReason
		span.OutputPreview = truncate(resp.Text, 500)
	}
	collector.EmitSpan(span)
}

// emitToolSpan records one tool execution.
func (r *Runner) emitToolSpan(ctx context.Context, start time.Time, toolName, toolCallID, input, output string, isError bool) {
	collector := tracing.CollectorFromContext(ctx)
	traceID := store.TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := store.SpanData{
		TraceID:       traceID,
		AgentName:     store.AgentNameFromContext(ctx),
		SpanType:      store.SpanTypeToolCall,
		Name:          toolName,
		StartTime:     start,
		EndTime:       &now,
		DurationMS:    int(now.Sub(start).Milliseconds()),
		ToolName:      toolName,
		ToolCallID:    toolCallID,
		InputPreview:  truncate(input, 500),
		OutputPreview: truncate(output, 500),
		Status:        store.SpanStatusCompleted,
		CreatedAt:     now,
	}
	if parentID := tracing.ParentSpanIDFromContext(ctx); parentID != uuid.Nil {
		span.ParentSpanID = &parentID
	}
	if isError {
		span.Status = store.SpanStatusError
		span.Error = truncate(output, 200)
	}
	collector.EmitSpan(span)
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
