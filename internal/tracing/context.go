package tracing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	collectorKey  contextKey = "goswarm_trace_collector"
	parentSpanKey contextKey = "goswarm_parent_span_id"
)

// WithCollector returns a new context carrying the span collector.
// Loops emit spans only when a collector travels on their context.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey, c)
}

// CollectorFromContext extracts the span collector. Returns nil if not set.
func CollectorFromContext(ctx context.Context) *Collector {
	if c, ok := ctx.Value(collectorKey).(*Collector); ok {
		return c
	}
	return nil
}

// WithParentSpanID returns a new context under which emitted spans are
// parented to the given span.
func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, parentSpanKey, id)
}

// ParentSpanIDFromContext extracts the parent span ID. Returns uuid.Nil
// if not set.
func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(parentSpanKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
