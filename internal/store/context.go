package store

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// AgentNameKey is the context key for the executing agent's name.
	AgentNameKey contextKey = "goswarm_agent_name"
	// ConversationIDKey is the context key for the active conversation ID.
	ConversationIDKey contextKey = "goswarm_conversation_id"
	// DelegationIDKey is the context key for the delegation a loop runs under.
	DelegationIDKey contextKey = "goswarm_delegation_id"
	// TraceIDKey is the context key for the trace collecting the loop's spans.
	TraceIDKey contextKey = "goswarm_trace_id"
)

// WithAgentName returns a new context carrying the executing agent's name.
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, AgentNameKey, name)
}

// AgentNameFromContext extracts the agent name. Returns "" if not set.
func AgentNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(AgentNameKey).(string); ok {
		return v
	}
	return ""
}

// WithConversationID returns a new context carrying the conversation ID.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation ID. Returns "" if not set.
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ConversationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithDelegationID returns a new context carrying the delegation ID.
func WithDelegationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DelegationIDKey, id)
}

// DelegationIDFromContext extracts the delegation ID. Returns "" if not set.
func DelegationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(DelegationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID returns a new context carrying the trace ID.
func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// TraceIDFromContext extracts the trace ID. Returns uuid.Nil if not set.
func TraceIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(TraceIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
