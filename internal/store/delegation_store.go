package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Delegation status constants.
const (
	DelegationStatusPending   = "pending"
	DelegationStatusCompleted = "completed"
	DelegationStatusFailed    = "failed"
	DelegationStatusTimeout   = "timeout"
	DelegationStatusCancelled = "cancelled"
)

// DelegationData represents a persisted delegation record. DelegationID
// is the short dispatch identifier carried on events and traces; ID is
// the row key.
type DelegationData struct {
	BaseModel
	DelegationID   string     `json:"delegation_id,omitempty"`
	FromAgent      string     `json:"from_agent"`
	ToAgent        string     `json:"to_agent"`
	ConversationID string     `json:"conversation_id"`
	ParentConvID   string     `json:"parent_conversation_id,omitempty"`
	Task           string     `json:"task"`
	Expectations   string     `json:"expectations,omitempty"`
	Status         string     `json:"status"`
	Result         *string    `json:"result,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Iterations     int        `json:"iterations"`
	TraceID        *uuid.UUID `json:"trace_id,omitempty"`
	DurationMS     int        `json:"duration_ms"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// DelegationListOpts configures delegation history queries.
type DelegationListOpts struct {
	FromAgent string
	ToAgent   string
	Status    string // "completed", "failed", "timeout", "cancelled", "" = all
	Since     *time.Time
	Limit     int
	Offset    int
}

// DelegationStore persists settled delegations for history queries.
type DelegationStore interface {
	SaveDelegation(ctx context.Context, record *DelegationData) error
	GetDelegation(ctx context.Context, id uuid.UUID) (*DelegationData, error)
	ListDelegations(ctx context.Context, opts DelegationListOpts) ([]DelegationData, int, error)
	Close() error
}
