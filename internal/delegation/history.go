package delegation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

const historySaveTimeout = 5 * time.Second

// recordHistory persists a settled delegation. Persistence failures are
// logged and swallowed: history must never change a delegation's outcome.
func (e *Engine) recordHistory(rec *PendingDelegation, status, result, errText string, iterations int, duration time.Duration) {
	if e.history == nil {
		return
	}

	now := time.Now()
	data := &store.DelegationData{
		BaseModel: store.BaseModel{
			ID:        store.NewID(),
			CreatedAt: rec.CreatedAt,
			UpdatedAt: now,
		},
		DelegationID:   rec.ID,
		FromAgent:      rec.FromAgent,
		ToAgent:        rec.ToAgent,
		ConversationID: rec.ConversationID,
		ParentConvID:   rec.ParentConversationID,
		Task:           rec.Task,
		Expectations:   rec.Expectations,
		Status:         status,
		Iterations:     iterations,
		DurationMS:     int(duration.Milliseconds()),
		CompletedAt:    &now,
	}
	if result != "" {
		data.Result = &result
	}
	if errText != "" {
		data.Error = &errText
	}
	if rec.traceID != uuid.Nil {
		tid := rec.traceID
		data.TraceID = &tid
	}

	// Settlement may happen after the run context is gone, so the save
	// gets its own bounded context.
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	if err := e.history.SaveDelegation(ctx, data); err != nil {
		slog.Warn("failed to persist delegation history", "id", rec.ID, "error", err)
	}
}
