package delegation

import (
	"time"

	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// eventTextLimit caps free-text payload fields so the bus never carries
// full reports.
const eventTextLimit = 200

func (e *Engine) emitDispatched(rec *PendingDelegation) {
	if e.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"delegation_id":   rec.ID,
		"from_agent":      rec.FromAgent,
		"to_agent":        rec.ToAgent,
		"conversation_id": rec.ConversationID,
		"task":            clip(rec.Task, eventTextLimit),
	}
	if !rec.Deadline.IsZero() {
		payload["deadline"] = rec.Deadline.UTC().Format(time.RFC3339)
	}
	e.bus.Publish(protocol.EventDelegationDispatched, payload)
}

func (e *Engine) emitCompleted(rec *PendingDelegation, report string, iterations int, duration time.Duration) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(protocol.EventDelegationCompleted, map[string]interface{}{
		"delegation_id":   rec.ID,
		"from_agent":      rec.FromAgent,
		"to_agent":        rec.ToAgent,
		"conversation_id": rec.ConversationID,
		"report":          clip(report, eventTextLimit),
		"iterations":      iterations,
		"duration_ms":     duration.Milliseconds(),
	})
}

func (e *Engine) emitFailed(rec *PendingDelegation, cause error) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(protocol.EventDelegationFailed, map[string]interface{}{
		"delegation_id":   rec.ID,
		"from_agent":      rec.FromAgent,
		"to_agent":        rec.ToAgent,
		"conversation_id": rec.ConversationID,
		"error":           clip(cause.Error(), eventTextLimit),
	})
}

func (e *Engine) emitCancelled(rec *PendingDelegation, cause error) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(protocol.EventDelegationCancelled, map[string]interface{}{
		"delegation_id":   rec.ID,
		"from_agent":      rec.FromAgent,
		"to_agent":        rec.ToAgent,
		"conversation_id": rec.ConversationID,
		"reason":          clip(cause.Error(), eventTextLimit),
	})
}

func (e *Engine) emitHookRejected(rec *PendingDelegation, hookName, feedback string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(protocol.EventHookRejected, map[string]interface{}{
		"delegation_id": rec.ID,
		"from_agent":    rec.FromAgent,
		"to_agent":      rec.ToAgent,
		"hook":          hookName,
		"feedback":      clip(feedback, eventTextLimit),
	})
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
