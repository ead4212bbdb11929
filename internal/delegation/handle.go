package delegation

import (
	"context"
	"sync"
)

// Handle is the completion promise of one delegation. It settles exactly
// once; every later resolve or reject is ignored. Waiters observe the
// first settlement.
type Handle struct {
	// Identifiers assigned at dispatch, readable before settlement.
	ID             string
	FromAgent      string
	ToAgent        string
	ConversationID string

	once   sync.Once
	done   chan struct{}
	report string
	err    error
}

func newHandle(id, fromAgent, toAgent, conversationID string) *Handle {
	return &Handle{
		ID:             id,
		FromAgent:      fromAgent,
		ToAgent:        toAgent,
		ConversationID: conversationID,
		done:           make(chan struct{}),
	}
}

// settle records the outcome. Returns true only for the first call.
func (h *Handle) settle(report string, err error) bool {
	settled := false
	h.once.Do(func() {
		h.report = report
		h.err = err
		close(h.done)
		settled = true
	})
	return settled
}

func (h *Handle) resolve(report string) bool { return h.settle(report, nil) }

func (h *Handle) reject(err error) bool { return h.settle("", err) }

// Done is closed when the delegation settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Settled reports whether the delegation has already settled.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the delegation settles or ctx is cancelled. On
// settlement it returns the final report or the rejection error; on
// cancellation it returns ctx.Err() and the delegation keeps running.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.report, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
