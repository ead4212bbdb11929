package delegation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingDelegation tracks one in-flight delegation from dispatch until
// its handle settles.
type PendingDelegation struct {
	ID                   string
	FromAgent            string
	ToAgent              string
	Task                 string
	Expectations         string
	ConversationID       string
	ParentConversationID string
	Handle               *Handle
	CreatedAt            time.Time
	Deadline             time.Time // zero means no deadline

	// skipHooks propagates the caller's quality-gate bypass, set when a
	// hook's own evaluator agent is the one delegating.
	skipHooks bool
	// removeParent marks a delegator context the engine created itself for
	// a cold dispatch; it is released together with the child's.
	removeParent bool

	// traceID and rootSpanID are set at dispatch when tracing is on.
	// uuid.Nil traceID means this delegation is untraced.
	traceID    uuid.UUID
	rootSpanID uuid.UUID
}

// pendingRegistry stores in-flight delegations in an arena keyed by the
// child conversation ID, with a by-agent index (oldest first) so reports
// arriving under an agent name find the delegation that has been waiting
// longest. Insert-then-lookup holds one lock so a report can never race
// a dispatch into observing a half-registered record.
type pendingRegistry struct {
	mu             sync.Mutex
	byConversation map[string]*PendingDelegation
	byAgent        map[string][]string
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{
		byConversation: make(map[string]*PendingDelegation),
		byAgent:        make(map[string][]string),
	}
}

func (p *pendingRegistry) insert(rec *PendingDelegation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byConversation[rec.ConversationID] = rec
	p.byAgent[rec.ToAgent] = append(p.byAgent[rec.ToAgent], rec.ConversationID)
}

// takeByConversation removes and returns the record for a child
// conversation, if still pending.
func (p *pendingRegistry) takeByConversation(conversationID string) (*PendingDelegation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byConversation[conversationID]
	if !ok {
		return nil, false
	}
	p.removeLocked(rec)
	return rec, true
}

// takeOldestByAgent removes and returns the longest-pending record for an
// agent name, if any.
func (p *pendingRegistry) takeOldestByAgent(agent string) (*PendingDelegation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.byAgent[agent]
	if len(ids) == 0 {
		return nil, false
	}
	rec, ok := p.byConversation[ids[0]]
	if !ok {
		// Index ghost; drop it and report nothing pending.
		p.byAgent[agent] = ids[1:]
		return nil, false
	}
	p.removeLocked(rec)
	return rec, true
}

func (p *pendingRegistry) removeLocked(rec *PendingDelegation) {
	delete(p.byConversation, rec.ConversationID)
	ids := p.byAgent[rec.ToAgent]
	for i, id := range ids {
		if id == rec.ConversationID {
			p.byAgent[rec.ToAgent] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(p.byAgent[rec.ToAgent]) == 0 {
		delete(p.byAgent, rec.ToAgent)
	}
}

// snapshot returns the pending records, oldest first.
func (p *pendingRegistry) snapshot() []*PendingDelegation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PendingDelegation, 0, len(p.byConversation))
	for _, rec := range p.byConversation {
		out = append(out, rec)
	}
	return out
}

// drain removes and returns every pending record.
func (p *pendingRegistry) drain() []*PendingDelegation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PendingDelegation, 0, len(p.byConversation))
	for _, rec := range p.byConversation {
		out = append(out, rec)
	}
	p.byConversation = make(map[string]*PendingDelegation)
	p.byAgent = make(map[string][]string)
	return out
}

func (p *pendingRegistry) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byConversation)
}
