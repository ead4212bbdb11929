package agent

import (
	"slices"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/config"
)

// DelegationTarget is one agent the context may delegate to.
type DelegationTarget struct {
	Name   string `json:"name"`
	UseFor string `json:"use_for,omitempty"`
}

// ExecutionContext is one live conversation of one agent. The registry
// owns creation and removal; the loop runner owns the conversation and
// loop state while running.
type ExecutionContext struct {
	AgentName            string
	ConversationID       string
	ParentConversationID string
	Profile              *config.AgentProfile
	SystemPrompt         string
	Model                string
	MaxIterations        int
	AvailableTools       []string
	DelegationChain      []string // root-first ancestors, never the context's own agent
	DelegationTargets    []DelegationTarget
	IsAgenticLoop        bool
	CreatedAt            time.Time

	Conversation *Conversation
	Ledger       *Ledger

	mu    sync.Mutex
	state LoopState
}

// BeginConversation initializes the message log with the system prompt
// and the first user message. A log that already exists wins; revision
// rounds keep appending to it.
func (ec *ExecutionContext) BeginConversation(firstMessage string) *Conversation {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.Conversation == nil {
		ec.Conversation = NewConversation(ec.SystemPrompt, firstMessage)
	}
	return ec.Conversation
}

// LoopState returns the current loop state snapshot.
func (ec *ExecutionContext) LoopState() LoopState {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.state
}

// SetLoopState publishes a new loop state snapshot.
func (ec *ExecutionContext) SetLoopState(s LoopState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.state = s
}

// ChainContains reports whether name appears in the delegation chain.
func (ec *ExecutionContext) ChainContains(name string) bool {
	return slices.Contains(ec.DelegationChain, name)
}

// Descriptor snapshots the context for registry listings.
func (ec *ExecutionContext) Descriptor() ContextDescriptor {
	state := ec.LoopState()
	return ContextDescriptor{
		AgentName:            ec.AgentName,
		ConversationID:       ec.ConversationID,
		ParentConversationID: ec.ParentConversationID,
		DelegationChain:      slices.Clone(ec.DelegationChain),
		IsAgenticLoop:        ec.IsAgenticLoop,
		Iterations:           state.IterationCount,
		Active:               state.Active,
		CreatedAt:            ec.CreatedAt,
	}
}

// ContextDescriptor is the read-only view of a live context.
type ContextDescriptor struct {
	AgentName            string    `json:"agent_name"`
	ConversationID       string    `json:"conversation_id"`
	ParentConversationID string    `json:"parent_conversation_id,omitempty"`
	DelegationChain      []string  `json:"delegation_chain,omitempty"`
	IsAgenticLoop        bool      `json:"is_agentic_loop"`
	Iterations           int       `json:"iterations"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
}
