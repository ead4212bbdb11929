package agent

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// Registry owns every live execution context. Contexts live in an arena
// keyed by conversation id, with a per-agent index over it; all mutation
// happens under one lock so insert-then-lookup never races.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*ExecutionContext // arena: conversation id -> context
	byAgent  map[string][]string          // index: agent name -> conversation ids, oldest first

	filter  ToolFilter
	prompts PromptBuilder

	defaultModel         string
	defaultMaxIterations int
}

// NewRegistry builds a registry around its two collaborators. Either may
// be nil: a nil filter yields contexts with no external tools, a nil
// prompt builder falls back to the profile's raw system prompt.
func NewRegistry(filter ToolFilter, prompts PromptBuilder, defaultModel string, defaultMaxIterations int) *Registry {
	if defaultMaxIterations <= 0 {
		defaultMaxIterations = DefaultMaxIterations
	}
	return &Registry{
		contexts:             make(map[string]*ExecutionContext),
		byAgent:              make(map[string][]string),
		filter:               filter,
		prompts:              prompts,
		defaultModel:         defaultModel,
		defaultMaxIterations: defaultMaxIterations,
	}
}

// InitOpts tunes context creation.
type InitOpts struct {
	IsAgenticLoop bool
	Model         string // override the profile/default model
	MaxIterations int    // override the profile/default budget
}

// InitializeAgent builds a fresh context for the profile: new
// conversation id, tools filtered through the tool filter, system prompt
// through the prompt builder, empty delegation chain.
func (r *Registry) InitializeAgent(profile *config.AgentProfile, opts InitOpts) (*ExecutionContext, error) {
	ec, err := r.buildContext(profile, nil, opts)
	if err != nil {
		return nil, err
	}
	r.insert(ec)
	slog.Debug("agent context initialized",
		"agent", ec.AgentName, "conversation_id", ec.ConversationID)
	return ec, nil
}

// InitializeChildAgent builds a context whose delegation chain extends the
// parent's with the parent itself. A chain that would already contain the
// child's name is refused.
func (r *Registry) InitializeChildAgent(profile *config.AgentProfile, parent *ExecutionContext, opts InitOpts) (*ExecutionContext, error) {
	if parent == nil {
		return nil, &ConfigurationError{Reason: "child context needs a parent"}
	}
	ec, err := r.buildContext(profile, parent, opts)
	if err != nil {
		return nil, err
	}
	r.insert(ec)
	slog.Debug("child agent context initialized",
		"agent", ec.AgentName, "parent", parent.AgentName,
		"conversation_id", ec.ConversationID, "chain_depth", len(ec.DelegationChain))
	return ec, nil
}

func (r *Registry) buildContext(profile *config.AgentProfile, parent *ExecutionContext, opts InitOpts) (*ExecutionContext, error) {
	if profile == nil {
		return nil, &ConfigurationError{Reason: "nil agent profile"}
	}
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		return nil, &ConfigurationError{Reason: "agent name is empty"}
	}

	var chain []string
	var parentConvID string
	if parent != nil {
		chain = append(slices.Clone(parent.DelegationChain), parent.AgentName)
		parentConvID = parent.ConversationID
		if slices.Contains(chain, name) {
			return nil, &CircularDelegationError{Agent: name, Chain: chain}
		}
	}

	var available []string
	if r.filter != nil {
		available = r.filter.AvailableTools(profile)
	}

	var targets []DelegationTarget
	prompt := profile.SystemPrompt
	if r.prompts != nil {
		targets = r.prompts.DelegationTargets(profile)
		prompt = r.prompts.BuildSystemPrompt(profile, targets)
	}

	model := opts.Model
	if model == "" {
		model = profile.Model
	}
	if model == "" {
		model = r.defaultModel
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = profile.MaxIterations
	}
	if maxIter <= 0 {
		maxIter = r.defaultMaxIterations
	}

	ec := &ExecutionContext{
		AgentName:            name,
		ConversationID:       store.ShortID(),
		ParentConversationID: parentConvID,
		Profile:              profile,
		SystemPrompt:         prompt,
		Model:                model,
		MaxIterations:        maxIter,
		AvailableTools:       available,
		DelegationChain:      chain,
		DelegationTargets:    targets,
		IsAgenticLoop:        opts.IsAgenticLoop,
		CreatedAt:            time.Now().UTC(),
		Ledger:               &Ledger{},
		state:                NewLoopState(maxIter),
	}
	return ec, nil
}

func (r *Registry) insert(ec *ExecutionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[ec.ConversationID] = ec
	r.byAgent[ec.AgentName] = append(r.byAgent[ec.AgentName], ec.ConversationID)
}

// Get returns the context for a conversation id.
func (r *Registry) Get(conversationID string) (*ExecutionContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ec, ok := r.contexts[conversationID]
	return ec, ok
}

// FindByAgent returns the most recently created context of the named agent.
func (r *Registry) FindByAgent(name string) (*ExecutionContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byAgent[name]
	for i := len(ids) - 1; i >= 0; i-- {
		if ec, ok := r.contexts[ids[i]]; ok {
			return ec, true
		}
	}
	return nil, false
}

// Remove drops one context from the arena and its index.
func (r *Registry) Remove(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conversationID)
}

func (r *Registry) removeLocked(conversationID string) {
	ec, ok := r.contexts[conversationID]
	if !ok {
		return
	}
	delete(r.contexts, conversationID)
	ids := r.byAgent[ec.AgentName]
	for i, id := range ids {
		if id == conversationID {
			r.byAgent[ec.AgentName] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byAgent[ec.AgentName]) == 0 {
		delete(r.byAgent, ec.AgentName)
	}
}

// TerminateAgent removes every context of the named agent and cascades to
// any context whose delegation chain contains it. Returns the number of
// contexts removed.
func (r *Registry) TerminateAgent(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var doomed []string
	for id, ec := range r.contexts {
		if ec.AgentName == name || ec.ChainContains(name) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		r.removeLocked(id)
	}
	if len(doomed) > 0 {
		slog.Info("agent terminated", "agent", name, "contexts_removed", len(doomed))
	}
	return len(doomed)
}

// ActiveAgents snapshots all live contexts, oldest first.
func (r *Registry) ActiveAgents() []ContextDescriptor {
	r.mu.RLock()
	contexts := make([]*ExecutionContext, 0, len(r.contexts))
	for _, ec := range r.contexts {
		contexts = append(contexts, ec)
	}
	r.mu.RUnlock()

	out := make([]ContextDescriptor, 0, len(contexts))
	for _, ec := range contexts {
		out = append(out, ec.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

// Count returns the number of live contexts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}
