package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// AgentsMethods handles agents.* RPC methods: the configured roster and
// which loops are live right now.
type AgentsMethods struct {
	engine   *delegation.Engine
	registry *agent.Registry
}

func NewAgentsMethods(engine *delegation.Engine, registry *agent.Registry) *AgentsMethods {
	return &AgentsMethods{engine: engine, registry: registry}
}

func (m *AgentsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodAgentsList, m.handleList)
	router.Register(protocol.MethodAgentsGet, m.handleGet)
}

type agentSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	UseFor      string   `json:"use_for,omitempty"`
	Model       string   `json:"model,omitempty"`
	Delegations []string `json:"delegations,omitempty"`
	EntryAgent  bool     `json:"entry_agent,omitempty"`
	Active      bool     `json:"active"`
	Iterations  int      `json:"iterations,omitempty"`
}

func (m *AgentsMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	ps := m.profiles()
	if ps == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "no agent profiles loaded"))
		return
	}

	live := m.liveByAgent()
	agents := make([]agentSummary, 0, ps.Len())
	for _, p := range ps.All() {
		agents = append(agents, m.summarize(ps, p, live))
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"agents":      agents,
		"count":       len(agents),
		"entry_agent": ps.EntryAgent,
	}))
}

func (m *AgentsMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	ps := m.profiles()
	if ps == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "no agent profiles loaded"))
		return
	}

	var params struct {
		Name string `json:"name"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.Name == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "name is required"))
		return
	}

	p, ok := ps.Get(config.NormalizeAgentName(params.Name))
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown agent: "+params.Name))
		return
	}

	summary := m.summarize(ps, p, m.liveByAgent())
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"agent":          summary,
		"system_prompt":  p.SystemPrompt,
		"max_iterations": p.MaxIterations,
	}))
}

func (m *AgentsMethods) profiles() *config.ProfileSet {
	if m.engine == nil {
		return nil
	}
	return m.engine.Profiles()
}

// liveByAgent indexes active loop descriptors by agent name.
func (m *AgentsMethods) liveByAgent() map[string]agent.ContextDescriptor {
	live := make(map[string]agent.ContextDescriptor)
	if m.registry == nil {
		return live
	}
	for _, d := range m.registry.ActiveAgents() {
		live[d.AgentName] = d
	}
	return live
}

func (m *AgentsMethods) summarize(ps *config.ProfileSet, p *config.AgentProfile, live map[string]agent.ContextDescriptor) agentSummary {
	targets := ps.AllowedTargets(p)
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}

	s := agentSummary{
		Name:        p.Name,
		Description: p.Description,
		UseFor:      p.UseFor,
		Model:       p.Model,
		Delegations: names,
		EntryAgent:  p.Name == ps.EntryAgent,
	}
	if d, ok := live[p.Name]; ok {
		s.Active = true
		s.Iterations = d.Iterations
	}
	return s
}
