package httpapi

import (
	"net/http"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/delegation"
)

// AgentsHandler serves the configured roster merged with live loop state.
type AgentsHandler struct {
	engine   *delegation.Engine
	registry *agent.Registry
	token    string
}

func NewAgentsHandler(engine *delegation.Engine, registry *agent.Registry, token string) *AgentsHandler {
	return &AgentsHandler{engine: engine, registry: registry, token: token}
}

func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents", h.authMiddleware(h.handleList))
	mux.HandleFunc("GET /v1/agents/{name}", h.authMiddleware(h.handleGet))
}

func (h *AgentsHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
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

func (h *AgentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ps := h.profiles()
	if ps == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no agent profiles loaded"})
		return
	}

	live := h.liveByAgent()
	agents := make([]agentSummary, 0, ps.Len())
	for _, p := range ps.All() {
		agents = append(agents, summarize(ps, p, live))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":      agents,
		"count":       len(agents),
		"entry_agent": ps.EntryAgent,
	})
}

func (h *AgentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ps := h.profiles()
	if ps == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no agent profiles loaded"})
		return
	}

	name := config.NormalizeAgentName(r.PathValue("name"))
	p, ok := ps.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":          summarize(ps, p, h.liveByAgent()),
		"system_prompt":  p.SystemPrompt,
		"max_iterations": p.MaxIterations,
	})
}

func (h *AgentsHandler) profiles() *config.ProfileSet {
	if h.engine == nil {
		return nil
	}
	return h.engine.Profiles()
}

func (h *AgentsHandler) liveByAgent() map[string]agent.ContextDescriptor {
	live := make(map[string]agent.ContextDescriptor)
	if h.registry == nil {
		return live
	}
	for _, d := range h.registry.ActiveAgents() {
		live[d.AgentName] = d
	}
	return live
}

func summarize(ps *config.ProfileSet, p *config.AgentProfile, live map[string]agent.ContextDescriptor) agentSummary {
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
