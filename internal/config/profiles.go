package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Permission modes shared by delegation and tool grants.
const (
	PermissionNone     = "none"
	PermissionAll      = "all"
	PermissionSpecific = "specific"
)

// Permission is the shape of both delegation and tool grants.
type Permission struct {
	Mode    string   `yaml:"mode" json:"mode"`
	Targets []string `yaml:"targets,omitempty" json:"targets,omitempty"`
}

// Allows reports whether the grant covers the given name.
func (p Permission) Allows(name string) bool {
	switch p.Mode {
	case PermissionAll:
		return true
	case PermissionSpecific:
		for _, t := range p.Targets {
			if t == name {
				return true
			}
		}
	}
	return false
}

func (p *Permission) normalize() error {
	switch p.Mode {
	case "":
		if len(p.Targets) > 0 {
			p.Mode = PermissionSpecific
		} else {
			p.Mode = PermissionNone
		}
	case PermissionNone, PermissionAll, PermissionSpecific:
	default:
		return fmt.Errorf("unknown permission mode %q", p.Mode)
	}
	for i, t := range p.Targets {
		p.Targets[i] = NormalizeAgentName(t)
	}
	return nil
}

// AgentProfile is the immutable configuration of one agent.
type AgentProfile struct {
	Name         string     `yaml:"name" json:"name"`
	Description  string     `yaml:"description,omitempty" json:"description,omitempty"`
	UseFor       string     `yaml:"use_for,omitempty" json:"use_for,omitempty"`
	SystemPrompt string     `yaml:"system_prompt" json:"system_prompt"`
	Delegations  Permission `yaml:"delegations" json:"delegations"`
	Tools        Permission `yaml:"tools" json:"tools"`

	// Optional per-profile overrides of the global defaults.
	Model         string `yaml:"model,omitempty" json:"model,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
}

// ProfileSet holds the loaded agent profiles keyed by normalized name.
// Immutable after load; hot reload swaps in a whole new set.
type ProfileSet struct {
	EntryAgent string
	profiles   map[string]*AgentProfile
	order      []string
}

type profilesFile struct {
	EntryAgent string          `yaml:"entry_agent"`
	Agents     []*AgentProfile `yaml:"agents"`
}

// LoadProfiles reads and validates the agent-profiles YAML file.
func LoadProfiles(path string) (*ProfileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	return NewProfileSet(file.EntryAgent, file.Agents)
}

// NewProfileSet validates and indexes the given profiles.
func NewProfileSet(entryAgent string, profiles []*AgentProfile) (*ProfileSet, error) {
	set := &ProfileSet{
		profiles: make(map[string]*AgentProfile, len(profiles)),
	}

	for i, p := range profiles {
		if p == nil || strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("profiles: agents[%d] has no name", i)
		}
		p.Name = NormalizeAgentName(p.Name)
		if _, dup := set.profiles[p.Name]; dup {
			return nil, fmt.Errorf("profiles: duplicate agent %q", p.Name)
		}
		if err := p.Delegations.normalize(); err != nil {
			return nil, fmt.Errorf("profiles: agent %q delegations: %w", p.Name, err)
		}
		if err := p.Tools.normalize(); err != nil {
			return nil, fmt.Errorf("profiles: agent %q tools: %w", p.Name, err)
		}
		set.profiles[p.Name] = p
		set.order = append(set.order, p.Name)
	}

	// Specific delegation targets must exist; a typo here would silently
	// strand delegations at runtime.
	for _, name := range set.order {
		p := set.profiles[name]
		if p.Delegations.Mode != PermissionSpecific {
			continue
		}
		for _, t := range p.Delegations.Targets {
			if _, ok := set.profiles[t]; !ok {
				return nil, fmt.Errorf("profiles: agent %q delegates to unknown agent %q", p.Name, t)
			}
		}
	}

	if entryAgent != "" {
		entryAgent = NormalizeAgentName(entryAgent)
		if _, ok := set.profiles[entryAgent]; !ok {
			return nil, fmt.Errorf("profiles: entry agent %q not defined", entryAgent)
		}
	}
	set.EntryAgent = entryAgent
	return set, nil
}

// Get returns the profile for the given (normalized) agent name.
func (s *ProfileSet) Get(name string) (*AgentProfile, bool) {
	p, ok := s.profiles[NormalizeAgentName(name)]
	return p, ok
}

// Names returns agent names in file order.
func (s *ProfileSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// All returns the profiles in file order.
func (s *ProfileSet) All() []*AgentProfile {
	out := make([]*AgentProfile, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.profiles[name])
	}
	return out
}

// Len returns the number of profiles.
func (s *ProfileSet) Len() int { return len(s.order) }

// AllowedTargets returns the profiles the given agent may delegate to,
// in file order. The agent itself is never a target.
func (s *ProfileSet) AllowedTargets(p *AgentProfile) []*AgentProfile {
	var out []*AgentProfile
	for _, name := range s.order {
		if name == p.Name {
			continue
		}
		if p.Delegations.Allows(name) {
			out = append(out, s.profiles[name])
		}
	}
	return out
}
