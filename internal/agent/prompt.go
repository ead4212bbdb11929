package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goswarm/internal/config"
)

// PromptBuilder composes the system prompt of an execution context.
type PromptBuilder interface {
	BuildSystemPrompt(profile *config.AgentProfile, targets []DelegationTarget) string
	DelegationTargets(profile *config.AgentProfile) []DelegationTarget
}

// ProfilePromptBuilder renders a profile's raw prompt plus the
// delegation-target enumeration derived from the loaded profile set.
type ProfilePromptBuilder struct {
	profiles *config.ProfileSet
}

// NewProfilePromptBuilder wraps the loaded profile set.
func NewProfilePromptBuilder(profiles *config.ProfileSet) *ProfilePromptBuilder {
	return &ProfilePromptBuilder{profiles: profiles}
}

func (b *ProfilePromptBuilder) BuildSystemPrompt(profile *config.AgentProfile, targets []DelegationTarget) string {
	prompt := strings.TrimSpace(profile.SystemPrompt)
	if len(targets) == 0 {
		return prompt
	}

	var lines []string
	if prompt != "" {
		lines = append(lines, prompt, "")
	}
	lines = append(lines,
		"## Delegation",
		"",
		"You can hand work to these agents with the delegate_work tool:",
		"")
	for _, t := range targets {
		if t.UseFor != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.UseFor))
		} else {
			lines = append(lines, "- "+t.Name)
		}
	}
	lines = append(lines,
		"",
		"Delegate when a task fits another agent's specialty better than yours.",
		"Each delegated agent works independently and returns its report when done.")
	return strings.Join(lines, "\n")
}

func (b *ProfilePromptBuilder) DelegationTargets(profile *config.AgentProfile) []DelegationTarget {
	if b.profiles == nil || profile == nil {
		return nil
	}
	allowed := b.profiles.AllowedTargets(profile)
	out := make([]DelegationTarget, 0, len(allowed))
	for _, p := range allowed {
		useFor := p.UseFor
		if useFor == "" {
			useFor = p.Description
		}
		out = append(out, DelegationTarget{Name: p.Name, UseFor: useFor})
	}
	return out
}
