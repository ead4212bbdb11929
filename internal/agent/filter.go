package agent

import (
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// ToolFilter decides which registered tools a profile may use.
type ToolFilter interface {
	AvailableTools(profile *config.AgentProfile) []string
	HasToolAccess(profile *config.AgentProfile, tool string) bool
}

// PermissionFilter intersects the shared tool registry with a profile's
// tool grants. The builtin report-out and delegate-work tools are managed
// by the loop runner and never listed as external tools.
type PermissionFilter struct {
	registry *tools.Registry
}

// NewPermissionFilter wraps the shared tool registry.
func NewPermissionFilter(registry *tools.Registry) *PermissionFilter {
	return &PermissionFilter{registry: registry}
}

func (f *PermissionFilter) AvailableTools(profile *config.AgentProfile) []string {
	if f.registry == nil || profile == nil {
		return nil
	}
	var out []string
	for _, name := range f.registry.List() {
		if name == tools.ReportOutName || name == tools.DelegateWorkName {
			continue
		}
		if profile.Tools.Allows(name) {
			out = append(out, name)
		}
	}
	return out
}

func (f *PermissionFilter) HasToolAccess(profile *config.AgentProfile, tool string) bool {
	if f.registry == nil || profile == nil {
		return false
	}
	if _, ok := f.registry.Get(tool); !ok {
		return false
	}
	return profile.Tools.Allows(tool)
}
