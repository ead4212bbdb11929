package agent

import (
	"slices"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

func testToolRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&scriptedTool{name: "search"})
	reg.Register(&scriptedTool{name: "read_file"})
	reg.Register(&scriptedTool{name: "write_file"})
	reg.Register(tools.NewReportTool())
	return reg
}

func TestPermissionFilterSpecific(t *testing.T) {
	f := NewPermissionFilter(testToolRegistry())
	p := testProfile("researcher")
	p.Tools = config.Permission{Mode: config.PermissionSpecific, Targets: []string{"search", "read_file"}}

	got := f.AvailableTools(p)
	want := []string{"read_file", "search"}
	if !slices.Equal(got, want) {
		t.Errorf("available = %v, want %v", got, want)
	}
	if !f.HasToolAccess(p, "search") {
		t.Error("granted tool refused")
	}
	if f.HasToolAccess(p, "write_file") {
		t.Error("ungranted tool allowed")
	}
}

func TestPermissionFilterAllExcludesBuiltins(t *testing.T) {
	f := NewPermissionFilter(testToolRegistry())
	p := testProfile("power")
	p.Tools = config.Permission{Mode: config.PermissionAll}

	got := f.AvailableTools(p)
	if slices.Contains(got, tools.ReportOutName) {
		t.Error("builtin report_out must not be listed as an external tool")
	}
	want := []string{"read_file", "search", "write_file"}
	if !slices.Equal(got, want) {
		t.Errorf("available = %v, want %v", got, want)
	}
}

func TestPermissionFilterNone(t *testing.T) {
	f := NewPermissionFilter(testToolRegistry())
	p := testProfile("restricted")

	if got := f.AvailableTools(p); len(got) != 0 {
		t.Errorf("available = %v, want none", got)
	}
}

func TestPermissionFilterUnknownTool(t *testing.T) {
	f := NewPermissionFilter(testToolRegistry())
	p := testProfile("power")
	p.Tools = config.Permission{Mode: config.PermissionAll}

	if f.HasToolAccess(p, "not_registered") {
		t.Error("unregistered tool must be refused even under an all grant")
	}
}
