package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeAgentName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"coordinator", "coordinator"},
		{"  Code-Writer  ", "code-writer"},
		{"Test Agent!", "test-agent"},
		{"--weird--", "weird"},
		{"", ""},
		{"UPPER_case", "upper_case"},
	}
	for _, tt := range tests {
		if got := NormalizeAgentName(tt.in); got != tt.want {
			t.Errorf("NormalizeAgentName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPermissionAllows(t *testing.T) {
	all := Permission{Mode: PermissionAll}
	if !all.Allows("anyone") {
		t.Errorf("all.Allows(anyone) = false, want true")
	}

	none := Permission{Mode: PermissionNone}
	if none.Allows("anyone") {
		t.Errorf("none.Allows(anyone) = true, want false")
	}

	specific := Permission{Mode: PermissionSpecific, Targets: []string{"tester"}}
	if !specific.Allows("tester") {
		t.Errorf("specific.Allows(tester) = false, want true")
	}
	if specific.Allows("writer") {
		t.Errorf("specific.Allows(writer) = true, want false")
	}
}

func TestNewProfileSet(t *testing.T) {
	profiles := []*AgentProfile{
		{Name: "Coordinator", SystemPrompt: "You coordinate.", Delegations: Permission{Mode: PermissionAll}},
		{Name: "tester", SystemPrompt: "You test.", UseFor: "writing tests"},
	}

	set, err := NewProfileSet("coordinator", profiles)
	if err != nil {
		t.Fatalf("NewProfileSet() error = %v", err)
	}
	if set.EntryAgent != "coordinator" {
		t.Errorf("EntryAgent = %q, want %q", set.EntryAgent, "coordinator")
	}
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}

	// Names are normalized on load.
	p, ok := set.Get("COORDINATOR")
	if !ok {
		t.Fatalf("Get(COORDINATOR) not found")
	}
	if p.Name != "coordinator" {
		t.Errorf("profile name = %q, want %q", p.Name, "coordinator")
	}

	// Empty permissions default to none.
	tester, _ := set.Get("tester")
	if tester.Delegations.Mode != PermissionNone {
		t.Errorf("tester delegations mode = %q, want %q", tester.Delegations.Mode, PermissionNone)
	}

	targets := set.AllowedTargets(p)
	if len(targets) != 1 || targets[0].Name != "tester" {
		t.Errorf("AllowedTargets(coordinator) = %v, want [tester]", targets)
	}
	if got := set.AllowedTargets(tester); len(got) != 0 {
		t.Errorf("AllowedTargets(tester) = %v, want none", got)
	}
}

func TestNewProfileSetErrors(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		profiles []*AgentProfile
	}{
		{
			name:     "duplicate name",
			profiles: []*AgentProfile{{Name: "a"}, {Name: "A"}},
		},
		{
			name:     "empty name",
			profiles: []*AgentProfile{{Name: "  "}},
		},
		{
			name: "unknown specific target",
			profiles: []*AgentProfile{
				{Name: "a", Delegations: Permission{Mode: PermissionSpecific, Targets: []string{"ghost"}}},
			},
		},
		{
			name:     "unknown entry agent",
			entry:    "ghost",
			profiles: []*AgentProfile{{Name: "a"}},
		},
		{
			name:     "bad permission mode",
			profiles: []*AgentProfile{{Name: "a", Tools: Permission{Mode: "sometimes"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProfileSet(tt.entry, tt.profiles); err == nil {
				t.Errorf("NewProfileSet() error = nil, want error")
			}
		})
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := `
entry_agent: coordinator
agents:
  - name: coordinator
    description: Routes work to specialists
    system_prompt: You are the coordinator.
    delegations:
      mode: all
    tools:
      mode: specific
      targets: [report_out]
  - name: tester
    use_for: writing and running unit tests
    system_prompt: You write tests.
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}

	set, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	coord, ok := set.Get("coordinator")
	if !ok {
		t.Fatalf("coordinator profile missing")
	}
	if !coord.Tools.Allows("report_out") {
		t.Errorf("coordinator tools should allow report_out")
	}
	if coord.Tools.Allows("shell") {
		t.Errorf("coordinator tools should not allow shell")
	}
}
