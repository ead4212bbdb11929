package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect configured agent profiles",
	}
	cmd.AddCommand(agentsListCmd())
	return cmd
}

func agentsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all agent profiles",
		Run: func(cmd *cobra.Command, args []string) {
			runAgentsList(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

type agentListEntry struct {
	Name        string `json:"name"`
	UseFor      string `json:"use_for,omitempty"`
	Model       string `json:"model,omitempty"`
	DelegatesTo string `json:"delegates_to"`
	Entry       bool   `json:"entry"`
}

func runAgentsList(jsonOutput bool) {
	cfg := loadConfigOrExit()
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading profiles: %v\n", err)
		os.Exit(1)
	}

	var entries []agentListEntry
	for _, p := range profiles.All() {
		entries = append(entries, agentListEntry{
			Name:        p.Name,
			UseFor:      p.UseFor,
			Model:       p.Model,
			DelegatesTo: permissionSummary(p.Delegations),
			Entry:       p.Name == profiles.EntryAgent,
		})
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(entries) == 0 {
		fmt.Println("No agents configured.")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		entry := ""
		if e.Entry {
			entry = "*"
		}
		rows = append(rows, []string{
			e.Name,
			truncateCell(e.UseFor, 48),
			e.DelegatesTo,
			e.Model,
			entry,
		})
	}
	renderTable(os.Stdout, []string{"NAME", "USE FOR", "DELEGATES TO", "MODEL", "ENTRY"}, rows)
}

// permissionSummary renders a permission for table output.
func permissionSummary(p config.Permission) string {
	switch p.Mode {
	case config.PermissionAll:
		return "all"
	case config.PermissionSpecific:
		return strings.Join(p.Targets, ", ")
	default:
		return "none"
	}
}
