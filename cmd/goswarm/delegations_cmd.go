package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

func delegationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delegations",
		Short: "Inspect delegation history and in-flight work",
	}
	cmd.AddCommand(delegationsListCmd())
	cmd.AddCommand(delegationsActiveCmd())
	cmd.AddCommand(delegationsGetCmd())
	return cmd
}

func delegationsListCmd() *cobra.Command {
	var (
		jsonOutput bool
		fromAgent  string
		toAgent    string
		status     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List settled delegations, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			runDelegationsList(fromAgent, toAgent, status, limit, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&fromAgent, "from", "", "filter by delegating agent")
	cmd.Flags().StringVar(&toAgent, "to", "", "filter by target agent")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (completed, failed, timeout, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to fetch")
	return cmd
}

func runDelegationsList(fromAgent, toAgent, status string, limit int, jsonOutput bool) {
	params, _ := json.Marshal(map[string]interface{}{
		"from_agent": fromAgent,
		"to_agent":   toAgent,
		"status":     status,
		"limit":      limit,
	})
	resp := mustRPC(protocol.MethodDelegationsList, params)

	var result struct {
		Records []store.DelegationData `json:"records"`
		Total   int                    `json:"total"`
	}
	if err := decodeResult(resp, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result.Records, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(result.Records) == 0 {
		fmt.Println("No delegations recorded.")
		return
	}

	rows := make([][]string, 0, len(result.Records))
	for _, r := range result.Records {
		rows = append(rows, []string{
			shortUUID(r.ID.String()),
			r.FromAgent,
			r.ToAgent,
			r.Status,
			formatDurationMS(r.DurationMS),
			fmt.Sprintf("%d", r.Iterations),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncateCell(r.Task, 40),
		})
	}
	renderTable(os.Stdout, []string{"ID", "FROM", "TO", "STATUS", "DURATION", "ITER", "CREATED", "TASK"}, rows)
	if result.Total > len(result.Records) {
		fmt.Printf("\nShowing %d of %d records.\n", len(result.Records), result.Total)
	}
}

func delegationsActiveCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show in-flight delegations",
		Run: func(cmd *cobra.Command, args []string) {
			runDelegationsActive(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runDelegationsActive(jsonOutput bool) {
	resp := mustRPC(protocol.MethodDelegationsActive, nil)

	var result struct {
		Delegations []delegation.Info `json:"delegations"`
		Count       int               `json:"count"`
	}
	if err := decodeResult(resp, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result.Delegations, "", "  ")
		fmt.Println(string(data))
		return
	}

	if result.Count == 0 {
		fmt.Println("No delegations in flight.")
		return
	}

	now := time.Now()
	rows := make([][]string, 0, len(result.Delegations))
	for _, d := range result.Delegations {
		deadline := "-"
		if d.Deadline != nil {
			deadline = formatDuration(d.Deadline.Sub(now)) + " left"
		}
		rows = append(rows, []string{
			d.ID,
			d.FromAgent,
			d.ToAgent,
			formatDuration(now.Sub(d.CreatedAt)),
			deadline,
			truncateCell(d.Task, 40),
		})
	}
	renderTable(os.Stdout, []string{"ID", "FROM", "TO", "RUNNING", "DEADLINE", "TASK"}, rows)
}

func delegationsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one delegation record in full",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params, _ := json.Marshal(map[string]string{"id": args[0]})
			resp := mustRPC(protocol.MethodDelegationsGet, params)

			data, _ := json.MarshalIndent(resp.Result, "", "  ")
			fmt.Println(string(data))
		},
	}
}

// mustRPC runs a gateway call and exits on transport or application errors.
func mustRPC(method string, params json.RawMessage) *protocol.ResponseFrame {
	resp, err := gatewayRPC(method, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "Error: %v\n", rpcError(resp))
		os.Exit(1)
	}
	return resp
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDurationMS(ms int) string {
	if ms <= 0 {
		return "-"
	}
	return formatDuration(time.Duration(ms) * time.Millisecond)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
