package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/schedule"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled delegations",
	}
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleAddCmd())
	cmd.AddCommand(scheduleRemoveCmd())
	cmd.AddCommand(scheduleToggleCmd())
	cmd.AddCommand(scheduleRunCmd())
	cmd.AddCommand(scheduleRunsCmd())
	cmd.AddCommand(scheduleStatusCmd())
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var jsonOutput bool
	var showDisabled bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			params, _ := json.Marshal(map[string]interface{}{"include_disabled": showDisabled})
			resp := mustRPC(protocol.MethodScheduleList, params)

			var result struct {
				Jobs []schedule.Job `json:"jobs"`
			}
			if err := decodeResult(resp, &result); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printScheduleJobs(result.Jobs, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&showDisabled, "all", false, "include disabled jobs")
	return cmd
}

func printScheduleJobs(jobs []schedule.Job, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(jobs, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(jobs) == 0 {
		fmt.Println("No scheduled jobs.")
		return
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		enabled := "yes"
		if !j.Enabled {
			enabled = "no"
		}
		rows = append(rows, []string{
			j.ID,
			j.Name,
			formatScheduleSpec(j.Schedule),
			j.Dispatch.TargetAgent,
			enabled,
			formatUnixMS(j.State.NextRunAtMS),
			j.State.LastStatus,
			truncateCell(j.Dispatch.Task, 32),
		})
	}
	renderTable(os.Stdout, []string{"ID", "NAME", "SCHEDULE", "TARGET", "ENABLED", "NEXT RUN", "LAST", "TASK"}, rows)
}

func formatScheduleSpec(s schedule.Schedule) string {
	switch s.Kind {
	case schedule.KindCron:
		if s.TZ != "" {
			return fmt.Sprintf("cron %s (%s)", s.Expr, s.TZ)
		}
		return "cron " + s.Expr
	case schedule.KindEvery:
		if s.EveryMS == nil {
			return "every ?"
		}
		return "every " + formatDuration(time.Duration(*s.EveryMS)*time.Millisecond)
	case schedule.KindAt:
		if s.AtMS == nil {
			return "at ?"
		}
		return "at " + time.UnixMilli(*s.AtMS).Local().Format("2006-01-02 15:04")
	default:
		return s.Kind
	}
}

func formatUnixMS(ms *int64) string {
	if ms == nil || *ms == 0 {
		return "-"
	}
	return time.UnixMilli(*ms).Local().Format("2006-01-02 15:04")
}

func scheduleAddCmd() *cobra.Command {
	var (
		name         string
		cronExpr     string
		every        string
		at           string
		tz           string
		target       string
		task         string
		fromAgent    string
		expectations string
		model        string
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Run: func(cmd *cobra.Command, args []string) {
			spec, err := buildScheduleSpec(cronExpr, every, at, tz)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if target == "" || task == "" {
				fmt.Fprintln(os.Stderr, "Error: --target and --task are required")
				os.Exit(1)
			}

			dispatch := schedule.Dispatch{
				FromAgent:    fromAgent,
				TargetAgent:  target,
				Task:         task,
				Expectations: expectations,
				Model:        model,
			}
			if timeout > 0 {
				dispatch.TimeoutMS = timeout.Milliseconds()
			}

			params, _ := json.Marshal(map[string]interface{}{
				"name":     name,
				"schedule": spec,
				"dispatch": dispatch,
			})
			resp := mustRPC(protocol.MethodScheduleAdd, params)

			var result struct {
				Job schedule.Job `json:"job"`
			}
			if err := decodeResult(resp, &result); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Added job %s (%s), next run %s\n",
				result.Job.ID, result.Job.Name, formatUnixMS(result.Job.State.NextRunAtMS))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression, e.g. \"0 9 * * 1-5\"")
	cmd.Flags().StringVar(&every, "every", "", "fixed interval, e.g. 30m or 2h")
	cmd.Flags().StringVar(&at, "at", "", "one-shot time in RFC 3339, e.g. 2026-09-01T09:00:00Z")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone for cron evaluation")
	cmd.Flags().StringVar(&target, "target", "", "agent that runs the task")
	cmd.Flags().StringVar(&task, "task", "", "task text to dispatch")
	cmd.Flags().StringVar(&fromAgent, "from", "", "delegating agent (defaults to the entry agent)")
	cmd.Flags().StringVar(&expectations, "expectations", "", "result expectations passed to the agent")
	cmd.Flags().StringVar(&model, "model", "", "model override for this job")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-run delegation timeout")
	return cmd
}

// buildScheduleSpec validates that exactly one trigger flavor was given.
func buildScheduleSpec(cronExpr, every, at, tz string) (schedule.Schedule, error) {
	set := 0
	for _, v := range []string{cronExpr, every, at} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return schedule.Schedule{}, fmt.Errorf("exactly one of --cron, --every, --at is required")
	}

	switch {
	case cronExpr != "":
		return schedule.Schedule{Kind: schedule.KindCron, Expr: cronExpr, TZ: tz}, nil
	case every != "":
		d, err := time.ParseDuration(every)
		if err != nil {
			return schedule.Schedule{}, fmt.Errorf("parse --every: %w", err)
		}
		ms := d.Milliseconds()
		return schedule.Schedule{Kind: schedule.KindEvery, EveryMS: &ms}, nil
	default:
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return schedule.Schedule{}, fmt.Errorf("parse --at: %w", err)
		}
		ms := t.UnixMilli()
		return schedule.Schedule{Kind: schedule.KindAt, AtMS: &ms}, nil
	}
}

func scheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [jobId]",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params, _ := json.Marshal(map[string]string{"job_id": args[0]})
			mustRPC(protocol.MethodScheduleRemove, params)
			fmt.Printf("Removed job %s\n", args[0])
		},
	}
}

func scheduleToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [jobId] [on|off]",
		Short: "Enable or disable a scheduled job",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			enabled := args[1] == "on" || args[1] == "true" || args[1] == "1"
			params, _ := json.Marshal(map[string]interface{}{
				"job_id":  args[0],
				"enabled": enabled,
			})
			mustRPC(protocol.MethodScheduleToggle, params)
			fmt.Printf("Job %s enabled=%v\n", args[0], enabled)
		},
	}
}

func scheduleRunCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run [jobId]",
		Short: "Trigger a job now",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params, _ := json.Marshal(map[string]interface{}{
				"job_id": args[0],
				"force":  force,
			})
			resp := mustRPC(protocol.MethodScheduleRun, params)

			var result struct {
				Ran    bool   `json:"ran"`
				Result string `json:"result"`
				Error  string `json:"error"`
			}
			if err := decodeResult(resp, &result); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			switch {
			case result.Error != "":
				fmt.Fprintf(os.Stderr, "Run failed: %s\n", result.Error)
				os.Exit(1)
			case !result.Ran:
				fmt.Println("Job did not run (disabled; use --force to override).")
			default:
				fmt.Println(result.Result)
			}
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if the job is disabled")
	return cmd
}

func scheduleRunsCmd() *cobra.Command {
	var jsonOutput bool
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [jobId]",
		Short: "Show recent runs of a job",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			jobID := ""
			if len(args) > 0 {
				jobID = args[0]
			}
			params, _ := json.Marshal(map[string]interface{}{
				"job_id": jobID,
				"limit":  limit,
			})
			resp := mustRPC(protocol.MethodScheduleRuns, params)

			var result struct {
				Entries []schedule.RunLogEntry `json:"entries"`
			}
			if err := decodeResult(resp, &result); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(result.Entries, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(result.Entries) == 0 {
				fmt.Println("No runs recorded.")
				return
			}

			rows := make([][]string, 0, len(result.Entries))
			for _, e := range result.Entries {
				detail := e.Summary
				if e.Error != "" {
					detail = e.Error
				}
				rows = append(rows, []string{
					time.UnixMilli(e.Ts).Local().Format("2006-01-02 15:04:05"),
					e.JobID,
					e.Status,
					truncateCell(detail, 60),
				})
			}
			renderTable(os.Stdout, []string{"TIME", "JOB", "STATUS", "DETAIL"}, rows)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to fetch")
	return cmd
}

func scheduleStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state",
		Run: func(cmd *cobra.Command, args []string) {
			resp := mustRPC(protocol.MethodScheduleStatus, nil)
			data, _ := json.MarshalIndent(resp.Result, "", "  ")
			fmt.Println(string(data))
		},
	}
}
