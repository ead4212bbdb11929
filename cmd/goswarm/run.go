package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/mcp"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

func runCmd() *cobra.Command {
	var agentName string
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run one free-running loop on a task and print its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), agentName, args[0], maxIterations)
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "profile to run (default: the entry agent)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the loop iteration cap")
	return cmd
}

// runOnce assembles a throwaway runtime with no persistence: delegations
// still work, but nothing survives the process.
func runOnce(parent context.Context, agentName, task string, maxIterations int) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := providers.New(cfg.Provider)
	if err != nil {
		return err
	}
	budget, err := agent.NewBudgetGuard(cfg.Provider.Model, cfg.Loop.TokenBudget)
	if err != nil {
		return err
	}

	base := tools.NewRegistry()
	base.SetRateLimiter(tools.NewToolRateLimiter(cfg.Limits.ToolCallsPerHour))

	mcpMgr := mcp.NewManager(base)
	mcpMgr.Start(ctx, cfg.MCPServers)
	defer mcpMgr.Close()

	registry := agent.NewRegistry(
		agent.NewPermissionFilter(base),
		agent.NewProfilePromptBuilder(profiles),
		cfg.Provider.Model,
		cfg.Loop.MaxIterations,
	)
	runner := agent.NewRunner(agent.RunnerConfig{Model: model, Tools: base, Budget: budget})

	engine := delegation.New(delegation.Config{
		Profiles: profiles,
		Registry: registry,
		Runner:   runner,
		Limits:   delegation.NewLimits(cfg.Limits.DelegationsPerMinute, cfg.Limits.MaxConcurrentPerTarget),
	})
	defer engine.Cleanup()
	base.Register(tools.NewDelegateTool(engine))

	name := agentName
	if name == "" {
		name = profiles.EntryAgent
	}
	profile, ok := profiles.Get(config.NormalizeAgentName(name))
	if !ok {
		return fmt.Errorf("unknown agent %q", name)
	}

	ec, err := registry.InitializeAgent(profile, agent.InitOpts{
		IsAgenticLoop: true,
		MaxIterations: maxIterations,
	})
	if err != nil {
		return err
	}
	defer registry.Remove(ec.ConversationID)

	res, err := runner.Run(ctx, ec, task)
	if err != nil {
		return err
	}
	if !res.ReportedOut {
		slog.Warn("loop ended without an explicit report", "iterations", res.Iterations)
	}
	fmt.Println(res.FinalReport)
	return nil
}
