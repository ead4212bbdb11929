package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/internal/gateway/methods"
	"github.com/nextlevelbuilder/goswarm/internal/hooks"
	"github.com/nextlevelbuilder/goswarm/internal/httpapi"
	"github.com/nextlevelbuilder/goswarm/internal/mcp"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/schedule"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/store/pg"
	"github.com/nextlevelbuilder/goswarm/internal/store/sqlite"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/internal/tracing"
	"github.com/nextlevelbuilder/goswarm/internal/tracing/otelexport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the delegation engine with its gateway, HTTP API, and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence. The sqlite store serves both concerns from one file;
	// postgres splits them over a shared pool.
	var (
		history store.DelegationStore
		traces  store.TracingStore
	)
	switch cfg.Store.Driver {
	case "", "sqlite":
		db, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		history, traces = db, db
	case "postgres":
		db, err := pg.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := pg.Migrate(db); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		history = pg.NewPGDelegationStore(db)
		traces = pg.NewPGTracingStore(db)
	}

	model, err := providers.New(cfg.Provider)
	if err != nil {
		return err
	}

	evbus := bus.New()
	if cfg.Redis.Addr != "" {
		mirror, err := bus.NewRedisMirror(ctx, bus.RedisMirrorConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			slog.Warn("redis event mirror disabled", "error", err)
		} else {
			mirror.Start(evbus)
			defer mirror.Stop(evbus)
		}
	}

	var collector *tracing.Collector
	if cfg.Tracing.Enabled {
		var exporter tracing.Exporter
		if cfg.Tracing.OTLP.Endpoint != "" {
			otlp, err := otelexport.New(ctx, otelexport.Config{
				Endpoint:    cfg.Tracing.OTLP.Endpoint,
				Protocol:    cfg.Tracing.OTLP.Protocol,
				Insecure:    cfg.Tracing.OTLP.Insecure,
				ServiceName: cfg.Tracing.OTLP.ServiceName,
				Headers:     cfg.Tracing.OTLP.Headers,
			})
			if err != nil {
				slog.Warn("OTLP export disabled", "error", err)
			} else {
				exporter = otlp
				defer otlp.Shutdown(context.Background())
				slog.Info("OTLP export enabled",
					"endpoint", cfg.Tracing.OTLP.Endpoint,
					"protocol", cfg.Tracing.OTLP.Protocol)
			}
		}
		collector = tracing.New(tracing.Config{
			Store:    traces,
			Exporter: exporter,
			Verbose:  cfg.Tracing.Verbose,
		})
		defer collector.Close()
	}

	// Tool surface shared by every loop, then narrowed per agent by the
	// permission filter.
	base := tools.NewRegistry()
	base.SetRateLimiter(tools.NewToolRateLimiter(cfg.Limits.ToolCallsPerHour))

	mcpMgr := mcp.NewManager(base)
	mcpMgr.Start(ctx, cfg.MCPServers)
	defer mcpMgr.Close()
	for _, st := range mcpMgr.Status() {
		slog.Info("mcp tools bridged", "server", st.Name, "tools", len(st.Tools))
	}

	budget, err := agent.NewBudgetGuard(cfg.Provider.Model, cfg.Loop.TokenBudget)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry(
		agent.NewPermissionFilter(base),
		agent.NewProfilePromptBuilder(profiles),
		cfg.Provider.Model,
		cfg.Loop.MaxIterations,
	)
	runner := agent.NewRunner(agent.RunnerConfig{
		Model:  model,
		Tools:  base,
		Bus:    evbus,
		Budget: budget,
	})

	hookEngine := hooks.NewEngine()
	cel, err := hooks.NewCELEvaluator()
	if err != nil {
		return fmt.Errorf("cel evaluator: %w", err)
	}
	hookEngine.RegisterEvaluator(hooks.HookTypeCEL, cel)
	hookEngine.RegisterEvaluator(hooks.HookTypeCommand, hooks.NewCommandEvaluator(""))

	engine := delegation.New(delegation.Config{
		Profiles:       profiles,
		Registry:       registry,
		Runner:         runner,
		Limits:         delegation.NewLimits(cfg.Limits.DelegationsPerMinute, cfg.Limits.MaxConcurrentPerTarget),
		History:        history,
		Bus:            evbus,
		Hooks:          hookConfigs(cfg.Hooks),
		HookEngine:     hookEngine,
		Tracer:         collector,
		DefaultTimeout: time.Duration(cfg.Limits.DelegationTimeoutSec) * time.Second,
	})
	defer engine.Cleanup()

	// The reviewer-agent evaluator and the delegate tool both close over
	// the engine, so they attach after it exists.
	hookEngine.RegisterEvaluator(hooks.HookTypeAgent, hooks.NewAgentEvaluator(reviewerDelegate(engine)))
	base.Register(tools.NewDelegateTool(engine))

	watcher, err := config.NewWatcher(cfg.ProfilesPath)
	if err != nil {
		slog.Warn("profile hot-reload unavailable", "error", err)
	} else {
		watcher.OnChange(engine.SetProfiles)
		if err := watcher.Start(); err != nil {
			slog.Warn("profile hot-reload unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	var sched *schedule.Service
	if cfg.SchedulePath != "" {
		sched = schedule.New(schedule.Config{Path: cfg.SchedulePath, Bus: evbus})
		sched.SetHandler(scheduleHandler(engine))
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)

	var gw *gateway.Server
	if cfg.Gateway.Addr != "" {
		gw = gateway.NewServer(gateway.Config{
			Token:             cfg.Gateway.Token,
			ServerVersion:     version,
			Bus:               evbus,
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
			Burst:             cfg.Gateway.Burst,
		})
		registerMethods(gw, engine, registry, history, traces, sched)
		gw.Start()
		defer gw.Shutdown()

		wsSrv := &http.Server{
			Addr:              cfg.Gateway.Addr,
			Handler:           gw,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("gateway listening", "addr", cfg.Gateway.Addr)
			if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return wsSrv.Shutdown(shutCtx)
		})
	}

	if cfg.HTTP.Addr != "" {
		var limiter *gateway.RateLimiter
		if gw != nil {
			limiter = gw.RateLimiter()
		}
		api := httpapi.NewServer(
			httpapi.Config{Addr: cfg.HTTP.Addr, Token: cfg.HTTP.Token, Limiter: limiter},
			httpapi.Deps{Engine: engine, Registry: registry, History: history, Traces: traces},
		)
		g.Go(api.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return api.Shutdown(shutCtx)
		})
	}

	slog.Info("goswarm running",
		"entry_agent", profiles.EntryAgent,
		"profiles", profiles.Len(),
		"store", cfg.Store.Driver,
	)

	<-ctx.Done()
	slog.Info("shutting down")
	return g.Wait()
}

// registerMethods binds every RPC namespace on the gateway router.
func registerMethods(gw *gateway.Server, engine *delegation.Engine, registry *agent.Registry, history store.DelegationStore, traces store.TracingStore, sched *schedule.Service) {
	router := gw.Router()
	methods.NewAgentsMethods(engine, registry).Register(router)
	methods.NewDelegationsMethods(engine, history).Register(router)
	methods.NewTracesMethods(traces).Register(router)
	methods.NewUsageMethods(traces).Register(router)
	methods.NewScheduleMethods(sched).Register(router)
}

// scheduleHandler turns a due job into a delegation and waits for the
// delegate's report.
func scheduleHandler(engine *delegation.Engine) schedule.JobHandler {
	return func(ctx context.Context, job *schedule.Job) (string, error) {
		from := job.Dispatch.FromAgent
		if from == "" {
			from = engine.Profiles().EntryAgent
		}
		opts := delegation.DelegateOpts{Model: job.Dispatch.Model}
		if job.Dispatch.TimeoutMS > 0 {
			opts.Timeout = time.Duration(job.Dispatch.TimeoutMS) * time.Millisecond
		}
		handle, err := engine.DelegateWork(ctx, from, job.Dispatch.TargetAgent, job.Dispatch.Task, job.Dispatch.Expectations, opts)
		if err != nil {
			return "", err
		}
		return handle.Wait(ctx)
	}
}

// reviewerDelegate adapts the engine for hook evaluation: the reviewer
// agent is delegated to on behalf of the entry agent.
func reviewerDelegate(engine *delegation.Engine) hooks.AgentDelegateFunc {
	return func(ctx context.Context, agentName, task string) (string, error) {
		from := engine.Profiles().EntryAgent
		handle, err := engine.DelegateWork(ctx, from, agentName, task, "", delegation.DelegateOpts{})
		if err != nil {
			return "", err
		}
		return handle.Wait(ctx)
	}
}

// hookConfigs maps config-file hooks onto the evaluator's shape.
func hookConfigs(in []config.HookConfig) []hooks.HookConfig {
	out := make([]hooks.HookConfig, 0, len(in))
	for _, h := range in {
		out = append(out, hooks.HookConfig{
			Name:           h.Name,
			Event:          h.Event,
			Type:           hooks.HookType(h.Evaluator),
			Condition:      h.Condition,
			Expression:     h.Expression,
			Command:        h.Command,
			Agent:          h.Agent,
			Message:        h.Message,
			Blocking:       h.Blocking,
			MaxRounds:      h.MaxRounds,
			TimeoutSeconds: h.TimeoutSec,
		})
	}
	return out
}
