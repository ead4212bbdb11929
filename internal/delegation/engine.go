// Package delegation dispatches work between agents: it validates who may
// delegate to whom, spawns the receiving agent's loop, and settles a
// completion handle with the final report exactly once.
package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/hooks"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/internal/tracing"
)

// completedCacheSize bounds the settled-delegation cache used to tell a
// duplicate report from a report nothing ever asked for.
const completedCacheSize = 512

// tracePreviewLimit caps task and report previews on trace records.
const tracePreviewLimit = 500

// ErrDelegationTimeout marks a delegation rejected because its deadline
// passed before a report arrived.
var ErrDelegationTimeout = errors.New("delegation timed out")

// DelegationError reports a delegation that was rejected at dispatch or
// failed to settle normally.
type DelegationError struct {
	FromAgent string
	ToAgent   string
	Reason    string
	Err       error
}

func (e *DelegationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("delegation %s -> %s: %s", e.FromAgent, e.ToAgent, e.Reason)
	}
	return fmt.Sprintf("delegation %s -> %s: %v", e.FromAgent, e.ToAgent, e.Err)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// Config wires the engine's collaborators. Profiles, Registry and Runner
// are required; the rest degrade gracefully when nil.
type Config struct {
	Profiles *config.ProfileSet
	Registry *agent.Registry
	Runner   *agent.Runner
	Limits   *Limits
	History  store.DelegationStore
	Bus      *bus.EventBus

	// Hooks are the quality gates evaluated when a delegated agent
	// reports out; HookEngine must be set for them to run.
	Hooks      []hooks.HookConfig
	HookEngine *hooks.Engine

	// Tracer records one trace per delegation when set.
	Tracer *tracing.Collector

	// DefaultTimeout is the deadline applied to delegations that do not
	// set their own. Zero means no deadline.
	DefaultTimeout time.Duration
}

// Engine coordinates delegations end to end. Safe for concurrent use.
type Engine struct {
	registry       *agent.Registry
	runner         *agent.Runner
	limits         *Limits
	history        store.DelegationStore
	bus            *bus.EventBus
	hooks          []hooks.HookConfig
	hookEngine     *hooks.Engine
	tracer         *tracing.Collector
	defaultTimeout time.Duration

	profiles atomic.Pointer[config.ProfileSet]

	pending   *pendingRegistry
	completed *lru.Cache[string, string]

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
}

var _ tools.Delegator = (*Engine)(nil)

func New(cfg Config) *Engine {
	baseCtx, cancel := context.WithCancel(context.Background())
	completed, _ := lru.New[string, string](completedCacheSize)

	e := &Engine{
		registry:       cfg.Registry,
		runner:         cfg.Runner,
		limits:         cfg.Limits,
		history:        cfg.History,
		bus:            cfg.Bus,
		hooks:          cfg.Hooks,
		hookEngine:     cfg.HookEngine,
		tracer:         cfg.Tracer,
		defaultTimeout: cfg.DefaultTimeout,
		pending:        newPendingRegistry(),
		completed:      completed,
		baseCtx:        baseCtx,
		cancelAll:      cancel,
	}
	e.profiles.Store(cfg.Profiles)
	return e
}

// SetProfiles swaps the live profile set. Called by the config watcher on
// hot reload; in-flight delegations keep the contexts they were built
// with.
func (e *Engine) SetProfiles(ps *config.ProfileSet) {
	if ps != nil {
		e.profiles.Store(ps)
	}
}

func (e *Engine) profileSet() *config.ProfileSet { return e.profiles.Load() }

// Profiles returns the active profile set.
func (e *Engine) Profiles() *config.ProfileSet { return e.profileSet() }

// IsValidDelegation reports whether fromAgent may delegate to toAgent
// under the current profiles: both must exist, fromAgent's delegation
// permission must cover the target, and the target must not already
// appear in fromAgent's delegation chain (fromAgent included).
func (e *Engine) IsValidDelegation(fromAgent, toAgent string) bool {
	fromAgent = config.NormalizeAgentName(fromAgent)
	toAgent = config.NormalizeAgentName(toAgent)

	ps := e.profileSet()
	if ps == nil {
		return false
	}
	from, ok := ps.Get(fromAgent)
	if !ok {
		return false
	}
	if _, ok := ps.Get(toAgent); !ok {
		return false
	}
	if toAgent == fromAgent {
		return false
	}
	if ec, ok := e.registry.FindByAgent(fromAgent); ok && ec.ChainContains(toAgent) {
		return false
	}
	return from.Delegations.Allows(toAgent)
}

// DelegateOpts tunes a single delegation.
type DelegateOpts struct {
	// Timeout overrides the engine default deadline. Negative disables
	// the deadline entirely.
	Timeout time.Duration
	// MaxIterations caps the delegated loop; 0 uses the target profile's
	// own limit.
	MaxIterations int
	// Model overrides the target profile's model.
	Model string
}

// DelegateWork validates and dispatches one delegation. Validation happens
// synchronously before any context is created: a cycle yields
// CircularDelegationError, an unknown agent or missing permission yields
// DelegationError, and rate or capacity limits reject here too. On success
// the receiving agent's loop runs in its own goroutine and the returned
// handle settles exactly once with its report or failure.
func (e *Engine) DelegateWork(ctx context.Context, fromAgent, toAgent, task, expectations string, opts DelegateOpts) (*Handle, error) {
	fromAgent = config.NormalizeAgentName(fromAgent)
	toAgent = config.NormalizeAgentName(toAgent)

	if e.closed.Load() {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: "engine is shut down"}
	}
	if strings.TrimSpace(task) == "" {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: "task must not be empty"}
	}

	ps := e.profileSet()
	if ps == nil {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: "no agent profiles loaded"}
	}
	fromProfile, ok := ps.Get(fromAgent)
	if !ok {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: fmt.Sprintf("unknown delegating agent %q", fromAgent)}
	}
	target, ok := ps.Get(toAgent)
	if !ok {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: fmt.Sprintf("unknown target agent %q", toAgent)}
	}

	// The cycle check runs before the permission check so a delegation
	// back up the chain reads as circular, not as a permission failure.
	parent, hasParent := e.registry.FindByAgent(fromAgent)
	chain := []string{fromAgent}
	if hasParent {
		chain = append(slices.Clone(parent.DelegationChain), fromAgent)
	}
	if slices.Contains(chain, toAgent) {
		return nil, &agent.CircularDelegationError{Agent: toAgent, Chain: chain}
	}

	if !fromProfile.Delegations.Allows(toAgent) {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: fmt.Sprintf("agent %q has no permission to delegate to %q", fromAgent, toAgent)}
	}

	if err := e.limits.AllowDispatch(fromAgent); err != nil {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: err.Error()}
	}
	release, err := e.limits.AcquireLane(toAgent)
	if err != nil {
		return nil, &DelegationError{FromAgent: fromAgent, ToAgent: toAgent, Reason: err.Error()}
	}

	// A delegating loop already has a context; a cold dispatch (scheduler,
	// CLI) gets a fresh root that is released with the child's.
	removeParent := false
	if !hasParent {
		parent, err = e.registry.InitializeAgent(fromProfile, agent.InitOpts{})
		if err != nil {
			release()
			return nil, err
		}
		removeParent = true
	}

	child, err := e.registry.InitializeChildAgent(target, parent, agent.InitOpts{
		IsAgenticLoop: true,
		Model:         opts.Model,
		MaxIterations: opts.MaxIterations,
	})
	if err != nil {
		release()
		if removeParent {
			e.registry.Remove(parent.ConversationID)
		}
		return nil, err
	}

	now := time.Now()
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = now.Add(timeout)
	}

	id := store.ShortID()
	rec := &PendingDelegation{
		ID:                   id,
		FromAgent:            fromAgent,
		ToAgent:              toAgent,
		Task:                 task,
		Expectations:         expectations,
		ConversationID:       child.ConversationID,
		ParentConversationID: parent.ConversationID,
		Handle:               newHandle(id, fromAgent, toAgent, child.ConversationID),
		CreatedAt:            now,
		Deadline:             deadline,
		skipHooks:            hooks.SkipHooksFromContext(ctx),
		removeParent:         removeParent,
	}
	e.startTrace(rec)
	e.pending.insert(rec)
	e.emitDispatched(rec)
	slog.Info("delegation dispatched",
		"id", rec.ID, "from", fromAgent, "to", toAgent, "conversation_id", child.ConversationID)

	e.wg.Add(1)
	go e.runDelegation(rec, child, release)

	return rec.Handle, nil
}

// Delegate implements the delegate_work tool contract: dispatch on behalf
// of the agent carried in ctx, then wait for the handle to settle.
func (e *Engine) Delegate(ctx context.Context, req tools.DelegateRequest) (*tools.DelegateOutcome, error) {
	fromAgent := store.AgentNameFromContext(ctx)
	if fromAgent == "" {
		return nil, errors.New("no delegating agent in context")
	}

	handle, err := e.DelegateWork(ctx, fromAgent, req.TargetAgent, req.Task, req.Expectations, DelegateOpts{})
	if err != nil {
		return nil, err
	}
	report, err := handle.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &tools.DelegateOutcome{
		DelegationID:   handle.ID,
		TargetAgent:    handle.ToAgent,
		ConversationID: handle.ConversationID,
		Report:         report,
	}, nil
}

// runDelegation drives the delegated loop to completion and settles the
// record.
func (e *Engine) runDelegation(rec *PendingDelegation, child *agent.ExecutionContext, release func()) {
	defer e.wg.Done()
	defer release()

	var runCtx context.Context
	var cancel context.CancelFunc
	if rec.Deadline.IsZero() {
		runCtx, cancel = context.WithCancel(e.baseCtx)
	} else {
		runCtx, cancel = context.WithDeadline(e.baseCtx, rec.Deadline)
	}
	defer cancel()
	runCtx = store.WithDelegationID(runCtx, rec.ID)
	if rec.traceID != uuid.Nil {
		runCtx = store.WithTraceID(runCtx, rec.traceID)
		runCtx = tracing.WithCollector(runCtx, e.tracer)
		runCtx = tracing.WithParentSpanID(runCtx, rec.rootSpanID)
	}

	res, err := e.runner.Run(runCtx, child, taskMessage(rec))

	switch {
	case err != nil:
		e.settleReject(rec, child, e.classify(rec, err))
	case runCtx.Err() != nil && !res.ReportedOut:
		e.settleReject(rec, child, e.classify(rec, runCtx.Err()))
	default:
		report := res.FinalReport
		if res.ReportedOut && !rec.skipHooks {
			report = e.applyGates(runCtx, rec, child, report, res)
		}
		e.settleResolve(rec, child, report)
	}
}

// classify maps loop failures onto delegation outcomes: deadline and
// cancellation get their own flavors, everything else propagates as-is.
func (e *Engine) classify(rec *PendingDelegation, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &DelegationError{
			FromAgent: rec.FromAgent,
			ToAgent:   rec.ToAgent,
			Reason:    fmt.Sprintf("no report before the deadline (%s)", time.Since(rec.CreatedAt).Round(time.Millisecond)),
			Err:       ErrDelegationTimeout,
		}
	case errors.Is(err, context.Canceled):
		return &DelegationError{
			FromAgent: rec.FromAgent,
			ToAgent:   rec.ToAgent,
			Reason:    "delegation cancelled",
			Err:       context.Canceled,
		}
	default:
		return err
	}
}

// applyGates runs the configured quality gates against the report. A
// blocking rejection is bounced back into the delegated loop as revision
// feedback, up to the failing hook's MaxRounds; after that the last
// report is delivered as-is.
func (e *Engine) applyGates(ctx context.Context, rec *PendingDelegation, child *agent.ExecutionContext, report string, res *agent.RunResult) string {
	if e.hookEngine == nil || len(e.hooks) == 0 {
		return report
	}

	iterations := res.Iterations
	rounds := 0
	for {
		hctx := hooks.HookContext{
			Event:      hooks.EventReportReceived,
			FromAgent:  rec.FromAgent,
			ToAgent:    rec.ToAgent,
			Task:       rec.Task,
			Report:     report,
			Iterations: iterations,
			DurationMS: time.Since(rec.CreatedAt).Milliseconds(),
		}
		result, err := e.hookEngine.EvaluateHooks(ctx, e.hooks, hooks.EventReportReceived, hctx)
		if err != nil {
			slog.Warn("quality gate evaluation failed", "delegation", rec.ID, "error", err)
			return report
		}
		if result.Passed {
			return report
		}

		e.emitHookRejected(rec, result.HookName, result.Feedback)
		if rounds >= e.maxRoundsFor(result.HookName) {
			slog.Warn("report still rejected after revision rounds, delivering as-is",
				"delegation", rec.ID, "hook", result.HookName, "rounds", rounds)
			return report
		}
		rounds++
		slog.Info("report rejected by quality gate, requesting revision",
			"delegation", rec.ID, "hook", result.HookName, "round", rounds)

		revised, err := e.runner.Resume(ctx, child, revisionMessage(result.HookName, result.Feedback))
		if err != nil {
			slog.Warn("revision round failed", "delegation", rec.ID, "error", err)
			return report
		}
		iterations += revised.Iterations
		if revised.FinalReport != "" {
			report = revised.FinalReport
		}
	}
}

func (e *Engine) maxRoundsFor(hookName string) int {
	for _, h := range e.hooks {
		if h.Name == hookName {
			return h.MaxRounds
		}
	}
	return 0
}

// ReportOut resolves the longest-pending delegation for agentName with
// report. A report with no pending delegation is a no-op; the settled
// cache tells duplicates apart from reports nothing ever asked for.
func (e *Engine) ReportOut(agentName, report string) {
	agentName = config.NormalizeAgentName(agentName)
	rec, ok := e.pending.takeOldestByAgent(agentName)
	if !ok {
		if status, found := e.completed.Get(agentKey(agentName)); found {
			slog.Debug("duplicate report ignored", "agent", agentName, "last_status", status)
		} else {
			slog.Debug("report with no pending delegation ignored", "agent", agentName)
		}
		return
	}

	iterations := 0
	if child, found := e.registry.Get(rec.ConversationID); found {
		iterations = child.LoopState().IterationCount
	}
	e.finishResolved(rec, report, iterations)
}

func (e *Engine) settleResolve(rec *PendingDelegation, child *agent.ExecutionContext, report string) {
	if _, ok := e.pending.takeByConversation(rec.ConversationID); !ok {
		// Already settled through ReportOut or Cleanup; the handle keeps
		// the first outcome.
		e.releaseContexts(rec)
		return
	}
	e.finishResolved(rec, report, child.LoopState().IterationCount)
}

func (e *Engine) finishResolved(rec *PendingDelegation, report string, iterations int) {
	if rec.Handle.resolve(report) {
		duration := time.Since(rec.CreatedAt)
		e.completed.Add(rec.ConversationID, store.DelegationStatusCompleted)
		e.completed.Add(agentKey(rec.ToAgent), store.DelegationStatusCompleted)
		e.emitCompleted(rec, report, iterations, duration)
		e.finishTrace(rec, report, "", iterations, duration)
		e.recordHistory(rec, store.DelegationStatusCompleted, report, "", iterations, duration)
		slog.Info("delegation completed",
			"id", rec.ID, "from", rec.FromAgent, "to", rec.ToAgent,
			"iterations", iterations, "duration_ms", duration.Milliseconds())
	}
	e.releaseContexts(rec)
}

func (e *Engine) settleReject(rec *PendingDelegation, child *agent.ExecutionContext, cause error) {
	e.pending.takeByConversation(rec.ConversationID)
	if rec.Handle.reject(cause) {
		duration := time.Since(rec.CreatedAt)
		iterations := 0
		if child != nil {
			iterations = child.LoopState().IterationCount
		}
		status := statusFor(cause)
		e.completed.Add(rec.ConversationID, status)
		e.completed.Add(agentKey(rec.ToAgent), status)
		if status == store.DelegationStatusCancelled {
			e.emitCancelled(rec, cause)
		} else {
			e.emitFailed(rec, cause)
		}
		e.finishTrace(rec, "", cause.Error(), iterations, duration)
		e.recordHistory(rec, status, "", cause.Error(), iterations, duration)
		slog.Warn("delegation failed",
			"id", rec.ID, "from", rec.FromAgent, "to", rec.ToAgent,
			"status", status, "error", cause)
	}
	e.releaseContexts(rec)
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrDelegationTimeout):
		return store.DelegationStatusTimeout
	case errors.Is(err, context.Canceled):
		return store.DelegationStatusCancelled
	default:
		return store.DelegationStatusFailed
	}
}

func (e *Engine) releaseContexts(rec *PendingDelegation) {
	e.registry.Remove(rec.ConversationID)
	if rec.removeParent {
		e.registry.Remove(rec.ParentConversationID)
	}
}

// startTrace opens the delegation's trace before the record escapes to
// other goroutines. Loop spans parent under rootSpanID; that root span
// itself is written when the delegation settles.
func (e *Engine) startTrace(rec *PendingDelegation) {
	if e.tracer == nil {
		return
	}
	rec.traceID = e.tracer.StartTrace(e.baseCtx, &store.TraceData{
		AgentName:      rec.ToAgent,
		ConversationID: rec.ConversationID,
		DelegationID:   rec.ID,
		StartTime:      rec.CreatedAt.UTC(),
		Name:           "delegation:" + rec.ToAgent,
		InputPreview:   clip(rec.Task, tracePreviewLimit),
	})
	if rec.traceID != uuid.Nil {
		rec.rootSpanID = store.NewID()
	}
}

// finishTrace emits the delegation's root span and closes its trace.
// Callers gate on the handle settling, so this runs at most once.
func (e *Engine) finishTrace(rec *PendingDelegation, report, errMsg string, iterations int, duration time.Duration) {
	if e.tracer == nil || rec.traceID == uuid.Nil {
		return
	}
	now := time.Now().UTC()
	span := store.SpanData{
		ID:            rec.rootSpanID,
		TraceID:       rec.traceID,
		AgentName:     rec.ToAgent,
		SpanType:      store.SpanTypeDelegation,
		Name:          fmt.Sprintf("%s -> %s", rec.FromAgent, rec.ToAgent),
		StartTime:     rec.CreatedAt.UTC(),
		EndTime:       &now,
		DurationMS:    int(duration.Milliseconds()),
		InputPreview:  clip(rec.Task, tracePreviewLimit),
		OutputPreview: clip(report, tracePreviewLimit),
		Status:        store.SpanStatusCompleted,
		CreatedAt:     now,
	}
	if b, err := json.Marshal(map[string]int{"iterations": iterations}); err == nil {
		span.Metadata = b
	}
	traceStatus := store.TraceStatusCompleted
	if errMsg != "" {
		span.Status = store.SpanStatusError
		span.Error = clip(errMsg, eventTextLimit)
		traceStatus = store.TraceStatusError
	}
	e.tracer.EmitSpan(span)
	e.tracer.FinishTrace(context.Background(), rec.traceID, traceStatus, report, errMsg, duration)
}

// Info describes one pending delegation for observers.
type Info struct {
	ID             string     `json:"id"`
	FromAgent      string     `json:"from_agent"`
	ToAgent        string     `json:"to_agent"`
	Task           string     `json:"task"`
	ConversationID string     `json:"conversation_id"`
	CreatedAt      time.Time  `json:"created_at"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Iterations     int        `json:"iterations"`
}

// ActiveDelegations returns a snapshot of in-flight delegations, oldest
// first.
func (e *Engine) ActiveDelegations() []Info {
	recs := e.pending.snapshot()
	out := make([]Info, 0, len(recs))
	for _, rec := range recs {
		info := Info{
			ID:             rec.ID,
			FromAgent:      rec.FromAgent,
			ToAgent:        rec.ToAgent,
			Task:           rec.Task,
			ConversationID: rec.ConversationID,
			CreatedAt:      rec.CreatedAt,
		}
		if !rec.Deadline.IsZero() {
			d := rec.Deadline
			info.Deadline = &d
		}
		if child, ok := e.registry.Get(rec.ConversationID); ok {
			info.Iterations = child.LoopState().IterationCount
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingCount reports how many delegations are in flight.
func (e *Engine) PendingCount() int { return e.pending.len() }

// Cleanup rejects every pending delegation, releases their contexts and
// stops accepting new work. Running loops observe cancellation at their
// next iteration boundary.
func (e *Engine) Cleanup() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.cancelAll()

	for _, rec := range e.pending.drain() {
		cause := &DelegationError{
			FromAgent: rec.FromAgent,
			ToAgent:   rec.ToAgent,
			Reason:    "delegation cancelled: engine shutting down",
			Err:       context.Canceled,
		}
		if rec.Handle.reject(cause) {
			e.completed.Add(rec.ConversationID, store.DelegationStatusCancelled)
			e.completed.Add(agentKey(rec.ToAgent), store.DelegationStatusCancelled)
			e.emitCancelled(rec, cause)
			e.finishTrace(rec, "", cause.Error(), 0, time.Since(rec.CreatedAt))
			e.recordHistory(rec, store.DelegationStatusCancelled, "", cause.Error(), 0, time.Since(rec.CreatedAt))
			slog.Info("delegation cancelled", "id", rec.ID, "to", rec.ToAgent)
		}
		e.releaseContexts(rec)
	}
	e.wg.Wait()
}

func agentKey(name string) string { return "agent:" + name }

// taskMessage builds the first user message of the delegated conversation.
func taskMessage(rec *PendingDelegation) string {
	lines := []string{
		fmt.Sprintf("[Delegated work from %s]", rec.FromAgent),
		"",
		rec.Task,
	}
	if rec.Expectations != "" {
		lines = append(lines, "", "Report expectations:", rec.Expectations)
	}
	lines = append(lines,
		"",
		"Work through the task with your tools. When you are done, submit your findings with the report_out tool.")
	return strings.Join(lines, "\n")
}

// revisionMessage builds the feedback message for a rejected report.
func revisionMessage(hookName, feedback string) string {
	lines := []string{
		fmt.Sprintf("[Quality gate %q rejected your report]", hookName),
		"",
		feedback,
		"",
		"Revise your work to address the feedback, then submit the updated report with the report_out tool.",
	}
	return strings.Join(lines, "\n")
}
