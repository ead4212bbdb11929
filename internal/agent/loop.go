package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

const reportNudge = "[System: No tool calls detected. When your work is complete, " +
	"submit your final report with the report_out tool. Otherwise continue working.]"

// RunnerConfig wires the collaborators of a loop runner. Bus and Budget
// are optional.
type RunnerConfig struct {
	Model  providers.Client
	Tools  *tools.Registry
	Bus    *bus.EventBus
	Budget *BudgetGuard
}

// Runner drives agentic loops: model call, tool calls, model call, until
// the agent reports out or a bound trips. One Runner serves any number of
// concurrent loops; per-run state lives on the execution context.
type Runner struct {
	model      providers.Client
	tools      *tools.Registry
	bus        *bus.EventBus
	budget     *BudgetGuard
	reportTool *tools.ReportTool
}

// NewRunner builds a runner from its collaborators.
func NewRunner(cfg RunnerConfig) *Runner {
	reg := cfg.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return &Runner{
		model:      cfg.Model,
		tools:      reg,
		bus:        cfg.Bus,
		budget:     cfg.Budget,
		reportTool: tools.NewReportTool(),
	}
}

// RunResult snapshots a finished loop.
type RunResult struct {
	FinalReport  string // the report, or the effective result when none was submitted
	ReportedOut  bool   // true when the report came from an explicit report_out call
	Completed    bool
	Iterations   int
	Conversation []providers.Message
	Invocations  []ToolInvocation
}

// Run starts the context's conversation with the initial message and
// drives the loop to completion.
func (r *Runner) Run(ctx context.Context, ec *ExecutionContext, initialMessage string) (*RunResult, error) {
	if r.model == nil {
		return nil, &ConfigurationError{Reason: "loop runner has no model client"}
	}
	conv := ec.BeginConversation(initialMessage)
	return r.runLoop(ctx, ec, conv)
}

// Resume runs one revision round: the feedback enters the existing
// conversation as a user message and the loop restarts with a fresh
// iteration budget.
func (r *Runner) Resume(ctx context.Context, ec *ExecutionContext, feedback string) (*RunResult, error) {
	if r.model == nil {
		return nil, &ConfigurationError{Reason: "loop runner has no model client"}
	}
	if ec.Conversation == nil {
		return nil, &ConfigurationError{Reason: "resume before first run"}
	}
	ec.Conversation.Append(roleUser, feedback)
	ec.SetLoopState(NewLoopState(ec.MaxIterations))
	return r.runLoop(ctx, ec, ec.Conversation)
}

func (r *Runner) runLoop(ctx context.Context, ec *ExecutionContext, conv *Conversation) (*RunResult, error) {
	ctx = store.WithAgentName(ctx, ec.AgentName)
	ctx = store.WithConversationID(ctx, ec.ConversationID)
	sink := &tools.ReportSink{}
	ctx = tools.WithReportSink(ctx, sink)

	defs := r.toolDefs(ec)
	var guard repeatGuard
	state := ec.LoopState()

	for state.ShouldContinue() {
		if ctx.Err() != nil {
			slog.Debug("loop cancelled",
				"agent", ec.AgentName, "iteration", state.IterationCount)
			state = state.Complete("", false)
			break
		}

		state = state.StartIteration()
		ec.SetLoopState(state)
		slog.Debug("loop iteration",
			"agent", ec.AgentName, "conversation_id", ec.ConversationID,
			"iteration", state.IterationCount)
		r.emit(protocol.EventLoopIteration, map[string]interface{}{
			"agent":           ec.AgentName,
			"conversation_id": ec.ConversationID,
			"iteration":       state.IterationCount,
		})

		iterStart := time.Now()
		iterCtx, iterSpanID := beginIterationSpan(ctx)

		msgs := r.budget.PruneView(conv.Messages())
		modelStart := time.Now()
		resp, err := r.model.Invoke(iterCtx, &providers.ChatRequest{
			Model:    ec.Model,
			Messages: msgs,
			Tools:    defs,
		})
		r.emitModelSpan(iterCtx, modelStart, state.IterationCount, ec.Model, msgs, resp, err)
		if err != nil {
			r.emitIterationSpan(ctx, iterSpanID, iterStart, state.IterationCount, 0, err)
			state = state.Complete("", false)
			ec.SetLoopState(state)
			slog.Error("model invocation failed",
				"agent", ec.AgentName, "iteration", state.IterationCount, "error", err)
			return nil, &AgentExecutionError{Agent: ec.AgentName, Iteration: state.IterationCount, Err: err}
		}

		if resp.Text != "" {
			conv.Append(roleAssistant, resp.Text)
		}

		if len(resp.ToolCalls) > 0 {
			state = r.processToolCalls(iterCtx, ec, conv, &guard, sink, state, resp)
			ec.SetLoopState(state)
		}
		r.emitIterationSpan(ctx, iterSpanID, iterStart, state.IterationCount, len(resp.ToolCalls), nil)

		if len(resp.ToolCalls) == 0 {
			if ec.IsAgenticLoop {
				// Delegated agents must finish through report_out.
				conv.Append(roleUser, reportNudge)
				continue
			}
			state = state.Complete(resp.Text, false)
			ec.SetLoopState(state)
			break
		}
		if state.Completed {
			break
		}
	}

	if !state.Completed && state.HasReachedMax() {
		fallback := fmt.Sprintf("Completed after %d iterations without explicit report.", state.IterationCount)
		slog.Warn("loop exhausted iteration budget",
			"agent", ec.AgentName, "iterations", state.IterationCount)
		state = state.Complete(fallback, false)
	}
	if !state.Completed {
		state = state.Complete("", false)
	}
	ec.SetLoopState(state)

	result := state.FinalReport
	if result == "" {
		if last, ok := conv.Last(); ok {
			result = last.Content
		}
	}

	slog.Info("loop completed",
		"agent", ec.AgentName, "conversation_id", ec.ConversationID,
		"iterations", state.IterationCount, "reported_out", state.ReportOutCalled)
	r.emit(protocol.EventLoopCompleted, map[string]interface{}{
		"agent":           ec.AgentName,
		"conversation_id": ec.ConversationID,
		"iterations":      state.IterationCount,
		"reported_out":    state.ReportOutCalled,
	})

	return &RunResult{
		FinalReport:  result,
		ReportedOut:  state.ReportOutCalled,
		Completed:    state.Completed,
		Iterations:   state.IterationCount,
		Conversation: conv.Messages(),
		Invocations:  ec.Ledger.Snapshot(),
	}, nil
}

// processToolCalls dispatches one iteration's tool calls in order. The
// builtin report-out arm completes the loop and skips the remaining
// calls; named tools go through the registry, which answers unknown names
// with a "tool not found" failure result.
func (r *Runner) processToolCalls(ctx context.Context, ec *ExecutionContext, conv *Conversation, guard *repeatGuard, sink *tools.ReportSink, state LoopState, resp *providers.ChatResponse) LoopState {
	for _, call := range resp.ToolCalls {
		if call.Name == tools.ReportOutName {
			started := time.Now()
			res := r.reportTool.Execute(ctx, call.Arguments)
			report, _ := sink.Report()
			if strings.TrimSpace(report) == "" {
				report = resp.Text
			}
			ec.Ledger.Record(ToolInvocation{
				ToolName:        call.Name,
				Parameters:      call.Arguments,
				Result:          res.ForLLM,
				IsError:         res.IsError,
				Timestamp:       started.UTC(),
				ExecutionTimeMS: time.Since(started).Milliseconds(),
			})
			r.emitToolSpan(ctx, started, call.Name, call.ID, call.RawArguments, res.ForLLM, res.IsError)
			slog.Info("report captured",
				"agent", ec.AgentName, "iteration", state.IterationCount)
			return state.WithToolInvocations().Complete(report, true)
		}

		r.emit(protocol.EventToolCall, map[string]interface{}{
			"agent":           ec.AgentName,
			"conversation_id": ec.ConversationID,
			"tool":            call.Name,
			"iteration":       state.IterationCount,
		})

		argsHash := guard.record(call.Name, call.Arguments)
		started := time.Now()
		res := r.tools.Execute(ctx, call.Name, call.Arguments)
		elapsed := time.Since(started)
		guard.recordResult(argsHash, res.ForLLM)

		ec.Ledger.Record(ToolInvocation{
			ToolName:        call.Name,
			Parameters:      call.Arguments,
			Result:          res.ForLLM,
			IsError:         res.IsError,
			Timestamp:       started.UTC(),
			ExecutionTimeMS: elapsed.Milliseconds(),
		})
		r.emitToolSpan(ctx, started, call.Name, call.ID, call.RawArguments, res.ForLLM, res.IsError)
		state = state.WithToolInvocations()

		// Tool failures feed back into the conversation; they are never fatal.
		conv.AppendToolResult(call.Name, res.ForLLM, res.IsError)

		r.emit(protocol.EventToolResult, map[string]interface{}{
			"agent":           ec.AgentName,
			"conversation_id": ec.ConversationID,
			"tool":            call.Name,
			"is_error":        res.IsError,
			"duration_ms":     elapsed.Milliseconds(),
		})

		switch level, msg := guard.check(call.Name, argsHash); level {
		case repeatWarn:
			conv.Append(roleUser, msg)
		case repeatStop:
			slog.Warn("repeat guard stopped loop",
				"agent", ec.AgentName, "tool", call.Name, "iteration", state.IterationCount)
			return state.Complete(fmt.Sprintf(
				"Stopped after %d iterations: %s", state.IterationCount, msg), false)
		}
	}
	return state
}

// toolDefs composes the tool schemas offered to the model: report-out for
// delegated loops, delegate-work when the context has targets, then the
// context's filtered external tools.
func (r *Runner) toolDefs(ec *ExecutionContext) []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	if ec.IsAgenticLoop {
		defs = append(defs, tools.ToProviderDef(r.reportTool))
	}
	if len(ec.DelegationTargets) > 0 {
		if t, ok := r.tools.Get(tools.DelegateWorkName); ok {
			defs = append(defs, tools.ToProviderDef(t))
		}
	}
	for _, name := range ec.AvailableTools {
		if t, ok := r.tools.Get(name); ok {
			defs = append(defs, tools.ToProviderDef(t))
		}
	}
	return defs
}

func (r *Runner) emit(name string, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(name, payload)
}
