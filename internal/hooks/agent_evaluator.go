package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AgentDelegateFunc delegates a review task to another agent and returns
// its report. Injected from the wiring layer to avoid a hooks -> delegation
// import cycle.
type AgentDelegateFunc func(ctx context.Context, agentName, task string) (string, error)

// AgentEvaluator sends the report to a reviewer agent for validation.
type AgentEvaluator struct {
	delegate AgentDelegateFunc
}

// NewAgentEvaluator creates an agent evaluator with the given delegate callback.
func NewAgentEvaluator(delegate AgentDelegateFunc) *AgentEvaluator {
	return &AgentEvaluator{delegate: delegate}
}

func (ae *AgentEvaluator) Evaluate(ctx context.Context, hook HookConfig, hctx HookContext) (*HookResult, error) {
	if hook.Agent == "" {
		return nil, fmt.Errorf("agent hook %q has empty agent name", hook.Name)
	}
	if ae.delegate == nil {
		return nil, fmt.Errorf("agent hook %q: no delegate function wired", hook.Name)
	}

	timeout := hook.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	evalCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	// The review delegation must not re-trigger the gates.
	evalCtx = WithSkipHooks(evalCtx, true)

	response, err := ae.delegate(evalCtx, hook.Agent, buildReviewPrompt(hctx))
	if err != nil {
		return nil, fmt.Errorf("agent review failed: %w", err)
	}

	return parseReviewResponse(response), nil
}

func buildReviewPrompt(hctx HookContext) string {
	return fmt.Sprintf(
		"[Quality Gate Review]\n"+
			"You are reviewing the report of a delegated task for quality.\n\n"+
			"Original task: %s\n"+
			"Delegating agent: %s\n"+
			"Reporting agent: %s\n\n"+
			"Report to review:\n%s\n\n"+
			"Respond with EXACTLY one of:\n"+
			"- \"APPROVED\" if the report meets quality standards (optionally followed by comments)\n"+
			"- \"REJECTED: <specific feedback>\" with actionable improvement suggestions",
		hctx.Task, hctx.FromAgent, hctx.ToAgent, hctx.Report)
}

func parseReviewResponse(response string) *HookResult {
	upper := strings.ToUpper(strings.TrimSpace(response))

	if strings.HasPrefix(upper, "APPROVED") {
		return &HookResult{Passed: true}
	}

	feedback := response
	if idx := strings.Index(upper, "REJECTED:"); idx >= 0 {
		feedback = strings.TrimSpace(response[idx+len("REJECTED:"):])
	}

	return &HookResult{Passed: false, Feedback: feedback}
}
