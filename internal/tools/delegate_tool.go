package tools

import (
	"context"
	"fmt"
)

// DelegateWorkName is the registered name of the delegation tool.
const DelegateWorkName = "delegate_work"

// DelegateRequest describes one delegation ask from a running agent.
type DelegateRequest struct {
	TargetAgent  string
	Task         string
	Expectations string
}

// DelegateOutcome is the settled result of a delegation: the identifiers
// assigned at dispatch plus the target agent's final report.
type DelegateOutcome struct {
	DelegationID   string
	TargetAgent    string
	ConversationID string
	Report         string
}

// Delegator dispatches validated delegations and waits for them to
// settle. Implemented by the delegation engine; injected here to avoid
// an import cycle between the tools and the engine that spawns agent
// loops.
type Delegator interface {
	Delegate(ctx context.Context, req DelegateRequest) (*DelegateOutcome, error)
}

// DelegateTool lets an agent hand a task to another agent and blocks
// until the target reports back. Validation failures (unknown target,
// permission, cycle, capacity) come back as error feedback so the model
// can pick a different approach.
type DelegateTool struct {
	delegator Delegator
}

func NewDelegateTool(delegator Delegator) *DelegateTool {
	return &DelegateTool{delegator: delegator}
}

func (t *DelegateTool) Name() string { return DelegateWorkName }

func (t *DelegateTool) Description() string {
	return "Delegate a task to another agent and wait for its report. " +
		"The target agent works through the task independently; its final " +
		"report is returned as this tool's result. Only agents your profile " +
		"allows can be targeted."
}

func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"targetAgent": map[string]interface{}{
				"type":        "string",
				"description": "Name of the agent to delegate to",
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Complete description of the work to be done",
			},
			"expectations": map[string]interface{}{
				"type":        "string",
				"description": "What the report back should contain (format, level of detail)",
			},
		},
		"required": []string{"targetAgent", "task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	targetAgent, _ := args["targetAgent"].(string)
	if targetAgent == "" {
		return ErrorResult("targetAgent is required")
	}
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	expectations, _ := args["expectations"].(string)

	if t.delegator == nil {
		return ErrorResult("delegation is not available in this run")
	}

	outcome, err := t.delegator.Delegate(ctx, DelegateRequest{
		TargetAgent:  targetAgent,
		Task:         task,
		Expectations: expectations,
	})
	if err != nil {
		return ErrorResult(err.Error())
	}

	return NewResult(fmt.Sprintf("Report from %s (delegation %s):\n%s",
		outcome.TargetAgent, outcome.DelegationID, outcome.Report))
}
