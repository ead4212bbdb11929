package agent

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid agent profile or option set.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// CircularDelegationError reports a delegation that would close a cycle.
type CircularDelegationError struct {
	Agent string   // agent that would appear twice
	Chain []string // delegation chain at the point of detection
}

func (e *CircularDelegationError) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("circular delegation: agent %q would delegate to itself", e.Agent)
	}
	return fmt.Sprintf("circular delegation: agent %q already appears in chain %s",
		e.Agent, strings.Join(e.Chain, " -> "))
}

// ToolAccessError reports a tool outside the profile's permissions.
type ToolAccessError struct {
	Agent string
	Tool  string
}

func (e *ToolAccessError) Error() string {
	return fmt.Sprintf("agent %q has no access to tool %q", e.Agent, e.Tool)
}

// AgentExecutionError is a fatal loop failure: the model call failed and
// the run cannot continue. Tool failures never produce this.
type AgentExecutionError struct {
	Agent     string
	Iteration int
	Err       error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %q failed at iteration %d: %v", e.Agent, e.Iteration, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }
