// Package hooks evaluates quality gates against delegated-agent reports.
// Gates come in three flavors (cel expression, shell command, reviewer
// agent) and new evaluators can be registered on the engine.
package hooks

import "context"

// EventReportReceived fires when a delegated agent submits its report.
const EventReportReceived = "report_received"

// HookType defines how a hook validates a report.
type HookType string

const (
	HookTypeCEL     HookType = "cel"     // CEL expression; true = pass
	HookTypeCommand HookType = "command" // shell command; exit 0 = pass
	HookTypeAgent   HookType = "agent"   // reviewer agent; "APPROVED" = pass
)

// HookConfig defines a single quality gate.
type HookConfig struct {
	Name  string   `json:"name"`
	Event string   `json:"event"` // e.g. "report_received"
	Type  HookType `json:"type"`
	// Condition is a CEL expression deciding whether this hook applies to
	// the report at all. Empty means it always applies.
	Condition      string `json:"condition,omitempty"`
	Expression     string `json:"expression,omitempty"` // for type=cel
	Command        string `json:"command,omitempty"`    // for type=command
	Agent          string `json:"agent,omitempty"`      // for type=agent
	Message        string `json:"message,omitempty"`    // cel rejection feedback
	Blocking       bool   `json:"blocking"`             // true = rejection sends the agent back for another round
	MaxRounds      int    `json:"max_rounds,omitempty"` // 0 = no retry rounds
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// HookContext carries the report under evaluation.
type HookContext struct {
	Event      string
	FromAgent  string // delegator
	ToAgent    string // agent that produced the report
	Task       string
	Report     string
	Iterations int
	DurationMS int64
	Metadata   map[string]interface{}
}

// HookResult is the evaluation outcome.
type HookResult struct {
	Passed   bool
	Feedback string // actionable feedback when Passed is false
	HookName string
}

// HookEvaluator evaluates one hook flavor.
type HookEvaluator interface {
	Evaluate(ctx context.Context, hook HookConfig, hctx HookContext) (*HookResult, error)
}
