package agent

import (
	"sync"
	"time"
)

// ToolInvocation is one immutable ledger entry: what ran, with what
// arguments, what came back, how long it took.
type ToolInvocation struct {
	ToolName        string                 `json:"tool_name"`
	Parameters      map[string]interface{} `json:"parameters"`
	Result          string                 `json:"result"`
	IsError         bool                   `json:"is_error"`
	Timestamp       time.Time              `json:"timestamp"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
}

// Ledger is the append-only tool-invocation record of one execution context.
type Ledger struct {
	mu          sync.Mutex
	invocations []ToolInvocation
}

// Record appends an invocation.
func (l *Ledger) Record(inv ToolInvocation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invocations = append(l.invocations, inv)
}

// Snapshot returns a copy of all invocations so far.
func (l *Ledger) Snapshot() []ToolInvocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ToolInvocation, len(l.invocations))
	copy(out, l.invocations)
	return out
}

// Len returns the number of recorded invocations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.invocations)
}
