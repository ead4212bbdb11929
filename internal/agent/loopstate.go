package agent

// DefaultMaxIterations bounds an agentic loop that never reports out.
const DefaultMaxIterations = 50

// LoopState is the pure state machine driving an agentic loop. All
// transitions are value semantics: they return a new state and never
// mutate the receiver. Lifecycle: idle (live, zero iterations) -> active
// (iterating) -> completed. No transition leaves completed.
type LoopState struct {
	Active             bool
	Completed          bool
	IterationCount     int
	MaxIterations      int
	HasToolInvocations bool
	ReportOutCalled    bool
	FinalReport        string
}

// NewLoopState returns the initial idle state. Non-positive maxIterations
// falls back to DefaultMaxIterations.
func NewLoopState(maxIterations int) LoopState {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return LoopState{Active: true, MaxIterations: maxIterations}
}

// StartIteration counts one loop turn.
func (s LoopState) StartIteration() LoopState {
	if s.Completed {
		return s
	}
	s.Active = true
	s.IterationCount++
	return s
}

// ShouldContinue reports whether the loop may run another iteration.
func (s LoopState) ShouldContinue() bool {
	return s.Active && s.IterationCount < s.MaxIterations && !s.ReportOutCalled
}

// Complete finishes the loop. reportOut records whether the report came
// from an explicit report-out call rather than a synthesized fallback.
func (s LoopState) Complete(report string, reportOut bool) LoopState {
	if s.Completed {
		return s
	}
	s.Active = false
	s.Completed = true
	s.FinalReport = report
	s.ReportOutCalled = reportOut
	return s
}

// WithToolInvocations marks that at least one tool ran during the loop.
func (s LoopState) WithToolInvocations() LoopState {
	s.HasToolInvocations = true
	return s
}

// HasReachedMax reports whether the iteration budget is spent.
func (s LoopState) HasReachedMax() bool {
	return s.IterationCount >= s.MaxIterations
}
