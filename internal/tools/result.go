package tools

// Result is the unified return type from tool execution. Tool failures
// are values, not Go errors: IsError results are fed back to the model
// as feedback so the loop can adjust, never aborted on.
type Result struct {
	ForLLM  string `json:"for_llm"`  // content appended to the conversation
	IsError bool   `json:"is_error"` // marks failure feedback
	Err     error  `json:"-"`        // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
