package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEvaluator checks a report against a CEL expression. The expression
// sees the same variables as hook conditions: from_agent, to_agent, task,
// report, iterations, duration_ms.
type CELEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewCELEvaluator builds the evaluator and its expression environment.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := newRuleEnv()
	if err != nil {
		return nil, err
	}
	return &CELEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (ce *CELEvaluator) Evaluate(ctx context.Context, hook HookConfig, hctx HookContext) (*HookResult, error) {
	if hook.Expression == "" {
		return nil, fmt.Errorf("cel hook %q has empty expression", hook.Name)
	}

	prg, err := ce.program(hook.Expression)
	if err != nil {
		return nil, err
	}

	ok, err := evalRule(prg, hctx)
	if err != nil {
		return nil, fmt.Errorf("cel hook %q: %w", hook.Name, err)
	}
	if ok {
		return &HookResult{Passed: true}, nil
	}

	feedback := hook.Message
	if feedback == "" {
		feedback = fmt.Sprintf("report rejected: expression %q evaluated to false", hook.Expression)
	}
	return &HookResult{Passed: false, Feedback: feedback}, nil
}

func (ce *CELEvaluator) program(expr string) (cel.Program, error) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if prg, ok := ce.programs[expr]; ok {
		return prg, nil
	}
	prg, err := compileRule(ce.env, expr)
	if err != nil {
		return nil, err
	}
	ce.programs[expr] = prg
	return prg, nil
}

// newRuleEnv declares the variables hook expressions may reference.
func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("from_agent", cel.StringType),
		cel.Variable("to_agent", cel.StringType),
		cel.Variable("task", cel.StringType),
		cel.Variable("report", cel.StringType),
		cel.Variable("iterations", cel.IntType),
		cel.Variable("duration_ms", cel.IntType),
	)
}

// compileRule type-checks an expression and requires a bool result.
func compileRule(env *cel.Env, expr string) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return prg, nil
}

func evalRule(prg cel.Program, hctx HookContext) (bool, error) {
	out, _, err := prg.Eval(map[string]interface{}{
		"from_agent":  hctx.FromAgent,
		"to_agent":    hctx.ToAgent,
		"task":        hctx.Task,
		"report":      hctx.Report,
		"iterations":  hctx.Iterations,
		"duration_ms": hctx.DurationMS,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return b, nil
}
