package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// Engine orchestrates hook evaluation for a set of events.
type Engine struct {
	evaluators map[HookType]HookEvaluator

	condMu  sync.Mutex
	condEnv *cel.Env
	conds   map[string]cel.Program
}

// NewEngine creates a hook engine with no evaluators registered.
func NewEngine() *Engine {
	return &Engine{
		evaluators: make(map[HookType]HookEvaluator),
		conds:      make(map[string]cel.Program),
	}
}

// RegisterEvaluator adds a hook type evaluator.
func (e *Engine) RegisterEvaluator(hookType HookType, eval HookEvaluator) {
	e.evaluators[hookType] = eval
}

// EvaluateHooks runs all hooks matching the given event.
// Returns the first blocking failure. Non-blocking failures are logged but
// don't stop evaluation. If all hooks pass (or none match), returns a
// passing result.
func (e *Engine) EvaluateHooks(ctx context.Context, hooks []HookConfig, event string, hctx HookContext) (*HookResult, error) {
	if SkipHooksFromContext(ctx) {
		return &HookResult{Passed: true}, nil
	}

	for _, hook := range hooks {
		if hook.Event != event {
			continue
		}

		applies, err := e.conditionHolds(hook, hctx)
		if err != nil {
			slog.Warn("hooks: bad condition, skipping",
				"hook", hook.Name, "condition", hook.Condition, "error", err)
			continue
		}
		if !applies {
			slog.Debug("hooks: condition not met", "hook", hook.Name, "event", event)
			continue
		}

		eval, ok := e.evaluators[hook.Type]
		if !ok {
			slog.Warn("hooks: unknown hook type, skipping", "hook", hook.Name, "type", hook.Type)
			continue
		}

		result, err := eval.Evaluate(ctx, hook, hctx)
		if err != nil {
			slog.Warn("hooks: evaluator error, skipping",
				"hook", hook.Name, "type", hook.Type, "error", err)
			continue
		}
		result.HookName = hook.Name

		if result.Passed {
			slog.Info("hooks: gate passed", "hook", hook.Name, "event", event)
			continue
		}

		if hook.Blocking {
			slog.Warn("hooks: blocking gate failed",
				"hook", hook.Name, "event", event, "feedback", truncate(result.Feedback, 200))
			return result, nil
		}

		slog.Warn("hooks: non-blocking gate failed",
			"hook", hook.Name, "event", event, "feedback", truncate(result.Feedback, 200))
	}

	return &HookResult{Passed: true}, nil
}

// EvaluateSingleHook evaluates one hook config against a context.
// Used by retry rounds that need to re-check a single gate.
func (e *Engine) EvaluateSingleHook(ctx context.Context, hook HookConfig, hctx HookContext) (*HookResult, error) {
	eval, ok := e.evaluators[hook.Type]
	if !ok {
		return nil, fmt.Errorf("unknown hook type: %s", hook.Type)
	}
	result, err := eval.Evaluate(ctx, hook, hctx)
	if err != nil {
		return nil, err
	}
	result.HookName = hook.Name
	return result, nil
}

// conditionHolds compiles (once) and evaluates the hook's Condition
// expression. Empty conditions always hold.
func (e *Engine) conditionHolds(hook HookConfig, hctx HookContext) (bool, error) {
	if hook.Condition == "" {
		return true, nil
	}

	e.condMu.Lock()
	prg, ok := e.conds[hook.Condition]
	if !ok {
		if e.condEnv == nil {
			env, err := newRuleEnv()
			if err != nil {
				e.condMu.Unlock()
				return false, err
			}
			e.condEnv = env
		}
		var err error
		prg, err = compileRule(e.condEnv, hook.Condition)
		if err != nil {
			e.condMu.Unlock()
			return false, err
		}
		e.conds[hook.Condition] = prg
	}
	e.condMu.Unlock()

	return evalRule(prg, hctx)
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}
