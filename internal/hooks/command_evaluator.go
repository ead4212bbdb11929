package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const defaultTimeoutSeconds = 60

// CommandEvaluator runs a shell command to validate a report.
// Exit 0 = pass, non-zero = fail. Stderr content is used as feedback.
type CommandEvaluator struct {
	workdir string
}

// NewCommandEvaluator creates a command evaluator rooted at workdir.
func NewCommandEvaluator(workdir string) *CommandEvaluator {
	return &CommandEvaluator{workdir: workdir}
}

func (ce *CommandEvaluator) Evaluate(ctx context.Context, hook HookConfig, hctx HookContext) (*HookResult, error) {
	if hook.Command == "" {
		return nil, fmt.Errorf("command hook %q has empty command", hook.Name)
	}

	timeout := hook.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", hook.Command)
	cmd.Dir = ce.workdir

	// The report arrives on stdin; everything else as environment.
	cmd.Stdin = strings.NewReader(hctx.Report)
	cmd.Env = append(cmd.Environ(),
		"HOOK_EVENT="+hctx.Event,
		"HOOK_FROM_AGENT="+hctx.FromAgent,
		"HOOK_TO_AGENT="+hctx.ToAgent,
		"HOOK_TASK="+hctx.Task,
		"HOOK_ITERATIONS="+strconv.Itoa(hctx.Iterations),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return &HookResult{Passed: true}, nil
	}

	feedback := strings.TrimSpace(stderr.String())
	if feedback == "" {
		feedback = fmt.Sprintf("command %q exited with error: %v", hook.Command, err)
	}

	return &HookResult{Passed: false, Feedback: feedback}, nil
}
