package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ormasoftchile/skillrun/pkg/template"
)

// CommandResult holds the output of a single command execution.
type CommandResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CommandExecutor abstracts process execution so tests and dry runs can
// substitute canned results.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error)
}

// RealExecutor runs commands via os/exec.
type RealExecutor struct{}

// Execute runs command with args. A non-zero exit is not an error here;
// it is reported through CommandResult.ExitCode.
func (RealExecutor) Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("execute command %q: %w", command, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// NewExecTool wraps an argv template as a tool Func. Each argv element
// is rendered against {"args": <call args>} before execution, so a
// definition like ["glab", "mr", "view", "{{ args.mr_id }}"] picks up
// its arguments per call. Exit 0 returns trimmed stdout; a non-zero
// exit returns an error carrying stderr (or stdout when stderr is
// empty) for the failure classifier.
func NewExecTool(name string, argv []string, executor CommandExecutor, resolver *template.Resolver) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if len(argv) == 0 {
			return nil, fmt.Errorf("tool %q: empty argv", name)
		}
		env := map[string]any{"args": args}
		resolved := make([]string, len(argv))
		for i, a := range argv {
			resolved[i] = resolver.Render(a, env)
		}

		result, err := executor.Execute(ctx, resolved[0], resolved[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		if result.ExitCode != 0 {
			detail := strings.TrimSpace(string(result.Stderr))
			if detail == "" {
				detail = strings.TrimSpace(string(result.Stdout))
			}
			return nil, fmt.Errorf("tool %q exited with code %d: %s", name, result.ExitCode, detail)
		}
		return strings.TrimSpace(string(result.Stdout)), nil
	}
}
