package tool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ExecRunner runs invocations as child processes.
//
// There is no timeout and no cancellation once a process has started: a
// half-finished code generation leaves the project in a worse state than
// waiting. A hang is attributable to the tool.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "tool").Logger()}
}

// Run starts inv and waits for it. Captured output is logged line by line at
// debug level.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	cmd := exec.CommandContext(context.WithoutCancel(ctx), inv.Path, inv.Args...)
	cmd.Dir = inv.Dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	r.logger.Debug().Str("tool", inv.Tool).Str("command", inv.String()).Str("dir", inv.Dir).Msg("starting")

	err := cmd.Run()
	output := buf.String()
	r.logLines(inv.Tool, output)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Result{Output: output}, nil
	case errors.As(err, &exitErr):
		return Result{ExitCode: exitErr.ExitCode(), Output: output}, nil
	default:
		return Result{ExitCode: -1, Output: output}, err
	}
}

func (r *ExecRunner) logLines(tool, output string) {
	if r.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			r.logger.Debug().Str("tool", tool).Msg(line)
		}
	}
}
