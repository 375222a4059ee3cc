// Package tool launches the external programs a project is driven by and
// interprets what they report.
package tool

import (
	"context"
	"strings"
)

// Tool names used in logs, errors and metrics.
const (
	CubeMX     = "cubemx"
	PlatformIO = "platformio"
	Java       = "java"
	Git        = "git"
)

// Invocation is one external process launch.
type Invocation struct {
	// Tool names the program for logs and errors.
	Tool string
	Path string
	Args []string
	// Dir is the working directory ("" = process cwd).
	Dir string
}

func (i Invocation) String() string {
	return strings.TrimSpace(i.Path + " " + strings.Join(i.Args, " "))
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	// Output is the combined stdout and stderr.
	Output string
}

// Runner launches an invocation and waits for it to finish. A non-zero exit
// is reported in Result, not as an error; err is reserved for processes that
// could not be started.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inv Invocation) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}
