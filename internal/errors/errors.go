// Package errors provides the error kinds shared by the project engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrBusy              = errors.New("another action is already running")
	ErrUnknownAction     = errors.New("unknown action")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrPrecondition      = errors.New("precondition not met")
	ErrInconsistentState = errors.New("project stages are inconsistent")
	ErrNoDescription     = errors.New("no hardware-description file found")
	ErrAmbiguous         = errors.New("more than one hardware-description file found")
	ErrStageNotReached   = errors.New("expected stage not reached")
)

// ResolutionError reports that the hardware-description file could not be
// resolved in a project directory.
type ResolutionError struct {
	Dir        string
	Candidates []string
	Err        error
}

func (e *ResolutionError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("resolve description file in %s: %v (%s)", e.Dir, e.Err, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("resolve description file in %s: %v", e.Dir, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConfigParseError reports an unparseable structured text file.
type ConfigParseError struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *ConfigParseError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<text>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", loc, e.Msg)
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// ToolInvocationError reports an external tool that exited non-zero or whose
// captured output carried a known failure marker.
type ToolInvocationError struct {
	Tool     string
	ExitCode int
	Marker   string
	Output   string
	Err      error
}

func (e *ToolInvocationError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("%s reported failure (exit %d, marker %q)", e.Tool, e.ExitCode, e.Marker)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed (exit %d): %v", e.Tool, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s failed (exit %d)", e.Tool, e.ExitCode)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// PatchTargetError reports a patch applied to a malformed target file.
type PatchTargetError struct {
	Path string
	Err  error
}

func (e *PatchTargetError) Error() string {
	return fmt.Sprintf("patch target %s is malformed: %v", e.Path, e.Err)
}

func (e *PatchTargetError) Unwrap() error { return e.Err }

// Kind returns a short name for the most specific known kind in err's chain.
func Kind(err error) string {
	var (
		resErr   *ResolutionError
		parseErr *ConfigParseError
		toolErr  *ToolInvocationError
		patchErr *PatchTargetError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &patchErr):
		return "PatchTargetError"
	case errors.As(err, &toolErr):
		return "ToolInvocationError"
	case errors.As(err, &resErr):
		return "ResolutionError"
	case errors.As(err, &parseErr):
		return "ConfigParseError"
	case errors.Is(err, ErrInconsistentState):
		return "StateInconsistencyError"
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	case errors.Is(err, ErrPrecondition):
		return "PreconditionError"
	case errors.Is(err, ErrStageNotReached):
		return "PostCheckError"
	case errors.Is(err, ErrBusy):
		return "BusyError"
	default:
		return "Error"
	}
}
