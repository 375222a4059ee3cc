package tool

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
)

// CubeMXFailureMarkers are substrings that reveal a failed generation even
// when CubeMX exits 0. The list is a best-effort heuristic and is not
// guaranteed to match every CubeMX release.
var CubeMXFailureMarkers = []string{
	"[ERROR]",
	"Exception in thread",
	"incompatible version",
	"is not compatible",
}

// PlatformIOFramework is the framework requested when scaffolding a project.
const PlatformIOFramework = "stm32cube"

// CubeMXCommand runs the generator in batch mode with scriptPath as its
// script. When java_cmd is set the generator is launched as a jar.
func CubeMXCommand(s config.Settings, dir, scriptPath string) Invocation {
	if s.JavaCmd != "" {
		return Invocation{
			Tool: CubeMX,
			Path: s.JavaCmd,
			Args: []string{"-jar", s.CubeMXCmd, "-q", scriptPath},
			Dir:  dir,
		}
	}
	return Invocation{Tool: CubeMX, Path: s.CubeMXCmd, Args: []string{"-q", scriptPath}, Dir: dir}
}

// PlatformIOInitCommand scaffolds a PlatformIO project in dir.
func PlatformIOInitCommand(s config.Settings, dir, board string) Invocation {
	args := []string{"project", "init", "-d", dir}
	if board != "" {
		args = append(args, "-b", board)
	}
	args = append(args, "-O", "framework="+PlatformIOFramework)
	return Invocation{Tool: PlatformIO, Path: s.PlatformIOCmd, Args: args, Dir: dir}
}

// PlatformIORunCommand builds the PlatformIO project in dir.
func PlatformIORunCommand(s config.Settings, dir string) Invocation {
	return Invocation{Tool: PlatformIO, Path: s.PlatformIOCmd, Args: []string{"run", "-d", dir}, Dir: dir}
}

// PlatformIOVersionCommand asks PlatformIO for its version.
func PlatformIOVersionCommand(s config.Settings) Invocation {
	return Invocation{Tool: PlatformIO, Path: s.PlatformIOCmd, Args: []string{"--version"}}
}

// JavaVersionCommand asks the Java runtime for its version.
func JavaVersionCommand(s config.Settings) Invocation {
	return Invocation{Tool: Java, Path: s.JavaCmd, Args: []string{"-version"}}
}

// GitCleanCommand removes every untracked and ignored file in dir.
func GitCleanCommand(dir string) Invocation {
	return Invocation{Tool: Git, Path: "git", Args: []string{"clean", "-d", "--force", "-x"}, Dir: dir}
}

// FindMarker returns the first marker found in output, or "".
func FindMarker(output string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(output, m) {
			return m
		}
	}
	return ""
}

// Check turns the outcome of a run into an error. A launch failure, a
// non-zero exit and a failure marker in the output all yield a
// ToolInvocationError.
func Check(inv Invocation, res Result, runErr error, markers []string) error {
	if runErr != nil {
		return &perrors.ToolInvocationError{Tool: inv.Tool, ExitCode: res.ExitCode, Output: res.Output, Err: runErr}
	}
	if res.ExitCode != 0 {
		return &perrors.ToolInvocationError{
			Tool:     inv.Tool,
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Err:      fmt.Errorf("%s exited with code %d", inv.Path, res.ExitCode),
		}
	}
	if m := FindMarker(res.Output, markers); m != "" {
		return &perrors.ToolInvocationError{Tool: inv.Tool, Marker: m, Output: res.Output}
	}
	return nil
}

// Outcome names the result of a run for metrics.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "failed"
}
