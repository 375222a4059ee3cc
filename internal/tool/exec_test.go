package tool

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_CombinedOutput(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), Invocation{Tool: "sh", Path: "sh", Args: []string{"-c", "echo out; echo err 1>&2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), Invocation{Tool: "sh", Path: "sh", Args: []string{"-c", "echo nope; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "nope", strings.TrimSpace(res.Output))
}

func TestExecRunner_WorkDir(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	r := NewExecRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), Invocation{Tool: "sh", Path: "sh", Args: []string{"-c", "pwd -P"}, Dir: dir})
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(res.Output))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), Invocation{Tool: "x", Path: "definitely-not-a-real-binary-xyz"})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecRunner_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecRunner(zerolog.Nop()).Run(ctx, Invocation{Path: "sh"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheck(t *testing.T) {
	inv := Invocation{Tool: CubeMX, Path: "STM32CubeMX"}

	assert.NoError(t, Check(inv, Result{Output: "all good"}, nil, CubeMXFailureMarkers))

	err := Check(inv, Result{Output: "The project uses an incompatible version of firmware"}, nil, CubeMXFailureMarkers)
	var te *perrors.ToolInvocationError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "incompatible version", te.Marker)
	assert.Equal(t, 0, te.ExitCode)

	err = Check(inv, Result{ExitCode: 2}, nil, nil)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.ExitCode)

	startErr := errors.New("exec: not found")
	err = Check(inv, Result{ExitCode: -1}, startErr, nil)
	assert.ErrorIs(t, err, startErr)
}

func TestCommands(t *testing.T) {
	s := config.Settings{PlatformIOCmd: "pio", CubeMXCmd: "/opt/cubemx/STM32CubeMX"}

	inv := CubeMXCommand(s, "/proj", "/tmp/script")
	assert.Equal(t, "/opt/cubemx/STM32CubeMX -q /tmp/script", inv.String())

	s.JavaCmd = "java"
	inv = CubeMXCommand(s, "/proj", "/tmp/script")
	assert.Equal(t, []string{"-jar", "/opt/cubemx/STM32CubeMX", "-q", "/tmp/script"}, inv.Args)
	assert.Equal(t, CubeMX, inv.Tool)

	inv = PlatformIOInitCommand(s, "/proj", "nucleo_f031k6")
	assert.Equal(t, "pio project init -d /proj -b nucleo_f031k6 -O framework=stm32cube", inv.String())
	inv = PlatformIOInitCommand(s, "/proj", "")
	assert.NotContains(t, inv.Args, "-b")

	assert.Equal(t, "pio run -d /proj", PlatformIORunCommand(s, "/proj").String())
	assert.Equal(t, "git clean -d --force -x", GitCleanCommand("/proj").String())
}

func TestRunnerFunc(t *testing.T) {
	var got Invocation
	r := RunnerFunc(func(_ context.Context, inv Invocation) (Result, error) {
		got = inv
		return Result{Output: "ok"}, nil
	})
	res, err := r.Run(context.Background(), Invocation{Tool: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, "x", got.Tool)
}
