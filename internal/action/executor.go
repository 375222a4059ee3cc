package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/ioc"
	"github.com/p-blackswan/stm32pio/internal/metrics"
	"github.com/p-blackswan/stm32pio/internal/patch"
	"github.com/p-blackswan/stm32pio/internal/stage"
	"github.com/p-blackswan/stm32pio/internal/tool"
)

// outputTail is how many lines of a failed tool's output are logged.
const outputTail = 15

// Executor runs actions against a resolved configuration. It holds no
// per-project state; serialization is up to the caller.
type Executor struct {
	runner  tool.Runner
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewExecutor creates an Executor. m may be nil.
func NewExecutor(runner tool.Runner, m *metrics.Metrics, logger zerolog.Logger) *Executor {
	return &Executor{
		runner:  runner,
		metrics: m,
		logger:  logger.With().Str("component", "action").Logger(),
	}
}

// Run executes one action. On failure the error and its kind are recorded in
// the persisted configuration before returning; on success a previously
// recorded error is cleared.
func (e *Executor) Run(ctx context.Context, cfg *config.Config, name Name) error {
	if _, err := Parse(string(name)); err != nil {
		return err
	}
	log := e.logger.With().Str("action", string(name)).Str("project", cfg.Dir()).Logger()
	start := time.Now()
	log.Info().Msg("starting")

	err := e.dispatch(ctx, cfg, name, log)
	if err == nil {
		err = e.postCheck(cfg, name)
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	e.metrics.RecordAction(string(name), result, time.Since(start).Seconds())

	e.recordLastError(cfg, name, err, log)

	if err != nil {
		log.Error().Err(err).Str("kind", perrors.Kind(err)).Dur("elapsed", time.Since(start)).Msg("failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("finished")
	return nil
}

func (e *Executor) dispatch(ctx context.Context, cfg *config.Config, name Name, log zerolog.Logger) error {
	switch name {
	case InitConfig:
		return e.initConfig(cfg)
	case Generate:
		return e.generate(ctx, cfg, log)
	case InitBuild:
		return e.initBuild(ctx, cfg, log)
	case Patch:
		return e.patch(cfg, log)
	case Build:
		return e.build(ctx, cfg, log)
	case Clean:
		return e.clean(ctx, cfg, log)
	case Validate:
		_, err := e.Validate(ctx, cfg)
		return err
	default:
		return fmt.Errorf("%w: %q", perrors.ErrUnknownAction, name)
	}
}

// postCheck verifies that the action's own stage test now passes.
func (e *Executor) postCheck(cfg *config.Config, name Name) error {
	target, ok := name.Target()
	if !ok {
		return nil
	}
	if v := stage.Compute(cfg); !v.Raw(target) {
		return fmt.Errorf("%w: %s", perrors.ErrStageNotReached, target)
	}
	return nil
}

func (e *Executor) recordLastError(cfg *config.Config, name Name, err error, log zerolog.Logger) {
	if err == nil {
		// clean must leave the directory as it found the keep-list
		if name == Clean || config.PersistedLastError(cfg.Dir()) == "" {
			return
		}
		if werr := cfg.WithoutLastError().Write(); werr != nil {
			log.Warn().Err(werr).Msg("could not clear last error")
		}
		return
	}
	if werr := cfg.WithLastError(LastErrorMessage(name, err)).Write(); werr != nil {
		log.Warn().Err(werr).Msg("could not record last error")
	}
}

// LastErrorMessage is the single-line form of err stored in the
// configuration file.
func LastErrorMessage(name Name, err error) string {
	msg := fmt.Sprintf("%s: %v (cause: %s)", name, err, perrors.Kind(err))
	return strings.Join(strings.Fields(msg), " ")
}

func (e *Executor) initConfig(cfg *config.Config) error {
	return cfg.WithoutLastError().Write()
}

func (e *Executor) generate(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	iocPath, err := cfg.IOCFile()
	if err != nil {
		return err
	}
	s := cfg.Settings()
	if s.InspectIOC {
		e.inspect(iocPath, s.Board, log)
	}

	script, err := os.CreateTemp("", "stm32pio-cubemx-*.txt")
	if err != nil {
		return fmt.Errorf("create generator script: %w", err)
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(cfg.Expand(s.CubeMXScript, iocPath) + "\n"); err != nil {
		script.Close()
		return fmt.Errorf("write generator script: %w", err)
	}
	if err := script.Close(); err != nil {
		return fmt.Errorf("write generator script: %w", err)
	}

	return e.runTool(ctx, tool.CubeMXCommand(s, cfg.Dir(), script.Name()), tool.CubeMXFailureMarkers, log)
}

func (e *Executor) initBuild(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	s := cfg.Settings()
	if s.Board == "" {
		ev := log.Warn()
		if iocPath, err := cfg.IOCFile(); err == nil {
			if info, err := ioc.Inspect(iocPath); err == nil && info.BoardHint() != "" {
				ev = ev.Str("mcu", info.MCU).Str("hint", info.BoardHint())
			}
		}
		ev.Msg("no board is set, PlatformIO will not declare a build environment")
	} else if s.InspectIOC {
		if iocPath, err := cfg.IOCFile(); err == nil {
			e.inspect(iocPath, s.Board, log)
		}
	}
	return e.runTool(ctx, tool.PlatformIOInitCommand(s, cfg.Dir(), s.Board), nil, log)
}

func (e *Executor) patch(cfg *config.Config, log zerolog.Logger) error {
	s := cfg.Settings()
	target := filepath.Join(cfg.Dir(), config.PlatformIOFile)
	if err := patch.ApplyFile(target, []byte(s.PlatformIOPatch)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist, run %s first: %w", perrors.ErrPrecondition, config.PlatformIOFile, InitBuild, err)
		}
		return err
	}
	removeScaffoldDirs(cfg.Dir(), s.PlatformIOPatch, log)
	return nil
}

func (e *Executor) build(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if !stage.Compute(cfg).Get(stage.Patched) {
		log.Warn().Msg("project is not patched yet, the build will probably fail")
	}
	return e.runTool(ctx, tool.PlatformIORunCommand(cfg.Settings(), cfg.Dir()), nil, log)
}

func (e *Executor) runTool(ctx context.Context, inv tool.Invocation, markers []string, log zerolog.Logger) error {
	res, runErr := e.runner.Run(ctx, inv)
	err := tool.Check(inv, res, runErr, markers)
	e.metrics.RecordToolRun(inv.Tool, tool.Outcome(err))
	if err != nil && res.Output != "" {
		log.Warn().Str("tool", inv.Tool).Str("output", tail(res.Output, outputTail)).Msg("tool output")
	}
	return err
}

func (e *Executor) inspect(iocPath, board string, log zerolog.Logger) {
	info, err := ioc.Inspect(iocPath)
	if err != nil {
		log.Warn().Err(err).Msg("could not inspect description file")
		return
	}
	for _, w := range info.Warnings {
		log.Warn().Str("file", filepath.Base(iocPath)).Msg(w)
	}
	if board == "" && info.BoardHint() != "" {
		log.Info().Str("mcu", info.MCU).Msg("no board is set, pick a PlatformIO board matching this MCU")
	}
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
