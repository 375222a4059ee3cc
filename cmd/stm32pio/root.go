package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
	"github.com/p-blackswan/stm32pio/internal/metrics"
	"github.com/p-blackswan/stm32pio/internal/project"
	"github.com/p-blackswan/stm32pio/internal/tool"
)

// app carries flag values and shared dependencies of every command.
type app struct {
	dirs        []string
	board       string
	iocFile     string
	verbose     bool
	metricsFile string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// runner overrides real process launches in tests.
	runner  tool.Runner
	env     *config.Env
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		logger:  zerolog.Nop(),
		metrics: metrics.New(),
	}
}

// execute runs the command line args. Metrics are exported whether or not
// the command succeeded.
func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if a.metricsFile != "" {
		if werr := a.metrics.WriteTextfile(a.metricsFile); werr != nil {
			a.logger.Warn().Err(werr).Msg("could not export metrics")
		}
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stm32pio",
		Short:         "Keep an STM32CubeMX project and its PlatformIO build in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			a.env = env
			a.logger = newLogger(a.stderr, logLevel(a.verbose, env.LogLevel))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&a.dirs, "directory", "d", nil, "project directory (default: current directory)")
	pf.StringVarP(&a.board, "board", "b", "", "PlatformIO board identifier")
	pf.StringVar(&a.iocFile, "ioc-file", "", "STM32CubeMX .ioc file to use when the directory has several")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "print debug output, including the external tools' output")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		a.initCmd(),
		a.actionCmd("generate", "Generate code from the .ioc file with STM32CubeMX", action.Generate),
		a.actionCmd("pio-init", "Initialize a PlatformIO project", action.InitBuild),
		a.actionCmd("patch", "Patch platformio.ini to use the generated sources", action.Patch),
		a.actionCmd("build", "Build the project with PlatformIO", action.Build),
		a.newCmd(),
		a.cleanCmd(),
		a.statusCmd(),
		a.validateCmd(),
		a.watchCmd(),
	)
	return root
}

// dir returns the single project directory a command operates on.
func (a *app) dir() (string, error) {
	switch len(a.dirs) {
	case 0:
		return ".", nil
	case 1:
		return a.dirs[0], nil
	default:
		return "", fmt.Errorf("this command takes a single --directory, got %d", len(a.dirs))
	}
}

// overrides turns command-line values into a configuration layer.
func (a *app) overrides() config.Layer {
	l := config.Layer{}
	l.Set(config.SectionProject, config.KeyBoard, a.board)
	return l
}

func (a *app) projectOptions(dir string) project.Options {
	return project.Options{
		Dir:       dir,
		IOCFile:   a.iocFile,
		Env:       a.env,
		Overrides: a.overrides(),
		Runner:    a.runner,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}
}

// withProject opens the single project directory for the duration of fn.
func (a *app) withProject(fn func(*project.Project) error) error {
	dir, err := a.dir()
	if err != nil {
		return err
	}
	return project.With(a.projectOptions(dir), fn)
}
