package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
	"github.com/p-blackswan/stm32pio/internal/project"
	"github.com/p-blackswan/stm32pio/internal/stage"
)

// runOverrides are applied through Project.Run so that they are remembered
// in stm32pio.ini.
func (a *app) runOverrides() config.Layer {
	if a.board == "" {
		return nil
	}
	return a.overrides()
}

func (a *app) runActions(p *project.Project, cmd *cobra.Command, names ...action.Name) error {
	for i, n := range names {
		overrides := a.runOverrides()
		if i > 0 {
			overrides = nil
		}
		if err := p.Run(cmd.Context(), n, overrides); err != nil {
			return err
		}
	}
	a.logStage(p.Stage())
	return nil
}

func (a *app) logStage(v stage.Vector) {
	ev := a.logger.Info().Str("stage", v.Current().String())
	if err := v.Err(); err != nil {
		ev = ev.AnErr("problem", err)
	}
	ev.Msg(v.Current().Description())
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create stm32pio.ini in the project directory",
		Long: `Resolve the configuration (defaults, environment, flags) and save it to
stm32pio.ini. Edit the file afterwards to tweak the generator script or the
platformio.ini patch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(func(p *project.Project) error {
				if a.board == "" {
					a.logger.Warn().Msg("no board given, set it later with -b or in stm32pio.ini")
				}
				return a.runActions(p, cmd, action.InitConfig)
			})
		},
	}
}

func (a *app) actionCmd(use, short string, name action.Name) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(func(p *project.Project) error {
				return a.runActions(p, cmd, name)
			})
		},
	}
}

func (a *app) newCmd() *cobra.Command {
	var withBuild bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a complete PlatformIO project from the .ioc file",
		Long: `Run init, generate, pio-init and patch one after another, stopping at the
first failure. With --with-build the project is built as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(func(p *project.Project) error {
				return a.runActions(p, cmd, action.Pipeline(withBuild)...)
			})
		},
	}
	cmd.Flags().BoolVar(&withBuild, "with-build", false, "build the project after patching")
	return cmd
}

func (a *app) cleanCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove everything from the project directory except the keep-list",
		Long: `Delete every file and directory in the project except those listed in
cleanup_ignore (by default only the .ioc file). When cleanup_use_git is set,
"git clean" is used instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(func(p *project.Project) error {
				if !quiet && isTerminal(a.stdin) && !a.confirm(fmt.Sprintf("Remove generated files in %s?", p.Dir())) {
					a.logger.Info().Msg("clean aborted")
					return nil
				}
				if err := p.Clean(cmd.Context()); err != nil {
					return err
				}
				a.logStage(p.Stage())
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not ask for confirmation")
	return cmd
}

func (a *app) confirm(question string) bool {
	fmt.Fprintf(a.stderr, "%s [y/N] ", question)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the configured tools can be launched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withProject(func(p *project.Project) error {
				checks, err := p.Validate(cmd.Context())
				for _, c := range checks {
					mark := "ok"
					if !c.OK() {
						mark = "FAILED: " + c.Err.Error()
					}
					if c.Command != "" {
						fmt.Fprintf(a.stdout, "%-10s %s (%s)\n", c.Name, mark, c.Command)
					} else {
						fmt.Fprintf(a.stdout, "%-10s %s\n", c.Name, mark)
					}
				}
				return err
			})
		},
	}
}
