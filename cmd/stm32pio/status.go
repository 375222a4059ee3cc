package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/stm32pio/internal/project"
	"github.com/p-blackswan/stm32pio/internal/stage"
)

// stageState is one line of a status report.
type stageState struct {
	Stage string `json:"stage" yaml:"stage"`
	Done  bool   `json:"done" yaml:"done"`
}

// statusReport is the stage vector of one project in a printable form.
type statusReport struct {
	Dir          string       `json:"dir" yaml:"dir"`
	Current      string       `json:"current" yaml:"current"`
	Stages       []stageState `json:"stages" yaml:"stages"`
	Inconsistent bool         `json:"inconsistent,omitempty" yaml:"inconsistent,omitempty"`
	Problem      string       `json:"problem,omitempty" yaml:"problem,omitempty"`
	LastError    string       `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	vector stage.Vector
}

func newStatusReport(p *project.Project) statusReport {
	v := p.Stage()
	r := statusReport{
		Dir:          p.Dir(),
		Current:      v.Current().String(),
		Inconsistent: v.Inconsistent(),
		LastError:    p.Config().Settings().LastError,
		vector:       v,
	}
	for _, s := range stage.Chain {
		r.Stages = append(r.Stages, stageState{Stage: s.String(), Done: v.Get(s)})
	}
	if err := v.Err(); err != nil {
		r.Problem = err.Error()
	}
	return r
}

// failedStatusReport describes a directory that could not be opened.
func failedStatusReport(dir string, err error) statusReport {
	if abs, aerr := filepath.Abs(dir); aerr == nil {
		dir = abs
	}
	r := statusReport{Dir: dir, Current: stage.InitError.String(), Problem: err.Error()}
	for _, s := range stage.Chain {
		r.Stages = append(r.Stages, stageState{Stage: s.String()})
	}
	return r
}

func (a *app) statusCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the completed stages of one or more projects",
		Long: `Inspect each project directory (repeat -d for several) and print which
stages are complete. A directory that cannot be opened is reported as
INIT_ERROR. Nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			switch output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (text, json, yaml)", output)
			}
			dirs := a.dirs
			if len(dirs) == 0 {
				dirs = []string{"."}
			}

			reports := make([]statusReport, len(dirs))
			var g errgroup.Group
			g.SetLimit(8)
			for i, dir := range dirs {
				g.Go(func() error {
					p, err := project.Open(a.projectOptions(dir))
					if err != nil {
						a.logger.Warn().Err(err).Str("dir", dir).Msg("could not open project")
						reports[i] = failedStatusReport(dir, err)
						return nil
					}
					defer p.Close()
					reports[i] = newStatusReport(p)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return writeStatus(a.stdout, output, reports)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func writeStatus(w io.Writer, format string, reports []statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(reports) == 1 {
			return enc.Encode(reports[0])
		}
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		if len(reports) == 1 {
			return enc.Encode(reports[0])
		}
		return enc.Encode(reports)
	}

	for i, r := range reports {
		if len(reports) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s\n", r.Dir)
		}
		fmt.Fprint(w, r.vector.String())
		if r.Problem != "" {
			fmt.Fprintf(w, "%s: %s\n", r.Current, r.Problem)
		}
		if r.LastError != "" {
			fmt.Fprintf(w, "last error: %s\n", r.LastError)
		}
	}
	return nil
}
