// Package project is the facade front ends use to drive one project
// directory: it owns the resolved configuration, answers stage queries and
// runs actions one at a time.
package project

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/metrics"
	"github.com/p-blackswan/stm32pio/internal/stage"
	"github.com/p-blackswan/stm32pio/internal/tool"
)

// Options controls Open.
type Options struct {
	Dir       string
	IOCFile   string
	Env       *config.Env
	Overrides config.Layer

	// Runner launches external tools; nil means real child processes.
	Runner  tool.Runner
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Result describes the most recently finished action.
type Result struct {
	Action action.Name
	Err    error
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Project is one opened project directory. It is safe for concurrent use;
// a second action started while one runs fails with ErrBusy.
type Project struct {
	dir    string
	exec   *action.Executor
	logger zerolog.Logger

	run sync.Mutex // held while an action runs

	mu      sync.Mutex
	cfg     *config.Config
	dirty   bool
	current action.Name
	last    *Result
	closed  bool
}

// Open resolves the configuration of opts.Dir. Nothing is written.
func Open(opts Options) (*Project, error) {
	cfg, err := config.Load(config.Options{
		Dir:       opts.Dir,
		IOCFile:   opts.IOCFile,
		Env:       opts.Env,
		Overrides: opts.Overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", opts.Dir, err)
	}

	logger := opts.Logger.With().Str("project", cfg.Dir()).Logger()
	runner := opts.Runner
	if runner == nil {
		runner = tool.NewExecRunner(logger)
	}

	p := &Project{
		dir:    cfg.Dir(),
		cfg:    cfg,
		exec:   action.NewExecutor(runner, opts.Metrics, logger),
		logger: logger.With().Str("component", "project").Logger(),
	}
	p.logger.Debug().Msg("opened")
	return p, nil
}

// With opens a project, passes it to fn and closes it on every exit path,
// persisting unsaved configuration changes.
func With(opts Options, fn func(*Project) error) error {
	p, err := Open(opts)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

// Dir is the absolute project directory, the project's identity.
func (p *Project) Dir() string { return p.dir }

// Config returns the current resolved configuration.
func (p *Project) Config() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Stage recomputes the completion vector from the live directory. A running
// action does not block the query.
func (p *Project) Stage() stage.Vector {
	return stage.Compute(p.Config())
}

// Running returns the action in progress, if any.
func (p *Project) Running() (action.Name, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != ""
}

// LastResult returns the outcome of the most recent action.
func (p *Project) LastResult() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// Run applies overrides on top of the configuration and runs one action.
// Overrides stay in effect for later actions and are persisted on Save or
// Close.
func (p *Project) Run(ctx context.Context, name action.Name, overrides config.Layer) error {
	if !p.run.TryLock() {
		cur, _ := p.Running()
		return fmt.Errorf("%w: %s is in progress", perrors.ErrBusy, cur)
	}
	defer p.run.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("project %s is closed", p.dir)
	}
	if len(config.Merge(overrides)) > 0 {
		p.cfg = p.cfg.With(overrides)
		p.dirty = true
	}
	cfg := p.cfg
	p.current = name
	p.mu.Unlock()

	err := p.exec.Run(ctx, cfg, name)

	p.mu.Lock()
	p.current = ""
	p.last = &Result{Action: name, Err: err}
	if err == nil && (name == action.InitConfig || name == action.Clean) {
		// init-config has just saved; clean must not bring the file back
		p.dirty = false
	}
	p.mu.Unlock()
	return err
}

// RunAll runs names in order and stops at the first failure.
func (p *Project) RunAll(ctx context.Context, names ...action.Name) error {
	for _, n := range names {
		if err := p.Run(ctx, n, nil); err != nil {
			return err
		}
	}
	return nil
}

// Validate probes the configured tools without changing the project.
func (p *Project) Validate(ctx context.Context) ([]action.Check, error) {
	if !p.run.TryLock() {
		return nil, perrors.ErrBusy
	}
	defer p.run.Unlock()
	return p.exec.Validate(ctx, p.Config())
}

// Clean removes everything but the keep-list from the project directory.
func (p *Project) Clean(ctx context.Context) error {
	return p.Run(ctx, action.Clean, nil)
}

// Save persists the configuration and clears a recorded last error.
func (p *Project) Save() error {
	return p.save(p.Config().WithoutLastError())
}

func (p *Project) save(cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := cfg.Write(); err != nil {
		return fmt.Errorf("save project %s: %w", p.dir, err)
	}
	p.cfg = cfg
	p.dirty = false
	return nil
}

// Dirty reports whether the configuration has unsaved changes.
func (p *Project) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// Close releases the project. Unsaved configuration changes are persisted on
// a best-effort basis; a failure is logged, never returned.
func (p *Project) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dirty := p.dirty
	p.mu.Unlock()

	if !dirty {
		return
	}
	// the file's last error is newer than the one loaded at Open
	cfg := p.Config().WithoutLastError()
	if msg := config.PersistedLastError(p.dir); msg != "" {
		cfg = cfg.WithLastError(msg)
	}
	if err := p.save(cfg); err != nil {
		p.logger.Warn().Err(err).Msg("could not persist configuration on close")
	}
}
