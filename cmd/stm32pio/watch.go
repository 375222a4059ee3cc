package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
	"github.com/p-blackswan/stm32pio/internal/health"
	"github.com/p-blackswan/stm32pio/internal/project"
	"github.com/p-blackswan/stm32pio/internal/queue"
	"github.com/p-blackswan/stm32pio/internal/stage"
	"github.com/p-blackswan/stm32pio/internal/stagecache"
	"github.com/p-blackswan/stm32pio/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		debounce    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch [action...]",
		Short: "Follow the project stage as files change",
		Long: `Queue the given actions (if any), then keep watching the project directory
and print the stage whenever it changes. Stops on Ctrl-C.`,
		Example: "  stm32pio watch generate pio-init patch build",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]action.Name, 0, len(args))
			for _, arg := range args {
				n, err := action.Parse(arg)
				if err != nil {
					return err
				}
				names = append(names, n)
			}
			return a.withProject(func(p *project.Project) error {
				return a.watch(cmd, p, names, debounce, metricsAddr)
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "quiet period before the stage is re-evaluated")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /health and /ready on this address, e.g. :9102")
	return cmd
}

func (a *app) watch(cmd *cobra.Command, p *project.Project, names []action.Name, debounce time.Duration, metricsAddr string) error {
	ctx := cmd.Context()
	logger := a.logger.With().Str("component", "watch").Logger()
	cache := stagecache.New(1)

	var (
		mu   sync.Mutex
		last string
	)
	report := func() {
		v := cache.Load(p.Config())
		mu.Lock()
		defer mu.Unlock()
		if s := v.String(); s != last {
			last = s
			a.printStage(v)
		}
	}

	q := queue.New(p, queue.Config{}, a.logger)
	q.SetInvalidator(cache)
	q.SetMetrics(a.metrics)
	q.SetNotifier(queue.NotifierFunc(func(job *queue.Job) {
		ev := logger.Info()
		if job.Status != queue.StatusCompleted {
			ev = logger.Warn()
		}
		ev.Str("action", string(job.Action)).
			Str("status", string(job.Status)).
			Dur("duration", job.Duration()).
			Str("error", job.Error).
			Msg("job finished")
		report()
	}))
	q.Start(ctx)
	defer q.Stop()

	w, err := watch.New(p.Dir(), func(dir string, paths []string) {
		logger.Debug().Strs("paths", paths).Msg("project changed")
		cache.Invalidate(dir)
		report()
	}, watch.Options{Debounce: debounce}, a.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if metricsAddr != "" {
		checker := health.NewChecker(a.logger)
		checker.Register("project", health.StageCheck(
			func() stage.Vector { return cache.Load(p.Config()) },
			func() string { return config.PersistedLastError(p.Dir()) },
		))
		checker.Register("queue", func(context.Context) health.Result {
			if !q.Running() {
				return health.Result{Status: health.StatusDown, Detail: "queue stopped"}
			}
			return health.Result{Status: health.StatusOK, Detail: fmt.Sprintf("%d pending", q.Pending())}
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.Handle("/health", health.LivenessHandler())
		mux.Handle("/ready", checker.ReadinessHandler())
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
	}

	report()
	if len(names) > 0 {
		if _, err := q.SubmitAll(names...); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info().Msg("stopped watching")
	return nil
}

func (a *app) printStage(v stage.Vector) {
	fmt.Fprintf(a.stdout, "%s\n%s\n", time.Now().Format("15:04:05"), v.String())
}
