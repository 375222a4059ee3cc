// Package queue runs the actions of one project strictly one after another
// on a background worker, in submission order.
//
// It serves front ends that must not block while an action runs: a request
// to run N stages becomes N sequential jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
	"github.com/p-blackswan/stm32pio/internal/metrics"
)

// ErrFull is returned when the queue cannot take more jobs.
var ErrFull = errors.New("action queue is full")

// ErrStopped is returned when submitting to a queue that is not running.
var ErrStopped = errors.New("action queue is not running")

// Runner executes one action of a project. *project.Project implements it.
type Runner interface {
	Dir() string
	Run(ctx context.Context, name action.Name, overrides config.Layer) error
}

// Notifier is called after every job reaches a terminal status.
type Notifier interface {
	NotifyJobCompletion(job *Job)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(job *Job)

// NotifyJobCompletion calls f.
func (f NotifierFunc) NotifyJobCompletion(job *Job) { f(job) }

// Invalidator forgets cached state of a project directory.
type Invalidator interface {
	Invalidate(dir string) bool
}

// Config holds queue options.
type Config struct {
	Size int
}

// Queue is a FIFO of actions for one project with a single worker.
type Queue struct {
	runner   Runner
	jobs     sync.Map // id -> *Job
	list     []*Job
	listMu   sync.RWMutex
	queue    chan *Job
	notifier Notifier
	cache    Invalidator
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	pending  atomic.Int64

	stateMu sync.Mutex // orders submissions against Start and Stop
}

// New creates a queue for runner's project.
func New(runner Runner, cfg Config, logger zerolog.Logger) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 64
	}
	return &Queue{
		runner: runner,
		queue:  make(chan *Job, cfg.Size),
		logger: logger.With().Str("component", "queue").Str("project", runner.Dir()).Logger(),
	}
}

// SetNotifier sets the completion notifier.
func (q *Queue) SetNotifier(n Notifier) { q.notifier = n }

// SetInvalidator sets the cache invalidated after every job.
func (q *Queue) SetInvalidator(c Invalidator) { q.cache = c }

// SetMetrics sets the metrics the queue depth is reported to.
func (q *Queue) SetMetrics(m *metrics.Metrics) { q.metrics = m }

// Start launches the worker.
func (q *Queue) Start(ctx context.Context) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if q.running.Swap(true) {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.worker(ctx)
	q.logger.Debug().Msg("queue started")
}

// Stop waits for the running job to finish and stops the worker. Jobs still
// pending are cancelled.
func (q *Queue) Stop() {
	q.stateMu.Lock()
	if !q.running.Swap(false) {
		q.stateMu.Unlock()
		return
	}
	q.stateMu.Unlock()

	q.cancel()
	q.wg.Wait()
	for {
		select {
		case job := <-q.queue:
			q.cancelJob(job, "queue stopped")
		default:
			q.logger.Debug().Msg("queue stopped")
			return
		}
	}
}

// Submit enqueues one action.
func (q *Queue) Submit(name action.Name, overrides config.Layer) (*Job, error) {
	jobs, err := q.enqueue("", []action.Name{name}, overrides)
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// SubmitAll enqueues names as one batch. When a job of the batch fails, the
// rest of the batch is cancelled.
func (q *Queue) SubmitAll(names ...action.Name) ([]*Job, error) {
	return q.enqueue(uuid.New().String(), names, nil)
}

func (q *Queue) enqueue(batch string, names []action.Name, overrides config.Layer) ([]*Job, error) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if !q.running.Load() {
		return nil, ErrStopped
	}
	for _, n := range names {
		if _, err := action.Parse(string(n)); err != nil {
			return nil, err
		}
	}
	if free := cap(q.queue) - len(q.queue); len(names) > free {
		return nil, fmt.Errorf("%w: %d slots left, %d requested", ErrFull, free, len(names))
	}

	snaps := make([]*Job, 0, len(names))
	for _, n := range names {
		job := &Job{
			ID:        uuid.New().String(),
			Batch:     batch,
			Action:    n,
			Status:    StatusPending,
			Overrides: overrides,
			CreatedAt: time.Now().UTC(),
		}
		q.jobs.Store(job.ID, job)
		q.listMu.Lock()
		q.list = append(q.list, job)
		q.listMu.Unlock()

		// snapshot before enqueueing, the worker may pick it up immediately
		snaps = append(snaps, job.Snapshot())
		q.pending.Add(1)
		q.reportDepth()

		select {
		case q.queue <- job:
			q.logger.Info().Str("job_id", job.ID).Str("action", string(n)).Msg("action enqueued")
		default:
			q.pending.Add(-1)
			q.reportDepth()
			job.finish(StatusFailed, ErrFull)
			return snaps, ErrFull
		}
	}
	return snaps, nil
}

// Get returns a snapshot of the job with id.
func (q *Queue) Get(id string) (*Job, bool) {
	v, ok := q.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job).Snapshot(), true
}

// Cancel cancels a pending job.
func (q *Queue) Cancel(id string) (*Job, error) {
	v, ok := q.jobs.Load(id)
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	job := v.(*Job)
	job.mu.Lock()
	if job.Status != StatusPending {
		status := job.Status
		job.mu.Unlock()
		return job.Snapshot(), fmt.Errorf("job %s is %s, only pending jobs can be cancelled", id, status)
	}
	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	job.mu.Unlock()

	q.logger.Info().Str("job_id", id).Msg("job cancelled")
	return job.Snapshot(), nil
}

// List returns snapshots of every job in submission order.
func (q *Queue) List() []*Job {
	q.listMu.RLock()
	defer q.listMu.RUnlock()
	out := make([]*Job, len(q.list))
	for i, j := range q.list {
		out[i] = j.Snapshot()
	}
	return out
}

// Pending is the number of jobs not yet started.
func (q *Queue) Pending() int { return int(q.pending.Load()) }

// Running reports whether the worker is started.
func (q *Queue) Running() bool { return q.running.Load() }

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.queue:
			q.pending.Add(-1)
			q.reportDepth()
			q.execute(ctx, job)
		}
	}
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	job.mu.Lock()
	if job.Status == StatusCancelled {
		job.mu.Unlock()
		q.notify(job)
		return
	}
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.mu.Unlock()

	log := q.logger.With().Str("job_id", job.ID).Str("action", string(job.Action)).Logger()
	log.Debug().Msg("executing job")

	// a started action always runs to completion
	err := q.runner.Run(context.WithoutCancel(ctx), job.Action, job.Overrides)
	if q.cache != nil {
		q.cache.Invalidate(q.runner.Dir())
	}

	if err != nil {
		job.finish(StatusFailed, err)
		log.Error().Err(err).Msg("job failed")
		q.cancelBatch(job)
	} else {
		job.finish(StatusCompleted, nil)
		log.Info().Dur("elapsed", job.Duration()).Msg("job completed")
	}
	q.notify(job)
}

// cancelBatch cancels the pending jobs submitted together with failed.
func (q *Queue) cancelBatch(failed *Job) {
	if failed.Batch == "" {
		return
	}
	q.listMu.RLock()
	defer q.listMu.RUnlock()
	for _, j := range q.list {
		if j.Batch != failed.Batch || j == failed {
			continue
		}
		j.mu.Lock()
		if j.Status == StatusPending {
			now := time.Now().UTC()
			j.Status = StatusCancelled
			j.Error = fmt.Sprintf("%s failed", failed.Action)
			j.CompletedAt = &now
		}
		j.mu.Unlock()
	}
}

func (q *Queue) cancelJob(job *Job, reason string) {
	q.pending.Add(-1)
	q.reportDepth()
	job.mu.Lock()
	if job.Status == StatusPending {
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.Error = reason
		job.CompletedAt = &now
	}
	job.mu.Unlock()
	q.notify(job)
}

func (q *Queue) notify(job *Job) {
	if q.notifier != nil {
		q.notifier.NotifyJobCompletion(job.Snapshot())
	}
}

func (q *Queue) reportDepth() {
	q.metrics.SetQueueDepth(q.runner.Dir(), int(q.pending.Load()))
}
