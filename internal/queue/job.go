package queue

import (
	"sync"
	"time"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one queued action.
type Job struct {
	mu          sync.RWMutex
	ID          string       `json:"id"`
	Batch       string       `json:"batch,omitempty"`
	Action      action.Name  `json:"action"`
	Status      Status       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Overrides   config.Layer `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	err         error
}

// Err is the error the action failed with.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Snapshot returns a copy that is safe to read without holding locks.
func (j *Job) Snapshot() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &Job{
		ID:          j.ID,
		Batch:       j.Batch,
		Action:      j.Action,
		Status:      j.Status,
		Error:       j.Error,
		Overrides:   j.Overrides,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		err:         j.err,
	}
}

// Duration is how long the job ran, or 0 if it has not finished.
func (j *Job) Duration() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

func (j *Job) finish(status Status, err error) {
	now := time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.CompletedAt = &now
	j.err = err
	if err != nil {
		j.Error = err.Error()
	}
}
