// Package jobs persists the progress of asynchronous pipelines. Every
// mutation is a read-modify-write of one Job that is saved immediately, so a
// polling client sees each update as soon as it happens.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// ErrNoSuchJob is returned when a job id does not exist.
var ErrNoSuchJob = errors.New("no such job")

// PanicError is a recovered panic together with the stack it unwound.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// FailureReason formats cause the way it is stored on a failed job: the
// message followed by a stack trace. The stack is the one of the panic
// behind cause when there is one, else the caller's.
func FailureReason(cause error) string {
	stack := debug.Stack()
	var pe *PanicError
	if errors.As(cause, &pe) {
		stack = pe.Stack
	}
	return fmt.Sprintf("%s\n\n%s", cause, stack)
}

// Store persists jobs.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	ListJobsByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.Job, error)
}

// Tracker applies job lifecycle changes and persists them.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a new job in the configuration state.
func (t *Tracker) Create(ctx context.Context, name string, tp model.JobType, userID string) (*model.Job, error) {
	job := model.NewJob(uuid.NewString(), name, tp, userID, t.now())
	if err := t.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get returns a job by id.
func (t *Tracker) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := t.store.GetJob(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchJob, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

func (t *Tracker) mutate(ctx context.Context, id string, fn func(*model.Job)) (*model.Job, error) {
	job, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(job)
	job.UpdatedAt = t.now()
	if err := t.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	return job, nil
}

// SetStatus overwrites the job status.
func (t *Tracker) SetStatus(ctx context.Context, id string, status model.JobStatus) error {
	_, err := t.mutate(ctx, id, func(j *model.Job) { j.Status = status })
	return err
}

// SetStage records a new stage and its expected unit count.
func (t *Tracker) SetStage(ctx context.Context, id, stage string, maxProgress int) error {
	_, err := t.mutate(ctx, id, func(j *model.Job) { j.SetStage(stage, maxProgress) })
	return err
}

// SetProgress records progress within the current stage.
func (t *Tracker) SetProgress(ctx context.Context, id string, value, maxProgress int) error {
	_, err := t.mutate(ctx, id, func(j *model.Job) { j.SetProgress(value, maxProgress) })
	return err
}

// IncrementProgress advances progress by one unit.
func (t *Tracker) IncrementProgress(ctx context.Context, id string) error {
	_, err := t.mutate(ctx, id, func(j *model.Job) { j.IncrementProgress() })
	return err
}

// Fail marks the job as errored with reason.
func (t *Tracker) Fail(ctx context.Context, id, reason string) (*model.Job, error) {
	now := t.now()
	return t.mutate(ctx, id, func(j *model.Job) { j.Fail(reason, now) })
}

// Finish marks the job as finished.
func (t *Tracker) Finish(ctx context.Context, id string) (*model.Job, error) {
	now := t.now()
	return t.mutate(ctx, id, func(j *model.Job) { j.Finish(now) })
}

// Restart returns the job to the queue keeping its id.
func (t *Tracker) Restart(ctx context.Context, id string) (*model.Job, error) {
	now := t.now()
	return t.mutate(ctx, id, func(j *model.Job) { j.Restart(now) })
}

// Stale returns the active jobs that have not been written since cutoff. A
// job reporting progress is never stale, however long it has been running.
func (t *Tracker) Stale(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	active, err := t.store.ListJobsByStatus(ctx, model.JobInQueue, model.JobStarted)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	var out []*model.Job
	for _, j := range active {
		if j.LastActivity().Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

// SetURLs records where the job's status, restart action and result live.
func (t *Tracker) SetURLs(ctx context.Context, id, status, resume, result string) error {
	_, err := t.mutate(ctx, id, func(j *model.Job) {
		j.StatusURL, j.ResumeURL, j.ResultURL = status, resume, result
	})
	return err
}
