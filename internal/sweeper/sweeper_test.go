package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/storage"
)

type failedJobs struct {
	jobs   []*model.Job
	causes []error
}

func (f *failedJobs) JobFailed(_ context.Context, job *model.Job, cause error) {
	f.jobs = append(f.jobs, job)
	f.causes = append(f.causes, cause)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fail and report jobs that stopped updating", func(t *testing.T) {
		store := storage.NewMemoryStore()
		tracker := jobs.NewTracker(store)
		notifier := &failedJobs{}

		running, err := tracker.Create(ctx, "running", model.JobLoadExperiment, "u1@example.org")
		require.NoError(t, err)
		require.NoError(t, tracker.SetStatus(ctx, running.ID, model.JobStarted))
		done, err := tracker.Create(ctx, "done", model.JobLoadExperiment, "u1@example.org")
		require.NoError(t, err)
		_, err = tracker.Finish(ctx, done.ID)
		require.NoError(t, err)

		s := New(tracker, notifier, time.Hour, zerolog.Nop())

		ids, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Empty(t, notifier.jobs)

		s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		ids, err = s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{running.ID}, ids)

		job, err := tracker.Get(ctx, running.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobError, job.Status)
		assert.Contains(t, job.FailureReason, "1h0m0s")

		require.Len(t, notifier.jobs, 1)
		assert.Equal(t, running.ID, notifier.jobs[0].ID)
		assert.Equal(t, model.JobError, notifier.jobs[0].Status)
		assert.Contains(t, notifier.causes[0].Error(), "1h0m0s")

		job, err = tracker.Get(ctx, done.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobFinished, job.Status)
	})

	t.Run("Should leave long running jobs that still report progress", func(t *testing.T) {
		store := storage.NewMemoryStore()
		tracker := jobs.NewTracker(store)
		notifier := &failedJobs{}
		started := time.Now().UTC().Add(-7 * time.Hour)

		progressing := model.NewJob("j1", "large import", model.JobLoadExperiment, "u1@example.org", started)
		progressing.Status = model.JobStarted
		require.NoError(t, store.CreateJob(ctx, progressing))
		require.NoError(t, tracker.SetStage(ctx, "j1", "peptides", 1000))
		require.NoError(t, tracker.SetProgress(ctx, "j1", 600, 1000))

		stuck := model.NewJob("j2", "stuck import", model.JobLoadExperiment, "u1@example.org", started)
		stuck.Status = model.JobStarted
		require.NoError(t, store.CreateJob(ctx, stuck))

		ids, err := New(tracker, notifier, 6*time.Hour, zerolog.Nop()).Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"j2"}, ids)

		job, err := tracker.Get(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStarted, job.Status)
		assert.Equal(t, 600, job.Progress)
		require.Len(t, notifier.jobs, 1)
		assert.Equal(t, "j2", notifier.jobs[0].ID)
	})
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(jobs.NewTracker(storage.NewMemoryStore()), &failedJobs{}, time.Hour, zerolog.Nop())
	assert.Error(t, s.Start("not a schedule"))
	require.NoError(t, s.Start("0 */10 * * * *"))
	s.Stop()
}
