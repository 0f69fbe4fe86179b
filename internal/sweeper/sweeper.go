// Package sweeper fails import and export jobs that stopped making progress,
// for example because the worker running them died.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// TimeoutReason is recorded on swept jobs.
const TimeoutReason = "Job did not finish within %s and was stopped, it can be restarted"

// Notifier reports swept jobs to their submitter and the administrator.
type Notifier interface {
	JobFailed(ctx context.Context, job *model.Job, cause error)
}

// Sweeper periodically fails stale jobs.
type Sweeper struct {
	jobs       *jobs.Tracker
	notifier   Notifier
	staleAfter time.Duration
	cron       *cron.Cron
	log        zerolog.Logger
	now        func() time.Time
}

// New constructs a Sweeper. Active jobs not updated for staleAfter are
// failed.
func New(tracker *jobs.Tracker, notifier Notifier, staleAfter time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		jobs:       tracker,
		notifier:   notifier,
		staleAfter: staleAfter,
		cron:       cron.New(cron.WithSeconds()),
		log:        log,
		now:        time.Now,
	}
}

// Start schedules Sweep on schedule, a six field cron expression.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("job sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule job sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep fails every stale job and returns their ids.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	stale, err := s.jobs.Stale(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, j := range stale {
		reason := fmt.Sprintf(TimeoutReason, s.staleAfter)
		failed, err := s.jobs.Fail(ctx, j.ID, reason)
		if err != nil {
			return ids, err
		}
		s.log.Warn().Str("job_id", j.ID).Str("stage", j.Stage).Msg("stale job failed")
		s.notifier.JobFailed(ctx, failed, errors.New(reason))
		ids = append(ids, j.ID)
	}
	return ids, nil
}
