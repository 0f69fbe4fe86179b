package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

const jobColumns = `id, status, failure_reason, stage, progress, max_progress, status_url, resume_url,
	result_url, name, type, user_id, created_at, updated_at, restarted_at, finished_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.Status, &j.FailureReason, &j.Stage, &j.Progress, &j.MaxProgress, &j.StatusURL,
		&j.ResumeURL, &j.ResultURL, &j.Name, &j.Type, &j.UserID, &j.CreatedAt, &j.UpdatedAt, &j.RestartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a job.
func (r *Repository) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, j.ID, j.Status, j.FailureReason, j.Stage, j.Progress, j.MaxProgress, j.StatusURL, j.ResumeURL,
		j.ResultURL, j.Name, j.Type, j.UserID, j.CreatedAt, j.UpdatedAt, j.RestartedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by id.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		return nil, notFound("job "+id, err)
	}
	return j, nil
}

// UpdateJob replaces a stored job.
func (r *Repository) UpdateJob(ctx context.Context, j *model.Job) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status=$2, failure_reason=$3, stage=$4, progress=$5, max_progress=$6, status_url=$7,
			resume_url=$8, result_url=$9, name=$10, updated_at=$11, restarted_at=$12, finished_at=$13
		WHERE id=$1
	`, j.ID, j.Status, j.FailureReason, j.Stage, j.Progress, j.MaxProgress, j.StatusURL,
		j.ResumeURL, j.ResultURL, j.Name, j.UpdatedAt, j.RestartedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return affected("job "+j.ID, tag.RowsAffected())
}

// ListJobsByStatus returns the jobs in any of statuses, oldest first.
func (r *Repository) ListJobsByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.Job, error) {
	want := make([]string, len(statuses))
	for i, s := range statuses {
		want[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ANY($1) ORDER BY created_at`, want)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
